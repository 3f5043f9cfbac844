package schema

// Roles accepted in users.role.
const (
	RoleOrganizer   = "organizer"
	RoleJudge       = "judge"
	RoleContestant  = "contestant"
	RoleEmcee       = "emcee"
	RoleTallyMaster = "tally_master"
	RoleAuditor     = "auditor"
	RoleBoard       = "board"
)

// Roles lists every valid role in display order.
var Roles = []string{RoleOrganizer, RoleJudge, RoleContestant, RoleEmcee, RoleTallyMaster, RoleAuditor, RoleBoard}

func id() Column { return Column{Name: "id", Type: UUID, NotNull: true} }

func createdAt() Column {
	return Column{Name: "created_at", Type: Timestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"}
}

func ref(col, table string, onDelete string) ForeignKey {
	return ForeignKey{Columns: []string{col}, RefTable: table, RefCols: []string{"id"}, OnDelete: onDelete}
}

// Tables is the target schema. The scoring hierarchy is
// events > contest_groups > categories > criteria; every person lives in
// users with role flags.
var Tables = []Table{
	{
		Name: "events",
		Columns: []Column{
			id(),
			{Name: "name", Type: Text, NotNull: true},
			{Name: "description", Type: Text},
			{Name: "venue", Type: Text},
			{Name: "start_date", Type: Timestamp},
			{Name: "end_date", Type: Timestamp},
			{Name: "is_archived", Type: Bool, NotNull: true, Default: "FALSE"},
			createdAt(),
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: "users",
		Columns: []Column{
			id(),
			{Name: "name", Type: Text, NotNull: true},
			{Name: "preferred_name", Type: Text},
			{Name: "email", Type: Text},
			{Name: "password_hash", Type: Text},
			{Name: "role", Type: Text, NotNull: true},
			{Name: "is_organizer", Type: Bool, NotNull: true, Default: "FALSE"},
			{Name: "is_judge", Type: Bool, NotNull: true, Default: "FALSE"},
			{Name: "is_contestant", Type: Bool, NotNull: true, Default: "FALSE"},
			{Name: "is_head_judge", Type: Bool, NotNull: true, Default: "FALSE"},
			{Name: "bio", Type: Text},
			{Name: "image_path", Type: Text},
			{Name: "contestant_number", Type: Int},
			{Name: "legacy_table", Type: Text, NotNull: true},
			{Name: "legacy_ref", Type: Text, NotNull: true},
			createdAt(),
		},
		PrimaryKey: []string{"id"},
		Unique:     [][]string{{"legacy_table", "legacy_ref"}},
		Checks: []string{
			"role IN ('organizer', 'judge', 'contestant', 'emcee', 'tally_master', 'auditor', 'board')",
			"(role = 'organizer') = is_organizer",
			"(role = 'judge') = is_judge",
			"(role = 'contestant') = is_contestant",
			"is_judge OR NOT is_head_judge",
			"is_contestant OR contestant_number IS NULL",
		},
	},
	{
		Name: "contest_groups",
		Columns: []Column{
			id(),
			{Name: "event_id", Type: UUID, NotNull: true},
			{Name: "name", Type: Text, NotNull: true},
			{Name: "description", Type: Text},
			{Name: "display_order", Type: Int, NotNull: true, Default: "0"},
			createdAt(),
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKey{ref("event_id", "events", "CASCADE")},
	},
	{
		Name: "categories",
		Columns: []Column{
			id(),
			{Name: "contest_group_id", Type: UUID, NotNull: true},
			{Name: "name", Type: Text, NotNull: true},
			{Name: "description", Type: Text},
			{Name: "score_cap", Type: Real},
			{Name: "display_order", Type: Int, NotNull: true, Default: "0"},
			createdAt(),
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKey{ref("contest_group_id", "contest_groups", "CASCADE")},
	},
	{
		Name: "criteria",
		Columns: []Column{
			id(),
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "name", Type: Text, NotNull: true},
			{Name: "max_score", Type: Real, NotNull: true},
			{Name: "display_order", Type: Int, NotNull: true, Default: "0"},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []ForeignKey{ref("category_id", "categories", "CASCADE")},
		Checks:      []string{"max_score >= 0"},
	},
	{
		Name: "category_contestants",
		Columns: []Column{
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "contestant_id", Type: UUID, NotNull: true},
		},
		PrimaryKey: []string{"category_id", "contestant_id"},
		ForeignKeys: []ForeignKey{
			ref("category_id", "categories", "CASCADE"),
			ref("contestant_id", "users", "CASCADE"),
		},
	},
	{
		Name: "category_judges",
		Columns: []Column{
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "judge_id", Type: UUID, NotNull: true},
		},
		PrimaryKey: []string{"category_id", "judge_id"},
		ForeignKeys: []ForeignKey{
			ref("category_id", "categories", "CASCADE"),
			ref("judge_id", "users", "CASCADE"),
		},
	},
	{
		Name: "scores",
		Columns: []Column{
			id(),
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "criterion_id", Type: UUID, NotNull: true},
			{Name: "contestant_id", Type: UUID, NotNull: true},
			{Name: "judge_id", Type: UUID, NotNull: true},
			{Name: "score", Type: Real, NotNull: true},
			{Name: "comment", Type: Text},
			createdAt(),
		},
		PrimaryKey: []string{"id"},
		Unique:     [][]string{{"category_id", "criterion_id", "contestant_id", "judge_id"}},
		ForeignKeys: []ForeignKey{
			ref("category_id", "categories", "CASCADE"),
			ref("criterion_id", "criteria", "CASCADE"),
			ref("contestant_id", "users", "CASCADE"),
			ref("judge_id", "users", "CASCADE"),
		},
		Checks: []string{"score >= 0"},
	},
	{
		Name: "judge_certifications",
		Columns: []Column{
			id(),
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "judge_id", Type: UUID, NotNull: true},
			{Name: "signature_name", Type: Text, NotNull: true},
			{Name: "certified_at", Type: Timestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		PrimaryKey: []string{"id"},
		Unique:     [][]string{{"category_id", "judge_id"}},
		ForeignKeys: []ForeignKey{
			ref("category_id", "categories", "CASCADE"),
			ref("judge_id", "users", "CASCADE"),
		},
	},
	{
		Name: "deductions",
		Columns: []Column{
			id(),
			{Name: "category_id", Type: UUID, NotNull: true},
			{Name: "contestant_id", Type: UUID, NotNull: true},
			{Name: "amount", Type: Real, NotNull: true},
			{Name: "reason", Type: Text},
			createdAt(),
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []ForeignKey{
			ref("category_id", "categories", "CASCADE"),
			ref("contestant_id", "users", "CASCADE"),
		},
	},
	{
		Name: "settings",
		Columns: []Column{
			{Name: "setting_key", Type: Text, NotNull: true},
			{Name: "setting_value", Type: Text},
			{Name: "updated_at", Type: Timestamp, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		PrimaryKey: []string{"setting_key"},
	},
}

// Views keep the legacy table names readable after the rename and the user
// consolidation. The legacy categories table is exposed as legacy_categories
// because the target reuses the name categories for the former subcategories.
var Views = []View{
	{
		Name:   "contests",
		Select: "SELECT id, name, description, venue, start_date, end_date, is_archived AS archived, created_at FROM events",
	},
	{
		Name:   "legacy_categories",
		Select: "SELECT id, event_id AS contest_id, name, description, display_order, created_at FROM contest_groups",
	},
	{
		Name:   "subcategories",
		Select: "SELECT id, contest_group_id AS category_id, name, description, score_cap, display_order, created_at FROM categories",
	},
	{
		Name:   "judges",
		Select: "SELECT id, name, email, bio, image_path, is_head_judge, created_at FROM users WHERE is_judge",
	},
	{
		Name:   "contestants",
		Select: "SELECT id, name, email, contestant_number, bio, image_path, created_at FROM users WHERE is_contestant",
	},
	{
		Name:   "subcategory_contestants",
		Select: "SELECT category_id AS subcategory_id, contestant_id FROM category_contestants",
	},
	{
		Name:   "subcategory_judges",
		Select: "SELECT category_id AS subcategory_id, judge_id FROM category_judges",
	},
	{
		Name:   "overall_deductions",
		Select: "SELECT id, category_id AS subcategory_id, contestant_id, amount, reason, created_at FROM deductions",
	},
	{
		Name:   "system_settings",
		Select: "SELECT setting_key, setting_value, updated_at FROM settings",
	},
}
