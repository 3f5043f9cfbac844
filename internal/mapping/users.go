package mapping

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joestump/scoremigrate/internal/schema"
)

// ConsolidatedUser is one row of the target users table, built from a legacy
// users, judges or contestants row.
type ConsolidatedUser struct {
	LegacyTable string
	LegacyRef   string
	LegacyID    any // raw legacy identifier, resolved by the caller; nil when NULL

	Name          string
	PreferredName *string
	Email         *string
	PasswordHash  *string
	Role          string

	IsOrganizer  bool
	IsJudge      bool
	IsContestant bool
	IsHeadJudge  bool

	Bio              *string
	ImagePath        *string
	ContestantNumber *int64
	CreatedAt        any
}

var roleAliases = map[string]string{
	"":              schema.RoleOrganizer,
	"admin":         schema.RoleOrganizer,
	"administrator": schema.RoleOrganizer,
	"organiser":     schema.RoleOrganizer,
	"tally":         schema.RoleTallyMaster,
	"tallymaster":   schema.RoleTallyMaster,
	"tally master":  schema.RoleTallyMaster,
	"tally-master":  schema.RoleTallyMaster,
	"emcee":         schema.RoleEmcee,
	"mc":            schema.RoleEmcee,
	"board_member":  schema.RoleBoard,
}

// NormalizeRole maps a legacy role string onto a target role.
func NormalizeRole(raw string) (string, error) {
	r := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := roleAliases[r]; ok {
		return alias, nil
	}
	for _, role := range schema.Roles {
		if r == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// BuildUser turns a legacy row from origin into a ConsolidatedUser. Role
// specific fields are kept only when the role matches.
func BuildUser(origin string, row map[string]any) (ConsolidatedUser, error) {
	u := ConsolidatedUser{
		LegacyTable:   origin,
		LegacyID:      row["id"],
		PreferredName: str(row["preferred_name"]),
		Email:         str(row["email"]),
		CreatedAt:     row["created_at"],
	}
	// A NULL id leaves LegacyRef empty; the caller generates the id.
	if u.LegacyID != nil {
		u.LegacyRef = fmt.Sprint(text(u.LegacyID))
	}

	u.Name = displayName(row)
	if u.Name == "" {
		return u, errors.New("legacy row has no name")
	}

	switch origin {
	case LegacyJudges:
		u.Role = schema.RoleJudge
	case LegacyContestants:
		u.Role = schema.RoleContestant
	case LegacyUsers:
		raw, _ := text(row["role"]).(string)
		role, err := NormalizeRole(raw)
		if err != nil {
			return u, err
		}
		u.Role = role
		u.PasswordHash = str(row["password_hash"])
		if u.PasswordHash == nil {
			u.PasswordHash = str(row["password"])
		}
	default:
		return u, fmt.Errorf("%s is not a user table", origin)
	}

	u.IsOrganizer = u.Role == schema.RoleOrganizer
	u.IsJudge = u.Role == schema.RoleJudge
	u.IsContestant = u.Role == schema.RoleContestant

	if u.IsJudge || u.IsContestant {
		u.Bio = str(row["bio"])
		u.ImagePath = str(row["image_path"])
	}
	if u.IsJudge {
		u.IsHeadJudge = truthy(row["is_head_judge"])
	}
	if u.IsContestant {
		n, err := number(row["contestant_number"])
		if err != nil {
			return u, err
		}
		u.ContestantNumber = n
	}
	return u, u.Validate()
}

// Validate checks that the role flags agree with the role.
func (u ConsolidatedUser) Validate() error {
	valid := false
	for _, r := range schema.Roles {
		if u.Role == r {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	if u.IsOrganizer != (u.Role == schema.RoleOrganizer) ||
		u.IsJudge != (u.Role == schema.RoleJudge) ||
		u.IsContestant != (u.Role == schema.RoleContestant) {
		return fmt.Errorf("role %q contradicts flags organizer=%t judge=%t contestant=%t",
			u.Role, u.IsOrganizer, u.IsJudge, u.IsContestant)
	}
	if u.IsHeadJudge && !u.IsJudge {
		return errors.New("head judge flag set on a non-judge")
	}
	if u.ContestantNumber != nil && !u.IsContestant {
		return errors.New("contestant number set on a non-contestant")
	}
	return nil
}

// Values returns the target column values, the identifier excluded.
func (u ConsolidatedUser) Values() map[string]any {
	v := map[string]any{
		"name":              u.Name,
		"preferred_name":    ptr(u.PreferredName),
		"email":             ptr(u.Email),
		"password_hash":     ptr(u.PasswordHash),
		"role":              u.Role,
		"is_organizer":      u.IsOrganizer,
		"is_judge":          u.IsJudge,
		"is_contestant":     u.IsContestant,
		"is_head_judge":     u.IsHeadJudge,
		"bio":               ptr(u.Bio),
		"image_path":        ptr(u.ImagePath),
		"contestant_number": nil,
		"legacy_table":      u.LegacyTable,
		"legacy_ref":        u.LegacyRef,
	}
	if u.ContestantNumber != nil {
		v["contestant_number"] = *u.ContestantNumber
	}
	if u.CreatedAt != nil {
		v["created_at"] = u.CreatedAt
	}
	return v
}

func displayName(row map[string]any) string {
	for _, key := range []string{"name", "full_name"} {
		if s := str(row[key]); s != nil {
			return *s
		}
	}
	var parts []string
	for _, key := range []string{"first_name", "last_name"} {
		if s := str(row[key]); s != nil {
			parts = append(parts, *s)
		}
	}
	return strings.Join(parts, " ")
}

func text(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func str(v any) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(fmt.Sprint(text(v)))
	if s == "" {
		return nil
	}
	return &s
}

func ptr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func truthy(v any) bool {
	switch t := text(v).(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

func number(v any) (*int64, error) {
	switch t := text(v).(type) {
	case nil:
		return nil, nil
	case int64:
		return &t, nil
	case float64:
		n := int64(t)
		return &n, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("contestant number %q is not a number", t)
		}
		return &n, nil
	}
	return nil, fmt.Errorf("contestant number has unexpected type %T", v)
}
