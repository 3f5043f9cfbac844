package ident

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	compactLen   = 32
	canonicalLen = 36
)

// Canonical converts a legacy identifier into the hyphenated 8-4-4-4-12 form.
// A 32 character hex string gets hyphens inserted at offsets 8, 12, 16 and 20;
// a value already in canonical form is returned unchanged. Anything else
// reports false. Case is preserved.
func Canonical(s string) (string, bool) {
	switch len(s) {
	case compactLen:
		if !isHex(s) {
			return "", false
		}
		return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32], true
	case canonicalLen:
		for i := 0; i < canonicalLen; i++ {
			c := s[i]
			if i == 8 || i == 13 || i == 18 || i == 23 {
				if c != '-' {
					return "", false
				}
				continue
			}
			if !isHexByte(c) {
				return "", false
			}
		}
		return s, true
	}
	return "", false
}

// Compact strips the hyphens from a canonical identifier, giving back the
// legacy 32 character form.
func Compact(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexByte(s[i]) {
			return false
		}
	}
	return true
}

func isHexByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Reformatter turns legacy identifiers into target identifiers for the
// duration of a single migration run.
//
// Malformed values get a random UUID, memoised on the exact source string so
// every reference to the same malformed value resolves to the same target
// within the run. Those replacements differ between runs; Generated lists
// them so the report can flag the affected rows.
type Reformatter struct {
	memo      map[string]string
	aliases   map[string]map[string]string
	generated []Replacement
	newID     func() string
}

// Replacement records an identifier the reformatter had to invent.
type Replacement struct {
	Source string // empty when the source value was null
	Target string
}

// New returns a Reformatter with an empty memo.
func New() *Reformatter {
	return &Reformatter{
		memo:    make(map[string]string),
		aliases: make(map[string]map[string]string),
		newID:   uuid.NewString,
	}
}

// Reformat maps a legacy identifier value to its target form. nil stays nil.
// Strings and byte slices are canonicalised when well formed; other scalar
// values (legacy integer keys) are stringified and treated as malformed.
func (r *Reformatter) Reformat(v any) any {
	raw, ok := text(v)
	if !ok {
		return nil
	}
	if c, ok := Canonical(raw); ok {
		return c
	}
	if id, ok := r.memo[raw]; ok {
		return id
	}
	id := r.newID()
	r.memo[raw] = id
	r.generated = append(r.generated, Replacement{Source: raw, Target: id})
	return id
}

// Alias pins the target identifier used for raw when it is referenced from
// origin. Consolidation uses it when two legacy tables collide on an id.
func (r *Reformatter) Alias(origin, raw, id string) {
	m, ok := r.aliases[origin]
	if !ok {
		m = make(map[string]string)
		r.aliases[origin] = m
	}
	m[raw] = id
}

// Resolve is Reformat with origin aliases consulted first. An empty origin
// behaves exactly like Reformat.
func (r *Reformatter) Resolve(origin string, v any) any {
	if origin != "" {
		if raw, ok := text(v); ok {
			if id, ok := r.aliases[origin][raw]; ok {
				return id
			}
		}
	}
	return r.Reformat(v)
}

// NewID synthesises an identifier for a row whose primary key is missing.
func (r *Reformatter) NewID() string {
	id := r.newID()
	r.generated = append(r.generated, Replacement{Target: id})
	return id
}

// Mark returns the current position in the generated list, for Since.
func (r *Reformatter) Mark() int {
	return len(r.generated)
}

// Since returns the identifiers invented after mark.
func (r *Reformatter) Since(mark int) []Replacement {
	if mark >= len(r.generated) {
		return nil
	}
	out := make([]Replacement, len(r.generated)-mark)
	copy(out, r.generated[mark:])
	return out
}

// Generated returns every identifier invented so far, in creation order.
func (r *Reformatter) Generated() []Replacement {
	out := make([]Replacement, len(r.generated))
	copy(out, r.generated)
	return out
}

func text(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		if t == nil {
			return "", false
		}
		return string(t), true
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	default:
		return fmt.Sprint(t), true
	}
}
