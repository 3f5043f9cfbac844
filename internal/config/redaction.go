package config

import (
	"net/url"
	"sort"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor replaces known secret values in text with placeholders. Driver
// errors can echo a DSN back, so anything printed from a failed connection
// goes through it.
type Redactor struct {
	replacements map[string]string // secret value -> "[REDACTED:KEY]"
}

// NewRedactor builds a Redactor for the secrets in c. Both raw and
// URL-encoded variants of each value are replaced.
func NewRedactor(c Config) *Redactor {
	r := &Redactor{replacements: make(map[string]string)}
	r.add("target.password", c.Target.Password)
	return r
}

func (r *Redactor) add(key, value string) {
	if value == "" {
		return
	}
	r.replacements[value] = "[REDACTED:" + key + "]"
	if encoded := url.QueryEscape(value); encoded != value {
		r.replacements[encoded] = "[REDACTED:" + key + ":urlencoded]"
	}
	if quoted := dsnValue(value); quoted != value {
		r.replacements[quoted] = "[REDACTED:" + key + "]"
	}
}

// Redact replaces every known secret in input. With no secrets configured it
// returns input unchanged.
func (r *Redactor) Redact(input string) string {
	if len(r.replacements) == 0 {
		return input
	}
	result := input
	// Longest first so a quoted form is replaced before its raw substring.
	for _, value := range r.byLength() {
		result = strings.ReplaceAll(result, value, r.replacements[value])
	}
	return result
}

func (r *Redactor) byLength() []string {
	values := make([]string, 0, len(r.replacements))
	for v := range r.replacements {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	return values
}
