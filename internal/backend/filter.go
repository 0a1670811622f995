// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import "strings"

// Clause is one condition on a metadata key. Zero-value fields are inactive;
// multiple active fields on the same clause AND together.
type Clause struct {
	// Eq matches when the metadata value equals this string exactly.
	Eq *string

	// Prefix matches string values with this prefix.
	Prefix string

	// Gt and Lt compare lexicographically. ISO-8601 timestamps compare
	// correctly under this rule, which is why timestamps are stored as
	// strings.
	Gt string
	Lt string

	// ContainsAny matches list values whose intersection with this set is
	// non-empty.
	ContainsAny []string
}

// Where is a conjunction of clauses keyed by metadata field.
type Where map[string]Clause

// Eq builds an equality clause.
func Eq(v string) Clause { return Clause{Eq: &v} }

// IsEqualityOnly reports whether the clause is a bare equality match,
// the one form most engines can push server-side.
func (c Clause) IsEqualityOnly() bool {
	return c.Eq != nil && c.Prefix == "" && c.Gt == "" && c.Lt == "" && len(c.ContainsAny) == 0
}

// Matches evaluates the clause against a metadata value client-side.
func (c Clause) Matches(value any) bool {
	if c.Eq != nil {
		s, ok := value.(string)
		if !ok || s != *c.Eq {
			return false
		}
	}
	if c.Prefix != "" {
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, c.Prefix) {
			return false
		}
	}
	if c.Gt != "" {
		s, ok := value.(string)
		if !ok || s <= c.Gt {
			return false
		}
	}
	if c.Lt != "" {
		s, ok := value.(string)
		if !ok || s >= c.Lt {
			return false
		}
	}
	if len(c.ContainsAny) > 0 {
		list, ok := toStringList(value)
		if !ok {
			return false
		}
		found := false
		for _, want := range c.ContainsAny {
			for _, have := range list {
				if want == have {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Matches reports whether a record's metadata satisfies every clause.
func (w Where) Matches(meta map[string]any) bool {
	for key, clause := range w {
		if !clause.Matches(meta[key]) {
			return false
		}
	}
	return true
}

// Split partitions the filter into clauses the engine evaluates server-side
// (selected by the native predicate) and the remainder, which the caller
// must apply client-side after over-fetching.
func (w Where) Split(native func(key string, c Clause) bool) (Where, Where) {
	if len(w) == 0 {
		return nil, nil
	}
	var pushed, rest Where
	for key, clause := range w {
		if native != nil && native(key, clause) {
			if pushed == nil {
				pushed = Where{}
			}
			pushed[key] = clause
		} else {
			if rest == nil {
				rest = Where{}
			}
			rest[key] = clause
		}
	}
	return pushed, rest
}

func toStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
