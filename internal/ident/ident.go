// Package ident normalizes the identifier schemes that client, case,
// questionnaire, and assignment records arrive with.
//
// A record may be addressed by up to four string forms:
//   - the store-issued canonical id (`id`, mirrored in `_id`)
//   - an externally issued id carrying ExternalMarker
//   - an "original" id kept from an earlier store
//   - a display name used as a last-resort key
//
// Normalize turns those fields into an Identity once; Lookup compares a
// target against many identities, trying exact equality across every
// record before the bounded prefix fallback.
package ident

import (
	"errors"
	"strings"
	"unicode"
)

// ExternalMarker prefixes ids issued by the external intake service.
const ExternalMarker = "ext_"

// CompositeSeparator splits a composite id from its disambiguation suffix
// ("a1b2__2" refers to the same assignment as "a1b2").
const CompositeSeparator = "__"

// fuzzyPrefixLen bounds the prefix fallback in Lookup. Ids shorter than
// this never fuzzy-match.
const fuzzyPrefixLen = 20

// ErrInvalid is returned by Validate for identifiers that cannot be
// normalized (embedded whitespace, control characters, or serialized
// placeholders such as "undefined").
var ErrInvalid = errors.New("ident: invalid identifier")

// Kind tags which namespace an Identifier came from.
type Kind int

const (
	KindExternal Kind = iota + 1
	KindOriginal
	KindCanonical
	KindName
)

func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindOriginal:
		return "original"
	case KindCanonical:
		return "canonical"
	case KindName:
		return "name"
	default:
		return "unknown"
	}
}

// Identifier is one tagged id form.
type Identifier struct {
	Kind  Kind
	Value string
}

// Raw holds the duck-typed id fields as they appear on a stored record.
type Raw struct {
	ID         string
	LegacyID   string
	OriginalID string
	Name       string
}

// Identity is the normalized form of a record's identifiers.
//
// Candidates is deduplicated and ordered external, original, canonical,
// name. Canonical is the stable lookup key: the store-issued id when one
// exists, otherwise the first candidate.
type Identity struct {
	Canonical  string
	Candidates []Identifier
}

// Valid reports whether the identity carries at least one usable id.
func (id Identity) Valid() bool {
	return len(id.Candidates) > 0
}

// Has reports whether v exactly equals one of the candidates.
func (id Identity) Has(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, c := range id.Candidates {
		if c.Value == v {
			return true
		}
	}
	return false
}

// Values returns the candidate strings in order.
func (id Identity) Values() []string {
	out := make([]string, len(id.Candidates))
	for i, c := range id.Candidates {
		out[i] = c.Value
	}
	return out
}

// Equivalent reports whether two identities share any candidate.
func Equivalent(a, b Identity) bool {
	for _, c := range a.Candidates {
		if b.Has(c.Value) {
			return true
		}
	}
	return false
}

// Normalize builds the Identity for a record. Unusable fields are
// skipped, so a record with nothing usable yields an invalid Identity.
func Normalize(r Raw) Identity {
	id := clean(r.ID)
	legacy := clean(r.LegacyID)
	original := clean(r.OriginalID)
	name := strings.Join(strings.Fields(r.Name), " ")

	var external, canonical string
	for _, v := range []string{id, legacy, original} {
		if v != "" && IsExternal(v) {
			external = v
			break
		}
	}
	for _, v := range []string{id, legacy} {
		if v != "" && !IsExternal(v) {
			canonical = v
			break
		}
	}
	if IsExternal(original) {
		original = ""
	}

	out := Identity{}
	seen := make(map[string]struct{}, 4)
	add := func(kind Kind, v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out.Candidates = append(out.Candidates, Identifier{Kind: kind, Value: v})
	}
	add(KindExternal, external)
	add(KindOriginal, original)
	add(KindCanonical, canonical)
	add(KindName, name)

	switch {
	case canonical != "":
		out.Canonical = canonical
	case len(out.Candidates) > 0:
		out.Canonical = out.Candidates[0].Value
	}
	return out
}

// Validate reports ErrInvalid if any id field (not the name) is present
// but unusable.
func Validate(r Raw) error {
	for _, v := range []string{r.ID, r.LegacyID, r.OriginalID} {
		t := strings.TrimSpace(v)
		if t == "" {
			continue
		}
		if clean(t) == "" {
			return ErrInvalid
		}
	}
	return nil
}

// Lookup returns the index of the record whose identity matches target.
//
// Exact candidate equality is tried across all records first. Only when
// nothing matches exactly does it fall back to comparing the first 20
// characters of target and each non-name candidate, with ExternalMarker
// stripped from both sides.
func Lookup(target string, records []Identity) (int, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return -1, false
	}
	for i, r := range records {
		if r.Has(target) {
			return i, true
		}
	}
	for i, r := range records {
		for _, c := range r.Candidates {
			if c.Kind == KindName {
				continue
			}
			if prefixEqual(target, c.Value) {
				return i, true
			}
		}
	}
	return -1, false
}

// IsExternal reports whether v carries the external marker.
func IsExternal(v string) bool {
	return strings.HasPrefix(v, ExternalMarker) && len(v) > len(ExternalMarker)
}

// StripExternal removes ExternalMarker if present.
func StripExternal(v string) string {
	return strings.TrimPrefix(v, ExternalMarker)
}

// Base strips a composite disambiguation suffix.
func Base(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, CompositeSeparator); i > 0 {
		return v[:i]
	}
	return v
}

func prefixEqual(a, b string) bool {
	a, b = StripExternal(a), StripExternal(b)
	if len(a) < fuzzyPrefixLen || len(b) < fuzzyPrefixLen {
		return false
	}
	return a[:fuzzyPrefixLen] == b[:fuzzyPrefixLen]
}

// clean trims v and returns "" when the result is not a usable id.
func clean(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "", "undefined", "null", "[object Object]":
		return ""
	}
	for _, r := range v {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ""
		}
	}
	return v
}
