package ident

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail folds an email address for case-insensitive comparison.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(email))
}

// NormalizeName folds a person's name for comparison: NFKC, case folded,
// inner whitespace collapsed.
func NormalizeName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	return cases.Fold().String(name)
}

// SameEmail compares two addresses after folding. Empty never matches.
func SameEmail(a, b string) bool {
	a, b = NormalizeEmail(a), NormalizeEmail(b)
	return a != "" && a == b
}

// SameName compares two names after folding. Empty never matches.
func SameName(a, b string) bool {
	a, b = NormalizeName(a), NormalizeName(b)
	return a != "" && a == b
}
