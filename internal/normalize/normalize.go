package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization trims surrounding whitespace
// and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Answer normalizes a security answer so that comparisons are
// case-insensitive and ignore surrounding whitespace.
func Answer(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
