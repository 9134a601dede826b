package translation

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes text into a cache key: Unicode NFC, surrounding
// whitespace trimmed, inner whitespace runs collapsed to one space. Case is
// preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}
