// Package slug derives URL-safe handles from display names.
package slug

import (
	"strings"
	"unicode"
)

// turkishFold maps Turkish letters, in either case, to their ASCII base.
var turkishFold = map[rune]rune{
	'ç': 'c', 'Ç': 'c',
	'ğ': 'g', 'Ğ': 'g',
	'ı': 'i', 'İ': 'i',
	'ö': 'o', 'Ö': 'o',
	'ş': 's', 'Ş': 's',
	'ü': 'u', 'Ü': 'u',
}

// Generate lowercases name, folds Turkish letters to ASCII and joins the
// remaining alphanumeric runs with single hyphens. It returns "" when name
// has no usable characters.
//
//	Generate("Kadıköy Emlak & Yatırım") == "kadikoy-emlak-yatirim"
func Generate(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	gap := false
	for _, r := range name {
		if folded, ok := turkishFold[r]; ok {
			r = folded
		}
		r = unicode.ToLower(r)
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('-')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}
