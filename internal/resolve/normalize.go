// Package resolve canonicalizes noisy name strings to known entities.
//
// Resolution runs an override lookup keyed by provenance, then an exact pass
// over normalized name variants, then a Jaro-scored fuzzy pass. Anything that
// is not a single confident match is escalated to a human through an
// [Escalator].
package resolve

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
)

var (
	spacers = strings.NewReplacer(
		"\u00a0", " ",
		"\u2007", " ",
		"\u202f", " ",
		"\u2009", " ",
	)
	dashers = strings.NewReplacer(
		"\u2013", "--",
		"\u2014", "--",
	)
	nonSlugRe = regexp.MustCompile(`[^\w\s-]`)
	slugSepRe = regexp.MustCompile(`[-\s]+`)

	// organizationAffixRe strips boilerplate that only some sources attach to
	// party names. Applied after slugging, so it matches hyphenated forms.
	organizationAffixRe = regexp.MustCompile(`^party-for-|-party-of-canada$|-party$`)
)

// Normalize reduces a free-text name to a comparison key:
//  1. Keeping the text before the first "/" (alternates are packed that way)
//  2. Mapping non-breaking spaces to spaces and en/em dashes to "--"
//  3. Transliterating to ASCII
//  4. Case-folding and slugging (punctuation dropped, whitespace and hyphen runs become "-")
//
// Normalize is total and idempotent.
func Normalize(raw string) string {
	s, _, _ := strings.Cut(raw, "/")
	s = dashers.Replace(s)
	s = spacers.Replace(s)
	s = unidecode.Unidecode(strings.TrimSpace(s))
	s = strings.ToLower(s)
	s = nonSlugRe.ReplaceAllString(s, "")
	s = slugSepRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}

// NormalizeOrganization is Normalize plus removal of the party affixes
// ("party-for-", "-party-of-canada", "-party"). Person names must not go
// through this.
func NormalizeOrganization(raw string) string {
	s := Normalize(raw)
	for {
		stripped := organizationAffixRe.ReplaceAllString(s, "")
		if stripped == s {
			return s
		}
		s = stripped
	}
}
