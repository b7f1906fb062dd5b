// Package resolve deduplicates and merges entity records (competitor
// profiles) extracted by labs before they are admitted into the context
// graph.
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes lists trailing words stripped during name normalization,
// longest first. Only one suffix is ever removed.
var corporateSuffixes = []string{
	"incorporated",
	"technologies",
	"corporation",
	"technology",
	"solutions",
	"holdings",
	"services",
	"limited",
	"company",
	"group",
	"corp",
	"gmbh",
	"labs",
	"llc",
	"inc",
	"ltd",
	"plc",
	"co",
	"ag",
	"sa",
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

// foldDiacritics removes combining marks so "Café" and "Cafe" compare equal.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName canonicalizes an entity name for matching by:
//  1. Folding diacritics and converting to lowercase
//  2. Stripping punctuation and symbols (hyphens are kept)
//  3. Collapsing whitespace
//  4. Removing one trailing corporate suffix (inc, llc, group, ...)
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToLower(foldDiacritics(name))

	name = strings.Map(func(r rune) rune {
		if r == '-' {
			return r
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, name)

	name = strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " "))

	for _, suffix := range corporateSuffixes {
		if stem, ok := strings.CutSuffix(name, " "+suffix); ok {
			name = strings.TrimSpace(stem)
			break
		}
	}

	return name
}

// NormalizeDomain reduces a bare domain or a URL to its host: lowercase,
// without scheme, "www.", userinfo, port, path, query or fragment.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}

	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	d = strings.TrimPrefix(d, "//")

	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		d = d[:i]
	}

	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")
	return d
}
