// Package entitykey derives canonical deduplication keys for people and
// organizations and scores how alike two names are.
//
// Every function here is total: malformed or empty input yields a best-effort
// key instead of an error, so deduplication never blocks entity creation.
package entitykey

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match thresholds. A similarity must be strictly greater than the threshold.
const (
	PersonMatchThreshold = 0.85
	OrgMatchThreshold    = 0.80
)

// namePrefix marks keys derived from a name rather than an email or domain.
const namePrefix = "name:"

// Person carries the identifying fields of a person record.
type Person struct {
	Email     string
	FirstName string
	LastName  string
}

// Organization carries the identifying fields of an organization record.
type Organization struct {
	Domain string
	Name   string
}

var (
	nonKeyChars   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	legalSuffixes = regexp.MustCompile(`\b(corporation|company|limited|corp|inc|llc|ltd|co)\b`)
)

// PersonKey returns the canonical key for a person: the lower-cased email when
// one is present, otherwise "name:" followed by the normalized full name.
func PersonKey(p Person) string {
	if email := strings.ToLower(strings.TrimSpace(p.Email)); email != "" {
		return email
	}
	return namePrefix + normalizeKey(p.FirstName+" "+p.LastName)
}

// OrgKey returns the canonical key for an organization: the lower-cased domain
// when one is present, otherwise "name:" followed by the name with legal
// suffixes removed.
func OrgKey(o Organization) string {
	if domain := strings.ToLower(strings.TrimSpace(o.Domain)); domain != "" {
		return domain
	}
	name := legalSuffixes.ReplaceAllString(strings.ToLower(o.Name), " ")
	return namePrefix + normalizeKey(name)
}

// normalizeKey lower-cases s, drops everything outside [a-z0-9\s] and joins
// the remaining words with underscores.
func normalizeKey(s string) string {
	s = nonKeyChars.ReplaceAllString(strings.ToLower(s), "")
	s = strings.TrimSpace(s)
	return whitespaceRun.ReplaceAllString(s, "_")
}

// ExtractDomain pulls a bare domain out of a raw domain, URL, or email address.
// It reports false when the remainder has no dot and so cannot be a domain.
func ExtractDomain(input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimPrefix(s, "www.")
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, ". ")
	if !strings.Contains(s, ".") {
		return "", false
	}
	return s, true
}

// NormalizeName lower-cases name, strips accents, drops punctuation and
// collapses whitespace. It is the comparison form used by Similarity.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		decomposed = strings.ToLower(name)
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
