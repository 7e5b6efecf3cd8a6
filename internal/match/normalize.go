package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics lists leading titles stripped during name normalization.
var honorifics = []string{
	"REP ", "REP. ", "REPRESENTATIVE ",
	"SEN ", "SEN. ", "SENATOR ",
	"HON ", "HON. ", "HONORABLE ",
	"DR ", "DR. ",
	"MR ", "MR. ",
	"MRS ", "MRS. ",
	"MS ", "MS. ",
}

// generationalSuffixes lists trailing suffixes stripped during normalization.
var generationalSuffixes = []string{
	" JR", " JR.", " JUNIOR",
	" SR", " SR.", " SENIOR",
	" II", " III", " IV", " V",
	" ESQ", " ESQ.",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// asciiFold strips combining diacritical marks after NFD decomposition, so
// "Núñez" and "Nunez" normalize identically.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName standardizes a person name for matching by:
//  1. Trimming whitespace and uppercasing
//  2. Folding diacritics to ASCII
//  3. Stripping leading honorifics (Rep., Sen., Hon., ...)
//  4. Stripping generational suffixes (Jr, Sr, III, ...)
//  5. Removing punctuation and collapsing spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	if folded, _, err := transform.String(asciiFold, name); err == nil {
		name = folded
	}

	for _, h := range honorifics {
		if strings.HasPrefix(name, h) {
			name = strings.TrimPrefix(name, h)
			break
		}
	}

	// A suffix can trail either form ("Jane Doe Jr." and "Doe, Jane Jr."), so
	// strip before and after the comma flip.
	name = stripSuffix(name)

	// "Doe, Jane" roster style becomes "JANE DOE".
	if i := strings.Index(name, ","); i > 0 {
		name = strings.TrimSpace(name[i+1:]) + " " + strings.TrimSpace(name[:i])
	}

	name = stripSuffix(name)

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	return name
}

func stripSuffix(name string) string {
	for _, suffix := range generationalSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// LastName returns the final token of a normalized name, the coarse half of
// the blocking key.
func LastName(normalized string) string {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// BlockingKey builds the coarse candidate-grouping key from a normalized last
// name, state, and office level. Fuzzy matching only scans canonical records
// sharing the key, which keeps the candidate search space small.
func BlockingKey(normalizedName, state, level string) string {
	return strings.Join([]string{
		LastName(normalizedName),
		strings.ToUpper(strings.TrimSpace(state)),
		strings.ToLower(strings.TrimSpace(level)),
	}, "|")
}
