// Package fingerprint derives deterministic content fingerprints for code
// chunks. The normalization policy is fixed: two runs normalizing differently
// would silently stop matching, so any change here invalidates previously
// written duplicate groups.
package fingerprint

import (
	"regexp"
	"strings"

	"dupescope/internal/utils"
)

var (
	identRe        = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	numRe          = regexp.MustCompile(`\b[0-9]+(\.[0-9]+)?\b`)
	wsRe           = regexp.MustCompile(`\s+`)
	stringRe       = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	lineCommentRe  = regexp.MustCompile(`(?m)//.*?$|#.*?$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// keywords are preserved during identifier masking so that control-flow
// structure survives normalization.
var keywords = map[string]bool{
	"for": true, "while": true, "if": true, "else": true, "switch": true,
	"case": true, "break": true, "continue": true, "return": true,
	"try": true, "catch": true, "finally": true, "class": true,
	"struct": true, "enum": true, "def": true, "fn": true, "func": true,
	"function": true, "import": true, "from": true, "package": true,
	"public": true, "private": true, "protected": true, "static": true,
	"const": true, "let": true, "var": true, "new": true, "throw": true,
	"await": true, "async": true, "match": true, "with": true,
}

// StripComments removes line and block comments using rough patterns that
// cover the common brace and hash languages.
func StripComments(text string) string {
	text = blockCommentRe.ReplaceAllString(text, "")
	text = lineCommentRe.ReplaceAllString(text, "")
	return text
}

// Normalize reduces chunk text to a canonical form: comments stripped, string
// and numeric literals masked, identifiers masked except for a fixed keyword
// set, and all whitespace collapsed to single spaces.
func Normalize(text string) string {
	text = StripComments(text)

	// Mask strings before identifiers so names inside literals don't leak.
	text = stringRe.ReplaceAllString(text, " STR ")
	text = numRe.ReplaceAllString(text, " NUM ")

	text = identRe.ReplaceAllStringFunc(text, func(s string) string {
		// STR and NUM are the masks from the previous passes.
		if keywords[s] || s == "STR" || s == "NUM" {
			return s
		}
		return " ID "
	})

	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

// Fingerprint returns the content fingerprint of raw chunk text: the SHA-256
// digest of its normalized form. Total over any input, including empty text.
func Fingerprint(text string) string {
	return utils.HashContent(Normalize(text))
}

// TokenEstimate is a cheap token count over normalized text: whitespace
// separated tokens, minimum 1 for non-empty input.
func TokenEstimate(normalized string) int {
	if normalized == "" {
		return 0
	}
	n := len(strings.Fields(normalized))
	if n < 1 {
		return 1
	}
	return n
}
