package zine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "anyzine/pkg/domain-errors"
)

// MaxSubjectRunes caps the length of a zine subject after cleaning.
const MaxSubjectRunes = 200

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|any\s+)?(previous|prior|above)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+|your\s+)?(previous\s+|prior\s+)?(instructions|rules)`),
	regexp.MustCompile(`(?i)\b(system|developer)\s+prompt\b`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)act\s+as\s+(an?\s+)?(unrestricted|jailbroken|dan)\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|user)\s*>`),
}

// Sanitizer is the pre-check run before a subject reaches the model.
type Sanitizer struct{}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize returns the cleaned subject, or a validation error when the input
// is empty, too long or looks like an attempt to steer the model.
func (s *Sanitizer) Sanitize(subject string) (string, error) {
	clean := collapseWhitespace(stripControl(subject))
	if clean == "" {
		return "", dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	if utf8.RuneCountInString(clean) > MaxSubjectRunes {
		return "", dErrors.New(dErrors.CodeValidation, "subject must be at most 200 characters")
	}
	for _, p := range injectionPatterns {
		if p.MatchString(clean) {
			return "", dErrors.New(dErrors.CodeValidation, "subject contains disallowed instructions")
		}
	}
	return clean, nil
}

// stripControl drops control characters; tabs and newlines become spaces.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
