// Package token issues participant and admin secrets and event slugs.
package token

import (
	"crypto/subtle"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"gift-exchange-backend/internal/utils/random"
)

const (
	slugSuffixLength = 6
	maxSlugBase      = 40
	fallbackSlugBase = "event"
)

// New returns a fresh unguessable token (UUIDv4, 122 random bits).
func New() string {
	return uuid.NewString()
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Slug builds "<normalised-name>-<6 base36 chars>".
func Slug(src random.Source, name string) (string, error) {
	suffix, err := random.Base36(src, slugSuffixLength)
	if err != nil {
		return "", err
	}
	return SlugBase(name) + "-" + suffix, nil
}

// SlugBase lowercases name, strips diacritics and collapses everything
// outside [a-z0-9_] into single dashes.
func SlugBase(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	base := strings.TrimRight(b.String(), "-")
	if len(base) > maxSlugBase {
		base = strings.TrimRight(base[:maxSlugBase], "-")
	}
	if base == "" {
		return fallbackSlugBase
	}
	return base
}
