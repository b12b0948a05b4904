package broadcast

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"
)

// Slugify lowercases title, collapses every non-alphanumeric run into a
// single hyphen, and trims the result to at most 60 characters. A title
// with no usable characters slugifies to "moment".
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	if slug == "" {
		return "moment"
	}
	return slug
}

// CanonicalSlug derives the stable slug for a moment: the slugified title
// plus a short hash of the identifier so renamed or colliding titles stay
// unique. Deterministic: the same id and title always yield the same slug.
func CanonicalSlug(id uint, title string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("moment:%d", id)))
	return fmt.Sprintf("%s-%x", Slugify(title), sum[:4])
}
