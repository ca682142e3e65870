package rings

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"ringhub.sh/ringhub/core/db"
)

const (
	minSlugLen = 3
	maxSlugLen = 25
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether slug satisfies the format invariant: 3-25
// chars, lowercase a-z/0-9/hyphen, no leading/trailing/consecutive
// hyphens.
func ValidSlug(slug string) bool {
	if len(slug) < minSlugLen || len(slug) > maxSlugLen {
		return false
	}
	return slugPattern.MatchString(slug)
}

var nonSlugChar = regexp.MustCompile(`[^a-z0-9 -]`)
var whitespaceOrHyphens = regexp.MustCompile(`[\s-]+`)

// deriveSlugBase lowercases name, strips disallowed characters, collapses
// whitespace/hyphens into single hyphens, and trims to maxSlugLen.
func deriveSlugBase(name string) string {
	s := strings.ToLower(name)
	s = nonSlugChar.ReplaceAllString(s, "")
	s = whitespaceOrHyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		s = "ring"
	}
	for len(s) < minSlugLen {
		s = s + "0"
	}
	return s
}

// ResolveSlug validates a caller-supplied slug, or derives and
// disambiguates one from name when slug is empty.
func ResolveSlug(ctx context.Context, x db.Execer, slug, name string) (string, error) {
	if slug != "" {
		if !ValidSlug(slug) {
			return "", fmt.Errorf("%w: invalid slug format", ErrInvalidSlug)
		}
		taken, err := db.SlugExists(ctx, x, slug)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: slug already taken", ErrSlugTaken)
		}
		return slug, nil
	}

	base := deriveSlugBase(name)
	candidate := base
	for n := 2; ; n++ {
		taken, err := db.SlugExists(ctx, x, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix := fmt.Sprintf("-%d", n)
		trimmedBase := base
		if len(trimmedBase)+len(suffix) > maxSlugLen {
			trimmedBase = trimmedBase[:maxSlugLen-len(suffix)]
			trimmedBase = strings.Trim(trimmedBase, "-")
		}
		candidate = trimmedBase + suffix
	}
}
