// Package ident generates content-addressed need ids and validates ids,
// statuses, tags and constraint names against configured allow-lists.
package ident

import (
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/starford/tiwaz/internal/apperr"
)

var upper = cases.Upper(language.Und)

// GenerateID derives an id from the title (or the content when the title is
// empty). The SHA-1 hex digest is upper-cased; with fromTitle the upper-cased
// title, spaces replaced by underscores, is prepended. The result is cut to
// length and prefixed. Identical inputs always give identical ids.
func GenerateID(prefix, title, content string, length int, fromTitle bool) string {
	hashable := title
	if hashable == "" {
		hashable = content
	}
	sum := sha1.Sum([]byte(hashable)) //nolint:gosec
	hashed := strings.ToUpper(hex.EncodeToString(sum[:]))
	if fromTitle {
		hashed = strings.ReplaceAll(upper.String(title), " ", "_") + "_" + hashed
	}
	if length > 0 && len(hashed) > length {
		hashed = hashed[:length]
	}
	return prefix + hashed
}

// ValidateIDFormat checks id against the configured regex.
func ValidateIDFormat(id string, re *regexp.Regexp) error {
	if re == nil || re.MatchString(id) {
		return nil
	}
	return apperr.Newf(apperr.ErrInvalidID, id, "given id %s does not match id_regex %s", id, re.String())
}

// ValidateStatus checks status against allowed. An empty allow-list or an
// unset status always passes.
func ValidateStatus(needID string, status *string, allowed []string) error {
	if status == nil || len(allowed) == 0 || contains(allowed, *status) {
		return nil
	}
	return apperr.Newf(apperr.ErrStatusNotAllowed, needID, "status %s of need id %s is not allowed by config value 'statuses'", *status, needID)
}

// ValidateTags checks every tag against allowed.
func ValidateTags(needID string, tags, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, t := range tags {
		if !contains(allowed, t) {
			return apperr.Newf(apperr.ErrTagNotAllowed, needID, "tag %s of need id %s is not allowed by config value 'tags'", t, needID)
		}
	}
	return nil
}

// ValidateConstraints checks constraint names against the declared rule
// sets. Unlike statuses and tags there is no open default: a name must be
// declared.
func ValidateConstraints(needID string, names, allowed []string) error {
	for _, c := range names {
		if !contains(allowed, c) {
			return apperr.Newf(apperr.ErrConstraintNotAllowed, needID, "constraint %s of need id %s is not allowed by config value 'constraints'", c, needID)
		}
	}
	return nil
}

// TrimTitle shortens full to maxLen runes ending in "...". A negative maxLen
// disables trimming.
func TrimTitle(full string, maxLen int) string {
	if maxLen < 0 {
		return full
	}
	r := []rune(full)
	if len(r) <= maxLen {
		return full
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
