// Package export writes extraction results to delimited files.
package export

import (
	"regexp"
	"strings"

	"github.com/teranos/exportd/errors"
)

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespace   = regexp.MustCompile(`\s+`)
	readPrefix   = regexp.MustCompile(`^(SELECT|WITH|SHOW|DESCRIBE|EXPLAIN)\b`)
	writeKeyword = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|MERGE)\b`)
)

// NormalizeQuery strips comments, collapses whitespace and upper-cases.
func NormalizeQuery(query string) string {
	q := blockComment.ReplaceAllString(query, " ")
	q = lineComment.ReplaceAllString(q, " ")
	q = whitespace.ReplaceAllString(q, " ")
	return strings.ToUpper(strings.TrimSpace(q))
}

// IsReadOnly reports whether query is a pure read: it starts with a read
// keyword and names no data or schema modifying keyword anywhere.
func IsReadOnly(query string) bool {
	q := NormalizeQuery(query)
	return readPrefix.MatchString(q) && !writeKeyword.MatchString(q)
}

// CheckReadOnly returns ErrNotReadOnly, wrapped with the offending keyword
// when there is one, for an empty or non read-only query.
func CheckReadOnly(query string) error {
	q := NormalizeQuery(query)
	if q == "" {
		return errors.Wrap(errors.ErrNotReadOnly, "query is empty")
	}
	if !readPrefix.MatchString(q) {
		return errors.Wrapf(errors.ErrNotReadOnly, "query starts with %q", firstWord(q))
	}
	if kw := writeKeyword.FindString(q); kw != "" {
		return errors.Wrapf(errors.ErrNotReadOnly, "query contains %s", kw)
	}
	return nil
}

func firstWord(q string) string {
	if i := strings.IndexByte(q, ' '); i > 0 {
		return q[:i]
	}
	return q
}
