// Package geotime resolves loosely written timezone names to IANA zones.
package geotime

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teranos/exportd/errors"
)

var timezoneByAbbreviation = map[string]string{
	"utc":  "UTC",
	"gmt":  "UTC",
	"brt":  "America/Sao_Paulo",
	"brst": "America/Sao_Paulo",
	"amt":  "America/Manaus",
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"wet":  "Europe/Lisbon",
	"west": "Europe/Lisbon",
}

// NormalizeTimezone attempts to resolve user input into a valid IANA timezone.
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("timezone cannot be empty")
	}

	if tz, ok := timezoneByAbbreviation[strings.ToLower(trimmed)]; ok {
		return tz, nil
	}

	if isValidTimezone(trimmed) {
		if canonical := canonicalizeValidTimezone(trimmed); canonical != "" {
			return canonical, nil
		}
		// Preserves names like "America/Port_of_Spain"
		return trimmed, nil
	}

	candidate := sanitizeTimezone(trimmed)
	if isValidTimezone(candidate) {
		return candidate, nil
	}

	return "", errors.Newf("unknown timezone: %s", input)
}

// DetectLocalTimezone attempts to determine the host operating system timezone.
func DetectLocalTimezone() (string, error) {
	if tz := os.Getenv("TZ"); tz != "" {
		if isValidTimezone(tz) {
			return tz, nil
		}
	}

	if name := time.Now().Location().String(); name != "" && name != "Local" {
		if isValidTimezone(name) {
			return name, nil
		}
	}

	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		tz := sanitizeTimezone(string(data))
		if isValidTimezone(tz) {
			return tz, nil
		}
	}

	if tz, err := readZoneinfoSymlink("/etc/localtime"); err == nil && tz != "" {
		return tz, nil
	}

	return "", errors.New("could not detect local timezone: tried TZ env var, time.Now().Location(), /etc/timezone, /etc/localtime")
}

func readZoneinfoSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	idx := strings.Index(resolved, "zoneinfo")
	if idx == -1 {
		return "", errors.New("zoneinfo segment not found")
	}
	candidate := strings.TrimPrefix(resolved[idx+len("zoneinfo"):], string(filepath.Separator))
	candidate = strings.ReplaceAll(candidate, string(os.PathSeparator), "/")
	if isValidTimezone(candidate) {
		return candidate, nil
	}
	return "", errors.Newf("invalid timezone: %q (from %s)", candidate, path)
}

func sanitizeTimezone(tz string) string {
	trimmed := strings.TrimSpace(tz)
	trimmed = strings.Trim(trimmed, "\"'")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		parts[i] = titleSegment(part)
	}
	return strings.Join(parts, "/")
}

// titleSegment capitalizes each underscore-separated word: sao_paulo -> Sao_Paulo
func titleSegment(s string) string {
	words := strings.Split(strings.ToLower(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, "_")
}

func isValidTimezone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// canonicalizeValidTimezone fixes capitalization of an otherwise loadable
// name, or returns "" when the name already looks canonical.
func canonicalizeValidTimezone(tz string) string {
	if !hasIncorrectCapitalization(tz) {
		return ""
	}
	candidate := sanitizeTimezone(tz)
	if isValidTimezone(candidate) && candidate != tz {
		return candidate
	}
	return ""
}

func hasIncorrectCapitalization(tz string) bool {
	if strings.ToLower(tz) == tz {
		return true
	}
	for _, part := range strings.Split(tz, "/") {
		if len(part) > 0 && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}
