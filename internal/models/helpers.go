package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const repoIDLength = 20

// RepoIDFromURL derives the deterministic repository ID the server assigns
// to a GitHub URL: the first 20 hex chars of its SHA-256 digest.
func RepoIDFromURL(githubURL string) string {
	sum := sha256.Sum256([]byte(githubURL))
	return hex.EncodeToString(sum[:])[:repoIDLength]
}

// RepoNameFromURL extracts the "owner/name" part of a GitHub URL for
// display. Returns the input unchanged when it doesn't look like a URL.
func RepoNameFromURL(githubURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(githubURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return githubURL
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

// Slugify converts a string into a lowercase hyphenated identifier.
// Spaces and underscores become hyphens, other non-alphanumeric
// characters are dropped.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// TruncateWords shortens s to at most n words, appending "..." when
// anything was cut.
func TruncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}
