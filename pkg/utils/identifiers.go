package utils

import "strings"

// SanitizeIdentifier makes an identifier safe for filesystem paths and
// temp-file names. Writer IDs embed hostnames and timestamps that can carry
// colons and slashes; those are replaced with dashes.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}
