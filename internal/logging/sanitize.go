package logging

import "strings"

// SanitizeForLog strips newlines and control characters from client-supplied
// strings (paths, hosts, event names) so they cannot forge log entries.
func SanitizeForLog(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
