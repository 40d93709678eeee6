package supervisor

import "strings"

// Known failure patterns on ssh's stderr. Classification is diagnostic
// only: it drives logging and metrics, never the status taxonomy.
var knownFailures = []struct {
	class   string
	pattern string
}{
	{"auth_failed", "permission denied"},
	{"auth_failed", "authentication failed"},
	{"auth_failed", "too many authentication failures"},
	{"connection_refused", "connection refused"},
	{"connection_timeout", "connection timed out"},
	{"connection_timeout", "operation timed out"},
	{"port_in_use", "address already in use"},
	{"dns_failure", "could not resolve hostname"},
	{"dns_failure", "name or service not known"},
}

// classifyDiagnostic matches one stderr line against the known failure
// substrings and returns the class, or "" for unremarkable lines.
func classifyDiagnostic(line string) string {
	lower := strings.ToLower(line)
	for _, f := range knownFailures {
		if strings.Contains(lower, f.pattern) {
			return f.class
		}
	}
	return ""
}
