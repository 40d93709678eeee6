package supervisor

import "testing"

func TestClassifyDiagnostic(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"alice@bastion: Permission denied (publickey,password).", "auth_failed"},
		{"Received disconnect: Too many authentication failures", "auth_failed"},
		{"connect to host bastion port 22: Connection refused", "connection_refused"},
		{"connect to host bastion port 22: Connection timed out", "connection_timeout"},
		{"connect to host bastion port 22: Operation timed out", "connection_timeout"},
		{"bind [127.0.0.1]:5432: Address already in use", "port_in_use"},
		{"ssh: Could not resolve hostname bastion: Name or service not known", "dns_failure"},
		{"debug1: Connection established.", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := classifyDiagnostic(c.line); got != c.want {
			t.Fatalf("classifyDiagnostic(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}
