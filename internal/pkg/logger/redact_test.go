package logger

import "testing"

func TestRedactName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"佐藤太郎", "佐***"},
		{"Tanaka", "T***"},
		{"A", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := RedactName(tt.in); got != tt.want {
			t.Errorf("RedactName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"090-1234-5678", "***5678"},
		{"+81 90 1234 5678", "***5678"},
		{"5678", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := RedactPhone(tt.in); got != tt.want {
			t.Errorf("RedactPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactValueByKey(t *testing.T) {
	if got := redactValue("customer_name", "佐藤太郎"); got != "佐***" {
		t.Errorf("name key not redacted: %q", got)
	}
	if got := redactValue("phone_contact", "090-1234-5678"); got != "***5678" {
		t.Errorf("phone key not redacted: %q", got)
	}
	// Operational identifiers stay readable.
	if got := redactValue("key", "S-001"); got != "S-001" {
		t.Errorf("record key mangled: %q", got)
	}
	// Phone-shaped substrings are caught in arbitrary values.
	if got := redactValue("message", "call 090-1234-5678 tomorrow"); got == "call 090-1234-5678 tomorrow" {
		t.Error("embedded phone number leaked")
	}
}
