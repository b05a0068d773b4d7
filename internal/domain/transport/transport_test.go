package transport

import "testing"

func TestCompareMessageIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"5", "5", 0},
		{"5", "7", -1},
		{"9", "10", -1},
		{"10", "9", 1},
		// Discord snowflakes exceed int64 range comfortably handled
		{"1234567890123456789012", "1234567890123456789013", -1},
		// Slack ts
		{"1712345678.000100", "1712345678.000099", 1},
		{"1712345678.5", "1712345679", -1},
		// non numeric
		{"abc", "abd", -1},
		{"zz", "aaa", -1},
	}

	for _, tt := range tests {
		if got := CompareMessageIDs(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareMessageIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAccountDisplayName(t *testing.T) {
	a := Account{Username: "relaybot", FirstName: "Relay", LastName: "Bot"}
	if a.DisplayName() != "Relay Bot" {
		t.Errorf("Expected 'Relay Bot', got '%s'", a.DisplayName())
	}

	b := Account{Username: "relaybot"}
	if b.DisplayName() != "relaybot" {
		t.Errorf("Expected 'relaybot', got '%s'", b.DisplayName())
	}
}
