package shellutil

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "'hello world'"},
		{"don't", `'don'\''t'`},
		{"", "''"},
		{"line\nbreak", "'line\nbreak'"},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.input); got != tt.expected {
			t.Errorf("Quote(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"--no-sandbox", "--no-sandbox"},
		{"--user-data-dir=/tmp/vaultdrive-1a2b/profile", "--user-data-dir=/tmp/vaultdrive-1a2b/profile"},
		{"/Applications/Obsidian.app/Contents/MacOS/Obsidian", "/Applications/Obsidian.app/Contents/MacOS/Obsidian"},
		{"Obsidian Sandbox", "'Obsidian Sandbox'"},
		{"a;b", "'a;b'"},
		{"*", "'*'"},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := QuoteIfNeeded(tt.input); got != tt.expected {
			t.Errorf("QuoteIfNeeded(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join("/opt/obsidian/obsidian", "/opt/obsidian/resources/app.asar", "--remote-debugging-port=0", "--vault=My Notes")
	want := "/opt/obsidian/obsidian /opt/obsidian/resources/app.asar --remote-debugging-port=0 '--vault=My Notes'"
	if got != want {
		t.Errorf("Join() = %q, want %q", got, want)
	}
}

func TestEnvLine(t *testing.T) {
	env := []string{"PATH=/usr/bin", "NODE_ENV=development", "CI=true", "GREETING=hi there", "BROKEN"}
	got := EnvLine(env, "NODE_ENV", "CI", "GREETING", "MISSING")
	want := "NODE_ENV=development CI=true GREETING='hi there'"
	if got != want {
		t.Errorf("EnvLine() = %q, want %q", got, want)
	}
	if got := EnvLine(env); got != "" {
		t.Errorf("EnvLine() with no keys = %q, want empty", got)
	}
}
