package capture

import "testing"

func TestIsTargetSite(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"exact host", "https://discord.com/channels/@me", true},
		{"subdomain", "https://ptb.discord.com/app", true},
		{"http scheme", "http://discord.com/login", true},
		{"other site", "https://example.com/discord.com", false},
		{"suffix trick", "https://evildiscord.com/login", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"garbage", "::::", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTargetSite(tt.url, "discord.com"); got != tt.expected {
				t.Errorf("isTargetSite(%q) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}

func TestIsAuthenticatedArea(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"app area", "https://discord.com/channels/@me", true},
		{"login page", "https://discord.com/login", false},
		{"register page", "https://discord.com/register", false},
		{"oauth flow", "https://discord.com/oauth2/authorize", false},
		{"logout page", "https://discord.com/logout", false},
		{"off-domain", "https://example.com/channels", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthenticatedArea(tt.url, "discord.com"); got != tt.expected {
				t.Errorf("isAuthenticatedArea(%q) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}

func TestIsFailurePath(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"logout", "https://discord.com/logout", true},
		{"not found", "https://discord.com/404", true},
		{"error page", "https://discord.com/error?code=500", true},
		{"app area", "https://discord.com/channels/@me", false},
		{"login", "https://discord.com/login", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFailurePath(tt.url); got != tt.expected {
				t.Errorf("isFailurePath(%q) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}
