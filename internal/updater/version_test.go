package updater

import "testing"

func TestSameVersion(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.0", "1.2.0", true},
		{"v1.2.0", "1.2.0", true},
		{" 1.2 ", "v1.2.0", true},
		{"1.2.0", "1.2.1", false},
		{"1.2.0-beta.1", "v1.2.0-beta.1", true},
		{"dev", "dev", true},
		{"dev", "v0.0.0", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := sameVersion(tt.a, tt.b); got != tt.want {
			t.Errorf("sameVersion(%q, %q) = %t, want %t", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsDowngrade(t *testing.T) {
	tests := []struct {
		current, target string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"1.2.0", "1.2.0-beta.1", true},
		{"1.2.0-beta.1", "1.2.0", false},
		{"1.2.0", "2.0.0", false},
		{"dev", "0.1.0", false},
		{"1.0.0", "nightly", false},
	}
	for _, tt := range tests {
		if got := isDowngrade(tt.current, tt.target); got != tt.want {
			t.Errorf("isDowngrade(%q, %q) = %t, want %t", tt.current, tt.target, got, tt.want)
		}
	}
}
