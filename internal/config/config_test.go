package config

import (
	"strings"
	"testing"
)

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", ""},
		{"short fully masked", "pass", maskedValue},
		{"exactly eight fully masked", "12345678", maskedValue},
		{"long keeps edges", "stoa_dev_password", "st<" + maskedValue + ">rd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := maskSecret(tt.secret); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

func TestMaskSecretNeverContainsMiddle(t *testing.T) {
	t.Parallel()

	secret := "abcdefghijklmnop"
	masked := maskSecret(secret)
	if strings.Contains(masked, secret[2:len(secret)-2]) {
		t.Errorf("masked value %q leaks the secret body", masked)
	}
}

func TestOtelConfigEnabled(t *testing.T) {
	t.Parallel()

	if (OtelConfig{}).Enabled() {
		t.Error("empty agent host reported enabled")
	}
	if !(OtelConfig{AgentHost: "localhost:4318"}).Enabled() {
		t.Error("configured agent host reported disabled")
	}
}
