package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("SALESPIPE_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("SALESPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v", tt.val, tt.def, got)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"48h", 48 * time.Hour},
		{"-5m", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("SALESPIPE_TEST_DURATION", tt.val)
		if got := ParseDurationEnv("SALESPIPE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("SALESPIPE_TEST_STR", "  ")
	if got := EnvOr("SALESPIPE_TEST_STR", "def"); got != "def" {
		t.Errorf("blank value: got %q", got)
	}
	t.Setenv("SALESPIPE_TEST_STR", " :9090 ")
	if got := EnvOr("SALESPIPE_TEST_STR", "def"); got != ":9090" {
		t.Errorf("got %q", got)
	}
}
