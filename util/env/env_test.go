package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseNumFromEnv(t *testing.T) {
	const envKey = "WINDLASS_TEST_NUM"

	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"Unset uses default", "", 10},
		{"Valid number", "42", 42},
		{"Not a number uses default", "forty-two", 10},
		{"Below minimum uses default", "-1", 10},
		{"Above maximum uses default", "1001", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envKey, tt.value)
			assert.Equal(t, tt.expected, ParseNumFromEnv(envKey, 10, 0, 1000))
		})
	}
}

func TestParseDurationFromEnv(t *testing.T) {
	const envKey = "WINDLASS_TEST_DURATION"

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{"Unset uses default", "", 3 * time.Second},
		{"Valid duration", "2m", 2 * time.Minute},
		{"Garbage uses default", "soon", 3 * time.Second},
		{"Below minimum uses default", "1ms", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envKey, tt.value)
			assert.Equal(t, tt.expected, ParseDurationFromEnv(envKey, 3*time.Second, time.Second, time.Hour))
		})
	}
}

func TestParseBoolFromEnv(t *testing.T) {
	const envKey = "WINDLASS_TEST_BOOL"

	t.Setenv(envKey, "true")
	assert.True(t, ParseBoolFromEnv(envKey, false))
	t.Setenv(envKey, "FALSE")
	assert.False(t, ParseBoolFromEnv(envKey, true))
	t.Setenv(envKey, "maybe")
	assert.True(t, ParseBoolFromEnv(envKey, true))
}

func TestStringFromEnv(t *testing.T) {
	const envKey = "WINDLASS_TEST_STRING"

	t.Setenv(envKey, "")
	assert.Equal(t, "default", StringFromEnv(envKey, "default"))
	t.Setenv(envKey, "value")
	assert.Equal(t, "value", StringFromEnv(envKey, "default"))
}
