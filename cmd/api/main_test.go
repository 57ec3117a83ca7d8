package main

import (
	"os"
	"testing"
)

func TestGetEnvDefault(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback string
		want     string
	}{
		{name: "set value wins", value: "redis:6379", fallback: "localhost:6379", want: "redis:6379"},
		{name: "empty falls back", value: "", fallback: "localhost:6379", want: "localhost:6379"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "SCOUTLY_TEST_ENV_DEFAULT"
			os.Unsetenv(key)
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}

			if got := getEnvDefault(key, tt.fallback); got != tt.want {
				t.Errorf("getEnvDefault(%q, %q) = %q, want %q", key, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback float64
		want     float64
	}{
		{name: "parses float", value: "0.25", fallback: 1.0, want: 0.25},
		{name: "unset falls back", value: "", fallback: 0.1, want: 0.1},
		{name: "garbage falls back", value: "lots", fallback: 0.5, want: 0.5},
		{name: "integer accepted", value: "2", fallback: 0.5, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "SCOUTLY_TEST_ENV_FLOAT"
			os.Unsetenv(key)
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}

			if got := getEnvFloat(key, tt.fallback); got != tt.want {
				t.Errorf("getEnvFloat(%q, %v) = %v, want %v", key, tt.fallback, got, tt.want)
			}
		})
	}
}
