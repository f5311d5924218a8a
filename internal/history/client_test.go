package history

import (
	"testing"
)

// Note: these are unit tests without a database.
// Integration tests with a real PostgreSQL instance are in client_integration_test.go

func TestNewClient_InvalidDSN(t *testing.T) {
	_, err := NewClient("invalid-dsn")
	if err == nil {
		t.Error("expected error for invalid DSN, got nil")
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 50},
		{-3, 50},
		{1, 1},
		{200, 200},
		{10000, 500},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNullHelpers(t *testing.T) {
	if v := nullString(""); v.Valid {
		t.Error("expected empty string to be NULL")
	}
	if v := nullString("timeout"); !v.Valid || v.String != "timeout" {
		t.Errorf("unexpected %+v", v)
	}
	if v := nullFloat(0, false); v.Valid {
		t.Error("expected invalid float to be NULL")
	}
	if v := nullFloat(3.5, true); !v.Valid || v.Float64 != 3.5 {
		t.Errorf("unexpected %+v", v)
	}
}
