package utils

import (
	"errors"
	"testing"
)

// TestValidateQualityValid verifies the accepted grades
func TestValidateQualityValid(t *testing.T) {
	for q := MinQuality; q <= MaxQuality; q++ {
		if err := ValidateQuality(q); err != nil {
			t.Errorf("ValidateQuality(%d) returned error: %v", q, err)
		}
	}
}

// TestValidateQualityInvalid verifies out-of-range grades are rejected
func TestValidateQualityInvalid(t *testing.T) {
	for _, q := range []int{-1, 6, 100} {
		err := ValidateQuality(q)
		if err == nil {
			t.Errorf("ValidateQuality(%d) should fail", q)
			continue
		}
		var errWithSuggestion *ErrorWithSuggestion
		if !errors.As(err, &errWithSuggestion) {
			t.Errorf("ValidateQuality(%d) should return *ErrorWithSuggestion", q)
		}
	}
}

// TestParseQuality verifies parsing and range checking together
func TestParseQuality(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{" 4 ", 4, false},
		{"5", 5, false},
		{"6", 6, true},
		{"-1", -1, true},
		{"good", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQuality(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQuality(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseQuality(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidateUsername verifies usernames safe to use as key suffixes
func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"alice", true},
		{"bob_99", true},
		{"x.y-z", true},
		{"", false},
		{"   ", false},
		{"a", false},
		{"has space", false},
		{"slash/name", false},
		{"hash#tag", false},
		{"thisusernameiswaytoolongforthevalidator", false},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.valid && err != nil {
				t.Errorf("ValidateUsername(%q) unexpected error: %v", tt.username, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateUsername(%q) should fail", tt.username)
			}
		})
	}
}

// TestValidateEmail verifies registration addresses
func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("alice@example.com"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	for _, bad := range []string{"", "alice", "alice@", "@example.com"} {
		if err := ValidateEmail(bad); err == nil {
			t.Errorf("ValidateEmail(%q) should fail", bad)
		}
	}
}
