package utils

import (
	"strings"
	"testing"
)

func TestStandardizePlate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single letter vehicle type",
			input:    "12G500050",
			expected: "12-G5000.50",
		},
		{
			name:     "another province",
			input:    "51H123456",
			expected: "51-H1234.56",
		},
		{
			name:     "inner whitespace",
			input:    "29A1 23456",
			expected: "29-A1234.56",
		},
		{
			name:     "two letter vehicle type padded",
			input:    "30AB12345",
			expected: "30-AB1234.50",
		},
		{
			name:     "short serial padded with zeros",
			input:    "12G50050",
			expected: "12-G5005.00",
		},
		{
			name:     "long serial truncated",
			input:    "12G5000501234",
			expected: "12-G5000.50",
		},
		{
			name:     "lowercase with surrounding spaces",
			input:    "  12g500050 ",
			expected: "12-G5000.50",
		},
		{
			name:     "already canonical",
			input:    "12-G1234.12",
			expected: "12-G1234.12",
		},
		{
			name:     "old style canonical left alone",
			input:    "51-h1.23456",
			expected: "51-H1.23456",
		},
		{
			name:     "letters in province position",
			input:    "HCM12345",
			expected: "HC-M1234.50",
		},
		{
			name:     "digit branch",
			input:    "1234567890",
			expected: "12-34567.89",
		},
		{
			name:     "digit branch too short to segment",
			input:    "123456789",
			expected: "123456789",
		},
		{
			name:     "short input only cleaned",
			input:    "ab-12",
			expected: "AB12",
		},
		{
			name:     "punctuation removed",
			input:    "12_G5#00*050",
			expected: "12-G5000.50",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StandardizePlate(tt.input)
			if result != tt.expected {
				t.Errorf("StandardizePlate(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStandardizePlateIdempotent(t *testing.T) {
	inputs := []string{
		"12G500050", "51H123456", "29A1 23456", "HCM12345", "1234567890",
		"123456789", "ab-12", "x", "12-G1234.12", "30AB12345", "7", "!!!",
		"12G5000501234", "9999999999999",
	}

	for _, in := range inputs {
		once := StandardizePlate(in)
		twice := StandardizePlate(once)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestStandardizePlateShortInputUnchanged(t *testing.T) {
	inputs := []string{"A", "12", "12G", "12G5", "12G50", "12G500", "12G5000", "AB CD-12"}

	for _, in := range inputs {
		cleaned := nonAlphanumeric.ReplaceAllString(strings.ToUpper(strings.TrimSpace(in)), "")
		if len(cleaned) >= minSegmentLength {
			t.Fatalf("test input %q is not short", in)
		}
		if got := StandardizePlate(in); got != cleaned {
			t.Errorf("StandardizePlate(%q) = %q, want cleaned %q", in, got, cleaned)
		}
	}
}
