package utils

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"", 5, ""},
		{"abc", 2, "ab"},
		{"abc", 3, "abc"},
	}

	for _, tt := range tests {
		result := TruncateString(tt.input, tt.length)
		if result != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q; want %q", tt.input, tt.length, result, tt.expected)
		}
	}
}

func TestShortAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x9858EfFD232B4033E47d90003D41EC34EcaEda94", "0x9858…da94"},
		{"0x1234", "0x1234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ShortAddress(tt.input)
		if result != tt.expected {
			t.Errorf("ShortAddress(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"1234.56", "1,234.56"},
		{"-1234", "-1,234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := AddCommas(tt.input)
		if result != tt.expected {
			t.Errorf("AddCommas(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		input    string
		places   int
		expected string
	}{
		{"1234.5678", 2, "1,234.56"},
		{"1234.5", 2, "1,234.50"},
		{"0", 4, "0.0000"},
		{"12.5", 4, "12.5000"},
		{"0.00009", 4, "0.0000"},
	}

	for _, tt := range tests {
		result := FormatDecimal(decimal.RequireFromString(tt.input), tt.places)
		if result != tt.expected {
			t.Errorf("FormatDecimal(%s, %d) = %q; want %q", tt.input, tt.places, result, tt.expected)
		}
	}
}

func TestBaseUnitConversion(t *testing.T) {
	wei := ToBaseUnits(decimal.RequireFromString("0.001"), 18)
	if wei.String() != "1000000000000000" {
		t.Errorf("ToBaseUnits(0.001, 18) = %s", wei)
	}

	raw, _ := new(big.Int).SetString("22B1C8C1227A0000", 16)
	human := FromBaseUnits(raw, 18)
	if !human.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("FromBaseUnits = %s; want 2.5", human)
	}

	if !FromBaseUnits(nil, 18).IsZero() {
		t.Errorf("FromBaseUnits(nil) should be zero")
	}

	usdc := ToBaseUnits(decimal.RequireFromString("12.345678"), 6)
	if usdc.Int64() != 12345678 {
		t.Errorf("ToBaseUnits(12.345678, 6) = %s", usdc)
	}
}
