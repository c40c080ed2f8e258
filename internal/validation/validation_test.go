package validation

import (
	"testing"
)

func TestValidPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"9876543210", true},
		{"+919876543210", true},
		{"6123456789", true},

		// Invalid cases
		{"1234567890", false},      // Starts below 6
		{"987654321", false},       // Too short
		{"98765432100", false},     // Too long
		{"+919876543", false},      // Too short with prefix
		{"98765abc10", false},      // Non-digits
		{"", false},
	}

	for _, tc := range tests {
		result := ValidPhone(tc.phone)
		if result != tc.valid {
			t.Errorf("ValidPhone(%q) = %v, want %v", tc.phone, result, tc.valid)
		}
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"dlr_a1b2c3d4e5f6", true},
		{"lead_0123456789abcdef", true},
		{"lst_ABCDEF12", true},

		// Invalid cases
		{"a1b2c3d4", false},       // No prefix
		{"dlr_", false},           // Empty suffix
		{"dlr_ab", false},         // Suffix too short
		{"DLR_a1b2c3d4e5", false}, // Uppercase prefix
		{"", false},
	}

	for _, tc := range tests {
		result := ValidID(tc.id)
		if result != tc.valid {
			t.Errorf("ValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errors := Validate(
		Required("name", "Asha"),
		ValidPhoneField("phone", "9876543210"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	errors = Validate(
		Required("name", ""),
		ValidPhoneField("phone", "12345"),
	)
	if len(errors) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errors))
	}
	if errors[0].Field != "name" || errors[1].Field != "phone" {
		t.Errorf("Unexpected error fields: %v", errors)
	}
}

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"deadbeef", true},
		{"ABCDEF01", true},
		{"xyz", false},
		{"", false},
	}

	for _, tc := range tests {
		if IsValidHex(tc.input) != tc.valid {
			t.Errorf("IsValidHex(%q) = %v, want %v", tc.input, !tc.valid, tc.valid)
		}
	}
}
