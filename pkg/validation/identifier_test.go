package validation

import (
	"testing"
)

func TestValidateComponentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid ids
		{"simple", "btn1", false},
		{"single char", "a", false},
		{"uppercase", "Header", false},
		{"with underscore", "nav_bar", false},
		{"with hyphen", "side-panel", false},
		{"all digits", "42", false},
		{"max length", "a123456789012345678901234567890123456789012345678901234567890123", false},

		// Invalid ids - path and key escapes
		{"empty", "", true},
		{"dot segment", "canvas.zoom", true},
		{"path traversal", "../secrets", true},
		{"slash", "a/b", true},
		{"newline", "btn\n1", true},
		{"spaces", "bt n1", true},
		{"too long", "a1234567890123456789012345678901234567890123456789012345678901234", true},
		{"starts with underscore", "_schema_version", true},
		{"starts with hyphen", "-btn", true},
		{"special chars", "btn@#$", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponentID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateComponentID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateComponentIDs(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"btn1", "nav_bar", "panel"}, false},
		{"one invalid", []string{"btn1", "a.b", "panel"}, true},
		{"all invalid", []string{"", ".."}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponentIDs(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateComponentIDs(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeComponentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"passthrough", "btn1", "btn1", false},
		{"spaces trimmed", "  btn1  ", "btn1", false},
		{"inner space rejected", "bt n1", "", true},
		{"dot rejected", "a.b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeComponentID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeComponentID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeComponentID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
