package voice

import "testing"

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		name               string
		in                 string
		title, first, last string
	}{
		{"with title", "Dr. Asha Rao", "Dr.", "Asha", "Rao"},
		{"title no dot", "dr Asha Rao", "dr", "Asha", "Rao"},
		{"professor", "Prof. Vikram Singh Rathore", "Prof.", "Vikram", "Singh Rathore"},
		{"no title", "Asha Rao", "", "Asha", "Rao"},
		{"single name", "Asha", "", "Asha", ""},
		{"title only", "Dr.", "Dr.", "", ""},
		{"empty", "  ", "", "", ""},
		{"not a title", "Drake Ramirez", "", "Drake", "Ramirez"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, first, last := splitFullName(tt.in)
			if title != tt.title || first != tt.first || last != tt.last {
				t.Errorf("splitFullName(%q) = (%q, %q, %q), want (%q, %q, %q)",
					tt.in, title, first, last, tt.title, tt.first, tt.last)
			}
		})
	}
}
