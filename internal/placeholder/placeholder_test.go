package placeholder

import (
	"reflect"
	"testing"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty string", "", []string{}},
		{"no placeholders", "plain text { not } one", []string{}},
		{"duplicates collapsed", "{{a}}{{b}}{{a}}", []string{"a", "b"}},
		{"names kept verbatim", "{{ City }} {{city}}", []string{" City ", "city"}},
		{"empty braces ignored", "{{}} {{x}}", []string{"x"}},
		{"inner brace ends match", "{{a}b}} {{c}}", []string{"c"}},
		{"html around tokens", "<p>Welcome to {{city}}, {{state}}!</p>", []string{"city", "state"}},
		{"triple braces", "{{{x}}}", []string{"{x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scan(tt.text).Sorted()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scan(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestScanTemplate(t *testing.T) {
	got := ScanTemplate("Visit {{city}}", "Welcome to {{city}}, {{state}}!")
	want := []string{"city", "state"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanTemplate = %q, want %q", got, want)
	}
}

func TestSetOps(t *testing.T) {
	a := Scan("{{x}} {{y}}")
	b := Scan("{{y}} {{z}}")

	if got := a.Union(b).Sorted(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("Union = %q", got)
	}
	if got := a.Difference(b).Sorted(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Difference = %q", got)
	}
	if !a.Has("x") || a.Has("z") {
		t.Errorf("Has returned wrong membership for %v", a)
	}
	if Token("city") != "{{city}}" {
		t.Errorf("Token = %q", Token("city"))
	}
}
