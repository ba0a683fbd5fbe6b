package providers

import (
	"strings"
	"testing"
)

func TestParseDocumentClass(t *testing.T) {
	tests := []struct {
		in      string
		want    DocumentClass
		wantErr bool
	}{
		{in: "", want: ClassGeneral},
		{in: "general", want: ClassGeneral},
		{in: "Financial", want: ClassFinancial},
		{in: " financial ", want: ClassFinancial},
		{in: "legal", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDocumentClass(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDocumentClass(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDocumentClass(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDocumentClass_Instruction(t *testing.T) {
	general, err := ClassGeneral.Instruction()
	if err != nil {
		t.Fatalf("general: %v", err)
	}
	financial, err := ClassFinancial.Instruction()
	if err != nil {
		t.Fatalf("financial: %v", err)
	}

	if general != PromptGeneral {
		t.Error("general class must map to the general instruction")
	}
	if financial != PromptFinancial {
		t.Error("financial class must map to the financial instruction")
	}
	if strings.Contains(general, "<table></table>") {
		t.Error("general instruction must not ask for <table></table> wrapping")
	}
	if !strings.HasSuffix(financial, "Only return HTML table within <table></table>.") {
		t.Error("financial instruction must end with the table constraint")
	}
	if !strings.Contains(general, "tables in html format") || !strings.Contains(financial, "tables in HTML format") {
		t.Error("unexpected table wording")
	}

	if _, err := DocumentClass("other").Instruction(); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestClasses(t *testing.T) {
	classes := Classes()
	if len(classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(classes))
	}
	for _, c := range classes {
		if _, err := c.Instruction(); err != nil {
			t.Errorf("class %q has no instruction", c)
		}
	}
}
