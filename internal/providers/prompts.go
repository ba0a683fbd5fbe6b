package providers

import (
	"fmt"
	"strings"
)

// DocumentClass selects which fixed instruction is sent with each page.
type DocumentClass string

const (
	ClassGeneral   DocumentClass = "general"
	ClassFinancial DocumentClass = "financial"
)

// PromptGeneral asks for natural reading order with HTML tables and LaTeX equations.
const PromptGeneral = "Extract the text from the above document as if you were reading it naturally. " +
	"Return the tables in html format. Return the equations in LaTeX representation. " +
	"If there is an image in the document and image caption is not present, add a small description of the image inside the <img></img> tag; " +
	"otherwise, add the image caption inside <img></img>. " +
	"Watermarks should be wrapped in brackets. Ex: <watermark>OFFICIAL COPY</watermark>. " +
	"Page numbers should be wrapped in brackets. Ex: <page_number>14</page_number> or <page_number>9/22</page_number>. " +
	"Prefer using ☐ and ☑ for check boxes."

// PromptFinancial is PromptGeneral with tables constrained to <table></table> HTML.
const PromptFinancial = "Extract the text from the above document as if you were reading it naturally. " +
	"Return the tables in HTML format. Return the equations in LaTeX representation. " +
	"If there is an image in the document and image caption is not present, add a small description of the image inside the <img></img> tag; " +
	"otherwise, add the image caption inside <img></img>. " +
	"Watermarks should be wrapped in brackets. Ex: <watermark>OFFICIAL COPY</watermark>. " +
	"Page numbers should be wrapped in brackets. Ex: <page_number>14</page_number> or <page_number>9/22</page_number>. " +
	"Prefer using ☐ and ☑ for check boxes. Only return HTML table within <table></table>."

// PromptHunyuan is the markdown-oriented instruction used with HunyuanOCR.
const PromptHunyuan = "Extract all information from the main body of the document image and represent it in markdown format, " +
	"ignoring headers and footers. Tables should be expressed in HTML format, formulas in the document should be " +
	"represented using LaTeX format, and the parsing should be organized according to the reading order."

// PromptSmoke is the short instruction used by the smoke test image.
const PromptSmoke = "Extract the text from this image."

var classPrompts = map[DocumentClass]string{
	ClassGeneral:   PromptGeneral,
	ClassFinancial: PromptFinancial,
}

// ParseDocumentClass parses a class tag. Empty means general.
func ParseDocumentClass(s string) (DocumentClass, error) {
	c := DocumentClass(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return ClassGeneral, nil
	}
	if _, ok := classPrompts[c]; !ok {
		return "", fmt.Errorf("unknown document class %q (want general or financial)", s)
	}
	return c, nil
}

// Instruction returns the fixed instruction for the class.
func (c DocumentClass) Instruction() (string, error) {
	p, ok := classPrompts[c]
	if !ok {
		return "", fmt.Errorf("unknown document class %q", string(c))
	}
	return p, nil
}

// Classes lists the known document classes.
func Classes() []DocumentClass {
	return []DocumentClass{ClassGeneral, ClassFinancial}
}
