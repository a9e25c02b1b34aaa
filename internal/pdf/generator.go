// Package pdf renders request text into a single page PDF artifact.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"pdfdispatch/internal/document"
)

// ContentType is the MIME type of every artifact produced here.
const ContentType = "application/pdf"

// Extension is appended to storage keys for rendered artifacts.
const Extension = ".pdf"

// Page geometry in points. Origin is expressed in PDF user space
// (bottom-left), matching what a reader reports for the text run.
const (
	pageWidth  = 612.0
	pageHeight = 792.0
	originX    = 50.0
	originY    = 700.0
	fontFamily = "Times"
	fontSize   = 12.0
)

// Artifact is a rendered document held in memory until it is stored.
type Artifact struct {
	Body        []byte
	ContentType string
}

// Size returns the artifact length in bytes.
func (a Artifact) Size() int64 {
	return int64(len(a.Body))
}

// Renderer renders text with the fixed page layout.
type Renderer struct{}

// NewRenderer returns a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render implements the worker's artifact generator.
func (r *Renderer) Render(text string) (Artifact, error) {
	return Render(text)
}

// Render draws text as one run on a single Letter page.
func Render(text string) (_ Artifact, err error) {
	encoded, err := encodeText(text)
	if err != nil {
		return Artifact{}, document.RenderError("encode text", err)
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	// fpdf reports some internal failures by panicking; keep them inside
	// the render error contract.
	defer func() {
		if rec := recover(); rec != nil {
			err = document.RenderError("render pdf", fmt.Errorf("renderer panic: %v", rec))
		}
	}()

	doc.SetCreator("pdfdispatch", false)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()
	doc.SetFont(fontFamily, "", fontSize)
	// fpdf measures y from the top edge.
	doc.Text(originX, pageHeight-originY, encoded)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return Artifact{}, document.RenderError("render pdf", err)
	}

	return Artifact{Body: buf.Bytes(), ContentType: ContentType}, nil
}

var errInvalidUTF8 = errors.New("text is not valid utf-8")

// encodeText converts text to the single-byte encoding used by the
// standard Type1 fonts.
func encodeText(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", errInvalidUTF8
	}
	for i, r := range text {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("control character %U at byte %d cannot be shown", r, i)
		}
	}
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil {
		return "", fmt.Errorf("text not representable in %s font: %w", fontFamily, err)
	}
	return encoded, nil
}
