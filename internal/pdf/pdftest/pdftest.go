// Package pdftest reads rendered artifacts back for assertions in tests.
package pdftest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
	rscpdf "rsc.io/pdf"
)

// Page describes the single page of a rendered artifact.
type Page struct {
	// Text is the concatenation of every shown string, in stream order.
	Text string
	// Font is the base font name of the first text run.
	Font string
	// FontSize is the size set by the first Tf operator.
	FontSize float64
	// X and Y are the operands of the first Td operator.
	X, Y float64
}

// ReadPage parses body, requires exactly one page and interprets its
// content stream. Strings are taken from Tj, TJ, ' and " operands and
// decoded as WinAnsi, so spaces survive even though the standard fonts
// carry no glyph widths.
func ReadPage(body []byte) (Page, error) {
	r, err := rscpdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Page{}, fmt.Errorf("open pdf: %w", err)
	}
	if n := r.NumPage(); n != 1 {
		return Page{}, fmt.Errorf("expected 1 page, got %d", n)
	}
	page := r.Page(1)
	contents := page.V.Key("Contents")
	if contents.Kind() != rscpdf.Stream {
		return Page{}, errors.New("page has no content stream")
	}

	var (
		out      Page
		raw      strings.Builder
		sawTd    bool
		sawFont  bool
		fontName string
	)
	rscpdf.Interpret(contents, func(stk *rscpdf.Stack, op string) {
		args := make([]rscpdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "Tf":
			if !sawFont && len(args) == 2 {
				sawFont = true
				fontName = args[0].Name()
				out.FontSize = args[1].Float64()
			}
		case "Td":
			if !sawTd && len(args) == 2 {
				sawTd = true
				out.X = args[0].Float64()
				out.Y = args[1].Float64()
			}
		case "Tj", "'":
			if len(args) == 1 {
				raw.WriteString(args[0].RawString())
			}
		case "\"":
			if len(args) == 3 {
				raw.WriteString(args[2].RawString())
			}
		case "TJ":
			if len(args) == 1 {
				for i := 0; i < args[0].Len(); i++ {
					if v := args[0].Index(i); v.Kind() == rscpdf.String {
						raw.WriteString(v.RawString())
					}
				}
			}
		}
	})

	text, err := charmap.Windows1252.NewDecoder().String(raw.String())
	if err != nil {
		return Page{}, fmt.Errorf("decode text: %w", err)
	}
	out.Text = text

	if fontName != "" {
		font := page.Resources().Key("Font").Key(fontName)
		out.Font = font.Key("BaseFont").Name()
	}
	return out, nil
}

// ExtractText returns the text shown on the single page of body.
func ExtractText(body []byte) (string, error) {
	p, err := ReadPage(body)
	if err != nil {
		return "", err
	}
	return p.Text, nil
}
