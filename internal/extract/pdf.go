package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	ErrMalformed = errors.New("malformed pdf")
	ErrNotPDF    = errors.New("not a pdf document")
)

var pdfMagic = []byte("%PDF-")

// Extractor reads page content from PDF bytes. It holds no state and is safe
// for concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the pages in [start, end), zero-indexed. A negative end, or
// one past the last page, means the end of the document. Any unreadable page
// fails the whole call.
func (e *Extractor) Extract(ctx context.Context, data []byte, start, end int) ([]PageContent, error) {
	r, err := open(data)
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	if start < 0 {
		start = 0
	}
	if end < 0 || end > n {
		end = n
	}
	if start >= end {
		return []PageContent{}, nil
	}

	pages := make([]PageContent, 0, end-start)
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i + 1)
		if p.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d missing from page tree", ErrMalformed, i+1)
		}
		glyphs, rects, err := readPage(p)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrMalformed, i+1, err)
		}
		pages = append(pages, PageContent{Index: i, Fragments: LayoutPage(glyphs, rects)})
	}
	return pages, nil
}

// Validate performs a structural check and returns the page count.
func Validate(data []byte) (int, error) {
	r, err := open(data)
	if err != nil {
		return 0, err
	}
	n := r.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("%w: no pages", ErrMalformed)
	}
	return n, nil
}

func open(data []byte) (r *pdf.Reader, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, ErrNotPDF
	}
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()

	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// readPage converts the page content stream. The pdf package panics on
// corrupt streams, so panics are turned into errors here.
func readPage(p pdf.Page) (glyphs []Glyph, rects []Box, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			glyphs, rects, err = nil, nil, fmt.Errorf("%v", rec)
		}
	}()

	c := p.Content()
	glyphs = make([]Glyph, 0, len(c.Text))
	for _, t := range c.Text {
		glyphs = append(glyphs, Glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	rects = make([]Box, 0, len(c.Rect))
	for _, rc := range c.Rect {
		b := Box{MinX: rc.Min.X, MinY: rc.Min.Y, MaxX: rc.Max.X, MaxY: rc.Max.Y}
		if b.MinX > b.MaxX {
			b.MinX, b.MaxX = b.MaxX, b.MinX
		}
		if b.MinY > b.MaxY {
			b.MinY, b.MaxY = b.MaxY, b.MinY
		}
		rects = append(rects, b)
	}
	rects = append(rects, lineRules(p.V.Key("Contents"))...)
	return glyphs, rects, nil
}
