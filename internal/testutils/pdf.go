package testutils

import (
	"bytes"
	"fmt"
	"strings"
)

// PDFText places one line of Courier text with its baseline at (X, Y).
type PDFText struct {
	X, Y float64
	Size float64
	Text string
}

// PDFRect is a stroked rectangle, used to draw table rulings.
type PDFRect struct {
	X, Y, W, H float64
}

// PDFLine is a stroked segment drawn with moveto/lineto.
type PDFLine struct {
	X1, Y1, X2, Y2 float64
}

type PDFPage struct {
	Texts []PDFText
	Rects []PDFRect
	Lines []PDFLine
}

// GridLines draws the same table as Grid using one segment per ruling.
func GridLines(x, top, cellW, cellH float64, rows, cols int) []PDFLine {
	right, bottom := x+float64(cols)*cellW, top-float64(rows)*cellH
	out := make([]PDFLine, 0, rows+cols+2)
	for r := 0; r <= rows; r++ {
		y := top - float64(r)*cellH
		out = append(out, PDFLine{X1: x, Y1: y, X2: right, Y2: y})
	}
	for c := 0; c <= cols; c++ {
		cx := x + float64(c)*cellW
		out = append(out, PDFLine{X1: cx, Y1: top, X2: cx, Y2: bottom})
	}
	return out
}

// Grid returns the rulings of a rows x cols table whose top-left corner is at
// (x, top), one rectangle per cell.
func Grid(x, top, cellW, cellH float64, rows, cols int) []PDFRect {
	out := make([]PDFRect, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, PDFRect{X: x + float64(c)*cellW, Y: top - float64(r+1)*cellH, W: cellW, H: cellH})
		}
	}
	return out
}

// BuildPDF writes a minimal, valid PDF 1.4 file with a correct xref table.
// All text uses the standard Courier font with WinAnsi encoding.
func BuildPDF(pages []PDFPage) []byte {
	var objs []string

	// 1: catalog, 2: pages, 3: font, then page/content pairs.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	widths := make([]string, 126-32+1)
	for i := range widths {
		widths[i] = "600"
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>", strings.Join(widths, " ")))

	for i, p := range pages {
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))

		var cs strings.Builder
		for _, r := range p.Rects {
			fmt.Fprintf(&cs, "%.2f %.2f %.2f %.2f re S\n", r.X, r.Y, r.W, r.H)
		}
		for _, l := range p.Lines {
			fmt.Fprintf(&cs, "%.2f %.2f m %.2f %.2f l S\n", l.X1, l.Y1, l.X2, l.Y2)
		}
		for _, t := range p.Texts {
			size := t.Size
			if size == 0 {
				size = 12
			}
			fmt.Fprintf(&cs, "BT /F1 %.0f Tf %.2f %.2f Td (%s) Tj ET\n", size, t.X, t.Y, escapePDFString(t.Text))
		}
		stream := cs.String()
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
