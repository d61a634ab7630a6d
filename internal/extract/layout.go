package extract

import (
	"math"
	"sort"
	"strings"
)

const (
	// edgeTolerance is how far apart (in points) two ruling edges may be and
	// still count as the same grid line.
	edgeTolerance = 2.0
	// spaceGapRatio is the fraction of the font size a horizontal gap must
	// exceed before a space is inserted between glyphs.
	spaceGapRatio = 0.25
	emptyCell     = "None"
)

// Glyph is a positioned run of text on a page. Y is the baseline; PDF
// coordinates grow upward.
type Glyph struct {
	X, Y, W, Size float64
	S             string
}

type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Box) contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b Box) touches(o Box, tol float64) bool {
	return b.MinX <= o.MaxX+tol && o.MinX <= b.MaxX+tol &&
		b.MinY <= o.MaxY+tol && o.MinY <= b.MaxY+tol
}

func (b Box) union(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentTable
)

// Fragment is one text line or one linearised table, keyed by its vertical
// position on the page.
type Fragment struct {
	Kind FragmentKind
	Text string
	Top  float64
}

type PageContent struct {
	Index     int
	Fragments []Fragment
}

func (p PageContent) Text() string {
	parts := make([]string, 0, len(p.Fragments))
	for _, f := range p.Fragments {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, "\n")
}

func (p PageContent) Empty() bool {
	return strings.TrimSpace(p.Text()) == ""
}

// Concat joins page texts in page order, dropping pages without text.
func Concat(pages []PageContent) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Empty() {
			continue
		}
		parts = append(parts, p.Text())
	}
	return strings.Join(parts, "\n")
}

// Table is a ruled grid. Columns are left to right; rows are top to bottom.
type Table struct {
	Bounds Box
	cols   []float64
	rows   []float64
}

func (t Table) cell(x, y float64) (row, col int, ok bool) {
	col = span(t.cols, x)
	row = len(t.rows) - 2 - span(t.rows, y)
	if col < 0 || row < 0 || row >= len(t.rows)-1 {
		return 0, 0, false
	}
	return row, col, true
}

// span returns i such that edges[i] <= v < edges[i+1], or -1.
func span(edges []float64, v float64) int {
	for i := 0; i+1 < len(edges); i++ {
		if v >= edges[i] && v < edges[i+1] {
			return i
		}
	}
	if n := len(edges); n >= 2 && v == edges[n-1] {
		return n - 2
	}
	return -1
}

// DetectTables clusters touching ruling rectangles into grids. A cluster
// becomes a table when its distinct edges form at least two cells.
func DetectTables(rects []Box) []Table {
	if len(rects) == 0 {
		return nil
	}

	parent := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range rects {
		for j := i + 1; j < len(rects); j++ {
			if rects[i].touches(rects[j], edgeTolerance) {
				parent[find(i)] = find(j)
			}
		}
	}

	clusters := map[int][]Box{}
	var order []int
	for i, r := range rects {
		root := find(i)
		if _, seen := clusters[root]; !seen {
			order = append(order, root)
		}
		clusters[root] = append(clusters[root], r)
	}

	var tables []Table
	for _, root := range order {
		members := clusters[root]
		bounds := members[0]
		var xs, ys []float64
		for _, m := range members {
			bounds = bounds.union(m)
			xs = append(xs, m.MinX, m.MaxX)
			ys = append(ys, m.MinY, m.MaxY)
		}
		cols := dedupeEdges(xs)
		rows := dedupeEdges(ys)
		if len(cols) < 2 || len(rows) < 2 {
			continue
		}
		if (len(cols)-1)*(len(rows)-1) < 2 {
			continue
		}
		tables = append(tables, Table{Bounds: bounds, cols: cols, rows: rows})
	}
	return tables
}

func dedupeEdges(vals []float64) []float64 {
	sort.Float64s(vals)
	var out []float64
	for _, v := range vals {
		if len(out) > 0 && v-out[len(out)-1] <= edgeTolerance {
			continue
		}
		out = append(out, v)
	}
	return out
}

// LayoutPage turns raw glyphs and ruling rectangles into fragments ordered
// top of page first. Glyphs inside a table are consumed by that table and
// never appear as free text.
func LayoutPage(glyphs []Glyph, rects []Box) []Fragment {
	tables := DetectTables(rects)

	inTable := make([][]Glyph, len(tables))
	var free []Glyph
	for _, g := range glyphs {
		cx, cy := g.center()
		owner := -1
		for i, t := range tables {
			if t.Bounds.contains(cx, cy) {
				owner = i
				break
			}
		}
		if owner >= 0 {
			inTable[owner] = append(inTable[owner], g)
			continue
		}
		free = append(free, g)
	}

	var frags []Fragment
	for _, line := range groupLines(free) {
		text := joinLine(line)
		if strings.TrimSpace(text) == "" {
			continue
		}
		frags = append(frags, Fragment{Kind: FragmentText, Text: text, Top: line[0].Y})
	}
	for i, t := range tables {
		frags = append(frags, Fragment{Kind: FragmentTable, Text: renderTable(t, inTable[i]), Top: t.Bounds.MaxY})
	}

	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Top > frags[j].Top })
	return frags
}

func (g Glyph) width() float64 {
	if g.W > 0 {
		return g.W
	}
	return g.Size * 0.5
}

func (g Glyph) center() (float64, float64) {
	return g.X + g.width()/2, g.Y + g.Size*0.3
}

func lineTolerance(size float64) float64 {
	return math.Max(1, size*0.5)
}

// groupLines buckets glyphs by baseline, top line first, each line left to right.
func groupLines(glyphs []Glyph) [][]Glyph {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]Glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines [][]Glyph
	for _, g := range sorted {
		n := len(lines)
		if n > 0 && math.Abs(lines[n-1][0].Y-g.Y) <= lineTolerance(g.Size) {
			lines[n-1] = append(lines[n-1], g)
			continue
		}
		lines = append(lines, []Glyph{g})
	}
	for _, l := range lines {
		sort.SliceStable(l, func(i, j int) bool { return l[i].X < l[j].X })
	}
	return lines
}

func joinLine(line []Glyph) string {
	var b strings.Builder
	for i, g := range line {
		if i > 0 {
			prev := line[i-1]
			gap := g.X - (prev.X + prev.width())
			if gap > spaceGapRatio*g.Size && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(g.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
	}
	return strings.TrimSpace(b.String())
}

func renderTable(t Table, glyphs []Glyph) string {
	nRows, nCols := len(t.rows)-1, len(t.cols)-1
	cells := make([][][]Glyph, nRows)
	for r := range cells {
		cells[r] = make([][]Glyph, nCols)
	}
	for _, g := range glyphs {
		cx, cy := g.center()
		r, c, ok := t.cell(cx, cy)
		if !ok {
			continue
		}
		cells[r][c] = append(cells[r][c], g)
	}

	rows := make([]string, 0, nRows)
	for r := 0; r < nRows; r++ {
		vals := make([]string, nCols)
		for c := 0; c < nCols; c++ {
			vals[c] = cellText(cells[r][c])
		}
		rows = append(rows, "|"+strings.Join(vals, "|")+"|")
	}
	return strings.Join(rows, "\n")
}

// cellText joins the lines of a wrapped cell with single spaces. Spacing
// inside a line is kept.
func cellText(glyphs []Glyph) string {
	var parts []string
	for _, line := range groupLines(glyphs) {
		if s := joinLine(line); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return emptyCell
	}
	return strings.Join(parts, " ")
}
