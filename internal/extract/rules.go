package extract

import (
	"math"

	"github.com/ledongthuc/pdf"
)

// pathTracer turns moveto/lineto/closepath operators into ruling boxes.
// Only horizontal and vertical segments are kept; a segment becomes a box
// with zero height or width.
type pathTracer struct {
	cur, start [2]float64
	open       bool
	rules      []Box
}

func (t *pathTracer) moveTo(x, y float64) {
	t.cur = [2]float64{x, y}
	t.start = t.cur
	t.open = true
}

func (t *pathTracer) lineTo(x, y float64) {
	if !t.open {
		return
	}
	t.segment(t.cur, [2]float64{x, y})
	t.cur = [2]float64{x, y}
}

func (t *pathTracer) closePath() {
	if t.open {
		t.segment(t.cur, t.start)
		t.cur = t.start
	}
}

func (t *pathTracer) endPath() {
	t.open = false
}

func (t *pathTracer) segment(a, b [2]float64) {
	dx, dy := math.Abs(a[0]-b[0]), math.Abs(a[1]-b[1])
	if dx > edgeTolerance && dy > edgeTolerance {
		return
	}
	if dx <= edgeTolerance && dy <= edgeTolerance {
		return
	}
	t.rules = append(t.rules, Box{
		MinX: math.Min(a[0], b[0]),
		MinY: math.Min(a[1], b[1]),
		MaxX: math.Max(a[0], b[0]),
		MaxY: math.Max(a[1], b[1]),
	})
}

// lineRules collects the stroked line segments of a page content stream.
func lineRules(contents pdf.Value) []Box {
	var t pathTracer
	pdf.Interpret(contents, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "m":
			if n == 2 {
				t.moveTo(args[0].Float64(), args[1].Float64())
			}
		case "l":
			if n == 2 {
				t.lineTo(args[0].Float64(), args[1].Float64())
			}
		case "h":
			t.closePath()
		case "s", "b", "b*":
			t.closePath()
			t.endPath()
		case "re", "S", "f", "F", "f*", "B", "B*", "n":
			t.endPath()
		}
	})
	return t.rules
}
