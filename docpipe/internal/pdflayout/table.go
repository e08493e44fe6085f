package pdflayout

import (
	"math"
	"slices"
	"strings"
)

// Table is a ruled grid with the text that falls in each cell. Rows run top
// to bottom and cells left to right.
type Table struct {
	Rows   [][]string
	Bounds Rect
}

const (
	// snap is the distance below which two rules count as aligned or touching.
	snap = 2.0
	// minRule is the shortest segment treated as a table rule.
	minRule = 3.0
)

type rule struct {
	pos    float64 // y for horizontal rules, x for vertical
	lo, hi float64 // extent along the rule
}

// DetectTables finds ruled tables on a page: connected groups of horizontal
// and vertical rules forming at least two rows and two columns. Grids with
// no text in any cell are ignored.
func DetectTables(p *Page) []Table {
	hs, vs := splitRules(p.Segments)
	hs, vs = mergeRules(hs), mergeRules(vs)
	if len(hs) < 3 || len(vs) < 3 {
		return nil
	}

	// Union-find over rules; index <len(hs) is horizontal.
	parent := make([]int, len(hs)+len(vs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i, h := range hs {
		for j, v := range vs {
			if intersects(h, v) {
				parent[find(i)] = find(len(hs) + j)
			}
		}
	}

	groups := map[int][]int{}
	var roots []int
	for i := range parent {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	var tables []Table
	for _, r := range roots {
		var gh, gv []rule
		for _, i := range groups[r] {
			if i < len(hs) {
				gh = append(gh, hs[i])
			} else {
				gv = append(gv, vs[i-len(hs)])
			}
		}
		if t, ok := buildTable(gh, gv, p.Spans); ok {
			tables = append(tables, t)
		}
	}
	// Top of page first.
	slices.SortStableFunc(tables, func(a, b Table) int {
		switch {
		case a.Bounds.Y1 > b.Bounds.Y1+snap:
			return -1
		case a.Bounds.Y1 < b.Bounds.Y1-snap:
			return 1
		}
		return 0
	})
	return tables
}

func splitRules(segs []Segment) (hs, vs []rule) {
	for _, s := range segs {
		dx, dy := math.Abs(s.X1-s.X0), math.Abs(s.Y1-s.Y0)
		switch {
		case dy <= snap/2 && dx >= minRule:
			hs = append(hs, rule{pos: (s.Y0 + s.Y1) / 2, lo: math.Min(s.X0, s.X1), hi: math.Max(s.X0, s.X1)})
		case dx <= snap/2 && dy >= minRule:
			vs = append(vs, rule{pos: (s.X0 + s.X1) / 2, lo: math.Min(s.Y0, s.Y1), hi: math.Max(s.Y0, s.Y1)})
		}
	}
	return hs, vs
}

// mergeRules joins collinear rules that touch or overlap.
func mergeRules(rs []rule) []rule {
	if len(rs) == 0 {
		return nil
	}
	slices.SortFunc(rs, func(a, b rule) int { return cmpFloat(a.pos, b.pos) })

	var out []rule
	for start := 0; start < len(rs); {
		end := start + 1
		for end < len(rs) && rs[end].pos-rs[end-1].pos <= snap {
			end++
		}
		line := slices.Clone(rs[start:end])
		slices.SortFunc(line, func(a, b rule) int { return cmpFloat(a.lo, b.lo) })
		first := len(out)
		out = append(out, line[0])
		for _, r := range line[1:] {
			cur := &out[len(out)-1]
			if r.lo <= cur.hi+snap {
				cur.hi = math.Max(cur.hi, r.hi)
				continue
			}
			out = append(out, r)
		}
		// Collinear pieces share the cluster's first position.
		for i := first; i < len(out); i++ {
			out[i].pos = line[0].pos
		}
		start = end
	}
	return out
}

func intersects(h, v rule) bool {
	return v.pos >= h.lo-snap && v.pos <= h.hi+snap &&
		h.pos >= v.lo-snap && h.pos <= v.hi+snap
}

func buildTable(hs, vs []rule, spans []Span) (Table, bool) {
	ys := cluster(hs)
	xs := cluster(vs)
	if len(ys) < 3 || len(xs) < 3 {
		return Table{}, false
	}
	slices.Reverse(ys) // top first
	rows, cols := len(ys)-1, len(xs)-1

	cells := make([][][]string, rows)
	for i := range cells {
		cells[i] = make([][]string, cols)
	}
	bounds := Rect{X0: xs[0], Y0: ys[len(ys)-1], X1: xs[len(xs)-1], Y1: ys[0]}
	for _, s := range spans {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		// A point inside the glyph body, just right of the origin.
		px := s.X + math.Min(1, (s.EndX-s.X)/2)
		py := s.Y + 0.25*s.Size
		if !bounds.contains(px, py) {
			continue
		}
		row := slices.IndexFunc(ys[1:], func(y float64) bool { return py >= y })
		col := slices.IndexFunc(xs[1:], func(x float64) bool { return px <= x })
		if row < 0 || col < 0 {
			continue
		}
		cells[row][col] = append(cells[row][col], t)
	}

	out := Table{Rows: make([][]string, rows), Bounds: bounds}
	filled := false
	for i := range cells {
		out.Rows[i] = make([]string, cols)
		for j, parts := range cells[i] {
			out.Rows[i][j] = strings.Join(parts, " ")
			if len(parts) > 0 {
				filled = true
			}
		}
	}
	return out, filled
}

// cluster returns the sorted distinct positions of rules, merging positions
// closer than snap.
func cluster(rs []rule) []float64 {
	pos := make([]float64, len(rs))
	for i, r := range rs {
		pos[i] = r.pos
	}
	slices.Sort(pos)
	var out []float64
	for _, p := range pos {
		if n := len(out); n > 0 && p-out[n-1] <= snap {
			continue
		}
		out = append(out, p)
	}
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
