package pdflayout

import (
	"math"
	"slices"
	"strings"
)

// Line is a group of spans sharing a baseline.
type Line struct {
	Spans []Span
	Y     float64
}

// Block is a group of consecutive lines forming one paragraph or heading.
type Block struct {
	Page  int
	Lines []Line
}

// Size returns the size of the block's first non-empty span.
func (b Block) Size() float64 {
	for _, l := range b.Lines {
		for _, s := range l.Spans {
			if strings.TrimSpace(s.Text) != "" {
				return s.Size
			}
		}
	}
	return 0
}

// Text joins spans within a line and lines within the block with one space.
func (b Block) Text() string {
	var parts []string
	for _, l := range b.Lines {
		for _, s := range l.Spans {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// RoundSize rounds a font size to one decimal place.
func RoundSize(s float64) float64 {
	return math.Round(s*10) / 10
}

const (
	// baselineTolerance is the share of the font size two spans may differ
	// vertically and still sit on one line.
	baselineTolerance = 0.4
	// paragraphGap is the baseline distance, in font sizes, that separates
	// two blocks.
	paragraphGap = 1.6
)

// Blocks groups the spans of one page into lines and blocks, in content
// order. Whitespace-only spans are dropped.
func Blocks(pageNr int, spans []Span) []Block {
	var lines []Line
	for _, s := range spans {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if n := len(lines); n > 0 {
			last := &lines[n-1]
			ref := math.Max(lineSize(*last), s.Size)
			if math.Abs(last.Y-s.Y) <= baselineTolerance*ref {
				last.Spans = append(last.Spans, s)
				continue
			}
		}
		lines = append(lines, Line{Spans: []Span{s}, Y: s.Y})
	}

	var blocks []Block
	for _, l := range lines {
		if n := len(blocks); n > 0 {
			cur := &blocks[n-1]
			prev := cur.Lines[len(cur.Lines)-1]
			if !breaksBlock(prev, l) {
				cur.Lines = append(cur.Lines, l)
				continue
			}
		}
		blocks = append(blocks, Block{Page: pageNr, Lines: []Line{l}})
	}
	return blocks
}

func lineSize(l Line) float64 {
	if len(l.Spans) == 0 {
		return 0
	}
	return l.Spans[0].Size
}

// breaksBlock reports whether next starts a new block after prev: the text
// moved up (new column or out-of-order content), the vertical gap is larger
// than ordinary leading, or the font size changed.
func breaksBlock(prev, next Line) bool {
	ps, ns := lineSize(prev), lineSize(next)
	if RoundSize(ps) != RoundSize(ns) {
		return true
	}
	gap := prev.Y - next.Y
	if gap <= 0 {
		return true
	}
	return gap > paragraphGap*math.Max(ps, ns)
}

// Census returns the distinct rounded sizes of all non-empty spans, largest
// first.
func Census(blocks []Block) []float64 {
	seen := map[float64]bool{}
	var sizes []float64
	for _, b := range blocks {
		for _, l := range b.Lines {
			for _, s := range l.Spans {
				if strings.TrimSpace(s.Text) == "" {
					continue
				}
				r := RoundSize(s.Size)
				if !seen[r] {
					seen[r] = true
					sizes = append(sizes, r)
				}
			}
		}
	}
	slices.Sort(sizes)
	slices.Reverse(sizes)
	return sizes
}

// HeadingLevels maps the n largest sizes to levels 1..n.
func HeadingLevels(sizes []float64, n int) map[float64]int {
	levels := make(map[float64]int, n)
	for i, s := range sizes {
		if i >= n {
			break
		}
		levels[s] = i + 1
	}
	return levels
}
