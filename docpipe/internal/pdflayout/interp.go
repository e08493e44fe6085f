package pdflayout

import (
	"errors"
	"io"
	"math"
	"strings"
)

// XObjectKind distinguishes image and form XObjects.
type XObjectKind int

const (
	XImage XObjectKind = iota
	XForm
)

// XObject is a resolved XObject resource.
type XObject struct {
	Kind XObjectKind
	// ID is the object number of the stream, 0 when unknown. Images drawn
	// under several names share one ID.
	ID int

	// Form only.
	Content   []byte
	Matrix    Matrix
	Resources Resources // nil inherits the caller's resources
}

// Resources resolves the named resources a content stream refers to.
type Resources interface {
	// Font returns the font for a Tf name, nil when undefined.
	Font(name string) Font
	// XObject returns the named XObject. An error skips the Do operator.
	XObject(name string) (*XObject, error)
}

// Span is a run of text shown with one font at one size on one baseline.
type Span struct {
	Text string
	Font string
	Size float64 // effective size in page space
	X, Y float64 // baseline origin
	EndX float64
}

// Segment is a straight stroke or rectangle edge in page space.
type Segment struct {
	X0, Y0, X1, Y1 float64
}

// Placement records one image drawn on the page.
type Placement struct {
	Name   string
	ID     int
	Bounds Rect
}

// Page is what a content stream paints.
type Page struct {
	Spans    []Span
	Segments []Segment
	Images   []Placement
}

const maxFormDepth = 8

type gstate struct {
	ctm      Matrix
	font     Font
	fontName string
	size     float64
	charSp   float64
	wordSp   float64
	hscale   float64
	leading  float64
	rise     float64
}

type interp struct {
	page  *Page
	gs    gstate
	stack []gstate

	tm, tlm Matrix

	path     []Segment
	cx, cy   float64 // current point, user space
	sx, sy   float64 // subpath start
	hasPoint bool

	forms map[*XObject]int
}

// Interpret runs a page content stream. On a syntax error the page painted
// so far is returned together with the error.
func Interpret(content []byte, res Resources) (*Page, error) {
	in := &interp{
		page:  &Page{},
		gs:    gstate{ctm: Identity, hscale: 1, font: fallbackFont},
		forms: map[*XObject]int{},
	}
	err := in.run(content, res, 0)
	return in.page, err
}

func (in *interp) run(content []byte, res Resources, depth int) error {
	lx := newLexer(content)
	var ops []Object
	for {
		o, err := lx.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if o.Kind != KindOperator {
			ops = append(ops, o)
			continue
		}
		if o.Op == "BI" {
			if err := lx.skipInlineImage(); err != nil {
				return err
			}
		} else {
			in.exec(o.Op, ops, res, depth)
		}
		ops = ops[:0]
	}
}

func nums(ops []Object, n int) ([]float64, bool) {
	if len(ops) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, o := range ops[len(ops)-n:] {
		if o.Kind != KindNumber {
			return nil, false
		}
		out[i] = o.Num
	}
	return out, true
}

// exec applies one operator. Operators with the wrong operands are ignored.
func (in *interp) exec(op string, ops []Object, res Resources, depth int) {
	switch op {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if v, ok := nums(ops, 6); ok {
			in.gs.ctm = Matrix(v).Mul(in.gs.ctm)
		}

	case "BT":
		in.tm, in.tlm = Identity, Identity
	case "ET":
	case "Tf":
		if len(ops) >= 2 && ops[len(ops)-2].Kind == KindName && ops[len(ops)-1].Kind == KindNumber {
			name := ops[len(ops)-2].Name()
			in.gs.fontName = name
			in.gs.size = ops[len(ops)-1].Num
			in.gs.font = nil
			if res != nil {
				in.gs.font = res.Font(name)
			}
			if in.gs.font == nil {
				in.gs.font = fallbackFont
			}
		}
	case "Tc":
		if v, ok := nums(ops, 1); ok {
			in.gs.charSp = v[0]
		}
	case "Tw":
		if v, ok := nums(ops, 1); ok {
			in.gs.wordSp = v[0]
		}
	case "Tz":
		if v, ok := nums(ops, 1); ok {
			in.gs.hscale = v[0] / 100
		}
	case "TL":
		if v, ok := nums(ops, 1); ok {
			in.gs.leading = v[0]
		}
	case "Ts":
		if v, ok := nums(ops, 1); ok {
			in.gs.rise = v[0]
		}
	case "Td":
		if v, ok := nums(ops, 2); ok {
			in.moveLine(v[0], v[1])
		}
	case "TD":
		if v, ok := nums(ops, 2); ok {
			in.gs.leading = -v[1]
			in.moveLine(v[0], v[1])
		}
	case "Tm":
		if v, ok := nums(ops, 6); ok {
			in.tm = Matrix(v)
			in.tlm = in.tm
		}
	case "T*":
		in.moveLine(0, -in.gs.leading)
	case "Tj":
		if len(ops) >= 1 && ops[len(ops)-1].Kind == KindString {
			in.show(ops[len(ops)-1].Bytes)
		}
	case "'":
		if len(ops) >= 1 && ops[len(ops)-1].Kind == KindString {
			in.moveLine(0, -in.gs.leading)
			in.show(ops[len(ops)-1].Bytes)
		}
	case "\"":
		if len(ops) >= 3 && ops[len(ops)-1].Kind == KindString {
			if v, ok := nums(ops[:len(ops)-1], 2); ok {
				in.gs.wordSp, in.gs.charSp = v[0], v[1]
			}
			in.moveLine(0, -in.gs.leading)
			in.show(ops[len(ops)-1].Bytes)
		}
	case "TJ":
		if len(ops) >= 1 && ops[len(ops)-1].Kind == KindArray {
			for _, e := range ops[len(ops)-1].Array {
				switch e.Kind {
				case KindString:
					in.show(e.Bytes)
				case KindNumber:
					tx := -e.Num / 1000 * in.gs.size * in.gs.hscale
					in.tm = translate(tx, 0).Mul(in.tm)
				}
			}
		}

	case "m":
		if v, ok := nums(ops, 2); ok {
			in.cx, in.cy = v[0], v[1]
			in.sx, in.sy = v[0], v[1]
			in.hasPoint = true
		}
	case "l":
		if v, ok := nums(ops, 2); ok {
			if in.hasPoint {
				in.addLine(in.cx, in.cy, v[0], v[1])
			}
			in.cx, in.cy = v[0], v[1]
			in.hasPoint = true
		}
	case "c":
		if v, ok := nums(ops, 6); ok {
			in.cx, in.cy = v[4], v[5]
		}
	case "v", "y":
		if v, ok := nums(ops, 4); ok {
			in.cx, in.cy = v[2], v[3]
		}
	case "h":
		if in.hasPoint {
			in.addLine(in.cx, in.cy, in.sx, in.sy)
			in.cx, in.cy = in.sx, in.sy
		}
	case "re":
		if v, ok := nums(ops, 4); ok {
			x, y, w, h := v[0], v[1], v[2], v[3]
			in.addLine(x, y, x+w, y)
			in.addLine(x+w, y, x+w, y+h)
			in.addLine(x+w, y+h, x, y+h)
			in.addLine(x, y+h, x, y)
			in.cx, in.cy, in.sx, in.sy = x, y, x, y
			in.hasPoint = true
		}
	case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*":
		in.page.Segments = append(in.page.Segments, in.path...)
		in.endPath()
	case "n":
		in.endPath()

	case "Do":
		if len(ops) >= 1 && ops[len(ops)-1].Kind == KindName && res != nil {
			in.do(ops[len(ops)-1].Name(), res, depth)
		}
	}
}

func (in *interp) endPath() {
	in.path = in.path[:0]
	in.hasPoint = false
}

func (in *interp) addLine(x0, y0, x1, y1 float64) {
	ax, ay := in.gs.ctm.Apply(x0, y0)
	bx, by := in.gs.ctm.Apply(x1, y1)
	in.path = append(in.path, Segment{X0: ax, Y0: ay, X1: bx, Y1: by})
}

func (in *interp) moveLine(tx, ty float64) {
	in.tlm = translate(tx, ty).Mul(in.tlm)
	in.tm = in.tlm
}

func (in *interp) do(name string, res Resources, depth int) {
	xo, err := res.XObject(name)
	if err != nil || xo == nil {
		return
	}
	switch xo.Kind {
	case XImage:
		in.page.Images = append(in.page.Images, Placement{
			Name:   name,
			ID:     xo.ID,
			Bounds: unitBounds(in.gs.ctm),
		})
	case XForm:
		if depth >= maxFormDepth || in.forms[xo] > 0 {
			return
		}
		in.forms[xo]++
		defer func() { in.forms[xo]-- }()

		saved, savedStack := in.gs, len(in.stack)
		savedTm, savedTlm := in.tm, in.tlm
		in.gs.ctm = xo.Matrix.Mul(in.gs.ctm)
		formRes := xo.Resources
		if formRes == nil {
			formRes = res
		}
		// A broken form is skipped; whatever it painted before failing stays.
		_ = in.run(xo.Content, formRes, depth+1)
		in.gs, in.stack = saved, in.stack[:savedStack]
		in.tm, in.tlm = savedTm, savedTlm
	}
}

// show paints one string with the current text state.
func (in *interp) show(b []byte) {
	gs := &in.gs
	if gs.font == nil {
		gs.font = fallbackFont
	}
	glyphs := gs.font.Decode(b)
	if len(glyphs) == 0 {
		return
	}

	trm := Matrix{gs.size * gs.hscale, 0, 0, gs.size, 0, gs.rise}.Mul(in.tm).Mul(gs.ctm)
	x, y := trm[4], trm[5]
	size := math.Abs(gs.size) * in.tm.Mul(gs.ctm).scaleY()

	var sb strings.Builder
	for _, g := range glyphs {
		sb.WriteString(g.Text)
		tx := g.Width/1000*gs.size + gs.charSp
		if g.Space {
			tx += gs.wordSp
		}
		in.tm = translate(tx*gs.hscale, 0).Mul(in.tm)
	}
	end := Matrix{gs.size * gs.hscale, 0, 0, gs.size, 0, gs.rise}.Mul(in.tm).Mul(gs.ctm)

	in.emit(Span{
		Text: sb.String(),
		Font: gs.fontName,
		Size: size,
		X:    x,
		Y:    y,
		EndX: end[4],
	})
}

// emit appends s, merging it into the previous span when it continues the
// same run of text. A visible gap becomes a single space.
func (in *interp) emit(s Span) {
	spans := in.page.Spans
	if n := len(spans); n > 0 {
		prev := &spans[n-1]
		ref := math.Max(prev.Size, s.Size)
		gap := s.X - prev.EndX
		if prev.Font == s.Font &&
			math.Abs(prev.Size-s.Size) < 0.05 &&
			math.Abs(prev.Y-s.Y) <= 0.3*ref &&
			gap >= -0.3*ref && gap <= 0.6*ref {
			if gap > 0.15*ref && !strings.HasSuffix(prev.Text, " ") && !strings.HasPrefix(s.Text, " ") {
				prev.Text += " "
			}
			prev.Text += s.Text
			prev.EndX = s.EndX
			return
		}
	}
	in.page.Spans = append(in.page.Spans, s)
}
