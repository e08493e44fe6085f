package pdflayout

import (
	"golang.org/x/text/encoding/charmap"
)

// Glyph is one decoded character code.
type Glyph struct {
	Text  string
	Width float64 // horizontal advance in thousandths of text space
	Space bool    // single-byte code 32, which receives word spacing
}

// Font decodes shown strings into glyphs.
type Font interface {
	Decode(b []byte) []Glyph
}

// SimpleFontSpec describes a single-byte font (Type1, TrueType, Type3).
type SimpleFontSpec struct {
	BaseEncoding string         // WinAnsiEncoding, MacRomanEncoding, StandardEncoding or ""
	Differences  map[int]string // code → glyph name
	FirstChar    int
	Widths       []float64
	MissingWidth float64
	WidthScale   float64 // multiplier for Type3 glyph-space widths; 0 means 1
	ToUnicode    []byte
}

type simpleFont struct {
	text      [256]string
	toUnicode *CMap
	widths    [256]float64
}

const defaultGlyphWidth = 500

// NewSimpleFont builds a single-byte font decoder.
func NewSimpleFont(spec SimpleFontSpec) Font {
	f := &simpleFont{}
	cm := charmap.Windows1252
	if spec.BaseEncoding == "MacRomanEncoding" {
		cm = charmap.Macintosh
	}
	for code := 0; code < 256; code++ {
		r := cm.DecodeByte(byte(code))
		if r != 0xFFFD && code >= 32 {
			f.text[code] = string(r)
		}
	}
	for code, name := range spec.Differences {
		if code < 0 || code > 255 {
			continue
		}
		if s, ok := glyphText(name); ok {
			f.text[code] = s
		}
	}
	if len(spec.ToUnicode) > 0 {
		f.toUnicode = ParseCMap(spec.ToUnicode)
	}

	missing := spec.MissingWidth
	if missing <= 0 {
		missing = defaultGlyphWidth
	}
	scale := spec.WidthScale
	if scale == 0 {
		scale = 1
	}
	for code := range f.widths {
		f.widths[code] = missing
		if i := code - spec.FirstChar; i >= 0 && i < len(spec.Widths) && spec.Widths[i] > 0 {
			f.widths[code] = spec.Widths[i] * scale
		}
	}
	return f
}

func (f *simpleFont) Decode(b []byte) []Glyph {
	out := make([]Glyph, 0, len(b))
	for _, c := range b {
		text := f.text[c]
		if s, ok := f.toUnicode.Lookup([]byte{c}); ok {
			text = s
		}
		out = append(out, Glyph{Text: text, Width: f.widths[c], Space: c == 32})
	}
	return out
}

// CompositeFontSpec describes a Type0 font with a CID descendant.
type CompositeFontSpec struct {
	ToUnicode    []byte
	Widths       map[int]float64 // CID → width, from the W array
	DefaultWidth float64         // DW, 1000 when absent
}

type compositeFont struct {
	toUnicode *CMap
	widths    map[int]float64
	dw        float64
}

// NewCompositeFont builds a decoder for Identity-encoded Type0 fonts: codes
// are two bytes unless the ToUnicode codespace says otherwise, and CIDs equal
// codes.
func NewCompositeFont(spec CompositeFontSpec) Font {
	f := &compositeFont{widths: spec.Widths, dw: spec.DefaultWidth}
	if f.dw <= 0 {
		f.dw = 1000
	}
	if len(spec.ToUnicode) > 0 {
		f.toUnicode = ParseCMap(spec.ToUnicode)
	}
	return f
}

func (f *compositeFont) Decode(b []byte) []Glyph {
	codes := f.toUnicode.split(b, 2)
	out := make([]Glyph, 0, len(codes))
	for _, code := range codes {
		text, ok := f.toUnicode.Lookup(code)
		if !ok {
			// Without a mapping the CID says nothing about the character.
			text = "�"
		}
		w, ok := f.widths[codeValue(code)]
		if !ok {
			w = f.dw
		}
		out = append(out, Glyph{Text: text, Width: w, Space: len(code) == 1 && code[0] == 32})
	}
	return out
}

// fallbackFont is used when a Tf names a font the resources do not define.
var fallbackFont = NewSimpleFont(SimpleFontSpec{})
