package pdflayout

import (
	"bytes"

	"golang.org/x/text/encoding/unicode"
)

// maxRange bounds bfrange expansion so a hostile CMap cannot allocate
// unbounded memory.
const maxRange = 1 << 16

type codespace struct {
	lo, hi []byte
}

func (c codespace) match(b []byte) bool {
	if len(b) != len(c.lo) {
		return false
	}
	for i := range b {
		if b[i] < c.lo[i] || b[i] > c.hi[i] {
			return false
		}
	}
	return true
}

// CMap maps character codes to Unicode text, as read from a ToUnicode stream.
type CMap struct {
	spaces []codespace
	chars  map[string]string
}

// ParseCMap reads the codespace ranges, bfchar and bfrange entries of a
// ToUnicode CMap. Unparseable trailing content is ignored: whatever mappings
// were read before the error are kept.
func ParseCMap(data []byte) *CMap {
	cm := &CMap{chars: map[string]string{}}
	toks, _ := Tokenize(data)

	var section string
	var operands []Object
	for _, t := range toks {
		if t.Kind != KindOperator {
			operands = append(operands, t)
			continue
		}
		switch t.Op {
		case "begincodespacerange", "beginbfchar", "beginbfrange":
			section = t.Op
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				lo, hi := operands[i], operands[i+1]
				if lo.Kind == KindString && hi.Kind == KindString && len(lo.Bytes) == len(hi.Bytes) && len(lo.Bytes) > 0 {
					cm.spaces = append(cm.spaces, codespace{lo: lo.Bytes, hi: hi.Bytes})
				}
			}
			section = ""
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, dst := operands[i], operands[i+1]
				if src.Kind != KindString {
					continue
				}
				switch dst.Kind {
				case KindString:
					cm.chars[string(src.Bytes)] = utf16BE(dst.Bytes)
				case KindName:
					if s, ok := glyphText(dst.Name()); ok {
						cm.chars[string(src.Bytes)] = s
					}
				}
			}
			section = ""
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				cm.addRange(operands[i], operands[i+1], operands[i+2])
			}
			section = ""
		}
		if section == "" || t.Op == section {
			operands = operands[:0]
		}
	}
	return cm
}

func (cm *CMap) addRange(lo, hi, dst Object) {
	if lo.Kind != KindString || hi.Kind != KindString || len(lo.Bytes) != len(hi.Bytes) || len(lo.Bytes) == 0 {
		return
	}
	start, end := codeValue(lo.Bytes), codeValue(hi.Bytes)
	if end < start || end-start >= maxRange {
		return
	}
	n := len(lo.Bytes)
	for code := start; code <= end; code++ {
		off := code - start
		key := string(codeBytes(code, n))
		switch dst.Kind {
		case KindString:
			if len(dst.Bytes) == 0 {
				continue
			}
			// The last byte of the destination increments across the range.
			d := append([]byte(nil), dst.Bytes...)
			v := int(d[len(d)-1]) + off
			d[len(d)-1] = byte(v)
			if v > 0xFF && len(d) >= 2 {
				d[len(d)-2] += byte(v >> 8)
			}
			cm.chars[key] = utf16BE(d)
		case KindArray:
			if off < len(dst.Array) && dst.Array[off].Kind == KindString {
				cm.chars[key] = utf16BE(dst.Array[off].Bytes)
			}
		}
	}
}

// Lookup returns the text mapped to code.
func (cm *CMap) Lookup(code []byte) (string, bool) {
	if cm == nil {
		return "", false
	}
	s, ok := cm.chars[string(code)]
	return s, ok
}

// split cuts b into codes using the codespace ranges, falling back to
// fixed-width codes of fallback bytes.
func (cm *CMap) split(b []byte, fallback int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		n := 0
		if cm != nil {
			for _, cs := range cm.spaces {
				if len(cs.lo) <= len(b) && cs.match(b[:len(cs.lo)]) {
					n = len(cs.lo)
					break
				}
			}
		}
		if n == 0 {
			n = min(fallback, len(b))
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}

func codeValue(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func codeBytes(v, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

var utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

func utf16BE(b []byte) string {
	if len(b)%2 == 1 {
		b = append(bytes.Clone(b), 0)
	}
	s, err := utf16Decoder.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}
