// Package pdflayout turns PDF content streams into positioned text spans,
// ruling segments and image placements, and infers lines, blocks and ruled
// tables from them.
//
// The package does not read PDF files. Callers supply decoded content
// streams and a Resources implementation resolving fonts and XObjects.
package pdflayout

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind is the type of a lexed content-stream object.
type Kind int

const (
	KindNumber Kind = iota
	KindName
	KindString
	KindArray
	KindDict
	KindBool
	KindNull
	KindOperator
)

// Object is one operand or operator of a content stream.
type Object struct {
	Kind  Kind
	Num   float64
	Bytes []byte // string payload (escapes resolved) or name
	Op    string
	Array []Object
	Dict  map[string]Object
	Bool  bool
}

// Name returns the name payload of a KindName object.
func (o Object) Name() string { return string(o.Bytes) }

// ErrSyntax reports a malformed content stream.
var ErrSyntax = errors.New("pdflayout: content stream syntax error")

const maxNesting = 64

type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte) *lexer { return &lexer{data: data} }

func isWhite(c byte) bool {
	return c == 0 || c == '\t' || c == '\n' || c == '\f' || c == '\r' || c == ' '
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// next returns the next object, or io.EOF at the end of data.
func (l *lexer) next() (Object, error) {
	return l.object(0)
}

func (l *lexer) object(depth int) (Object, error) {
	if depth > maxNesting {
		return Object{}, fmt.Errorf("%w: nesting too deep at %d", ErrSyntax, l.pos)
	}
	l.skipSpace()
	if l.pos >= len(l.data) {
		return Object{}, io.EOF
	}
	c := l.data[l.pos]
	switch {
	case c == '(':
		l.pos++
		s, err := l.literalString()
		return Object{Kind: KindString, Bytes: s}, err
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return l.dict(depth)
		}
		l.pos++
		s, err := l.hexString()
		return Object{Kind: KindString, Bytes: s}, err
	case c == '[':
		l.pos++
		return l.array(depth)
	case c == '/':
		l.pos++
		return Object{Kind: KindName, Bytes: l.name()}, nil
	case c == '{' || c == '}':
		l.pos++
		return Object{Kind: KindOperator, Op: string(c)}, nil
	case c == ']' || c == ')' || c == '>':
		l.pos++
		return Object{}, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, l.pos-1)
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.number(), nil
	}
	return l.keyword(), nil
}

func (l *lexer) literalString() ([]byte, error) {
	var out []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
			out = append(out, c)
		case '\\':
			if l.pos >= len(l.data) {
				return out, fmt.Errorf("%w: unterminated string", ErrSyntax)
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && l.pos < len(l.data); k++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						val = val*8 + int(d-'0')
						l.pos++
					}
					out = append(out, byte(val))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out, fmt.Errorf("%w: unterminated string", ErrSyntax)
}

func (l *lexer) hexString() ([]byte, error) {
	var digits []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			if _, err := hex.Decode(out, digits); err != nil {
				return nil, fmt.Errorf("%w: bad hex string: %v", ErrSyntax, err)
			}
			return out, nil
		}
		if isWhite(c) {
			continue
		}
		digits = append(digits, c)
	}
	return nil, fmt.Errorf("%w: unterminated hex string", ErrSyntax)
}

func (l *lexer) name() []byte {
	var out []byte
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) || isDelim(c) {
			break
		}
		if c == '#' && l.pos+2 < len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos+1:l.pos+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				l.pos += 3
				continue
			}
		}
		out = append(out, c)
		l.pos++
	}
	return out
}

func (l *lexer) number() Object {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) || isDelim(c) {
			break
		}
		l.pos++
	}
	tok := string(l.data[start:l.pos])
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		// Malformed numbers such as "--5" or "1.2.3" are read as 0, as viewers do.
		return Object{Kind: KindNumber}
	}
	return Object{Kind: KindNumber, Num: f}
}

func (l *lexer) keyword() Object {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhite(c) || isDelim(c) {
			break
		}
		l.pos++
	}
	if l.pos == start {
		// Lone delimiter that no rule consumed.
		l.pos++
	}
	tok := string(l.data[start:l.pos])
	switch tok {
	case "true":
		return Object{Kind: KindBool, Bool: true}
	case "false":
		return Object{Kind: KindBool}
	case "null":
		return Object{Kind: KindNull}
	}
	return Object{Kind: KindOperator, Op: tok}
}

func (l *lexer) array(depth int) (Object, error) {
	arr := Object{Kind: KindArray}
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return arr, fmt.Errorf("%w: unterminated array", ErrSyntax)
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return arr, nil
		}
		o, err := l.object(depth + 1)
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("%w: unterminated array", ErrSyntax)
			}
			return arr, err
		}
		arr.Array = append(arr.Array, o)
	}
}

func (l *lexer) dict(depth int) (Object, error) {
	d := Object{Kind: KindDict, Dict: map[string]Object{}}
	for {
		l.skipSpace()
		if l.pos >= len(l.data) {
			return d, fmt.Errorf("%w: unterminated dictionary", ErrSyntax)
		}
		if l.data[l.pos] == '>' {
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
				l.pos += 2
				return d, nil
			}
			return d, fmt.Errorf("%w: bad dictionary end at %d", ErrSyntax, l.pos)
		}
		key, err := l.object(depth + 1)
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("%w: unterminated dictionary", ErrSyntax)
			}
			return d, err
		}
		if key.Kind != KindName {
			return d, fmt.Errorf("%w: dictionary key is not a name at %d", ErrSyntax, l.pos)
		}
		val, err := l.object(depth + 1)
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("%w: unterminated dictionary", ErrSyntax)
			}
			return d, err
		}
		d.Dict[key.Name()] = val
	}
}

// skipInlineImage consumes an inline image after the BI operator, up to and
// including the EI operator.
func (l *lexer) skipInlineImage() error {
	for {
		o, err := l.next()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: inline image without ID", ErrSyntax)
			}
			return err
		}
		if o.Kind == KindOperator && o.Op == "ID" {
			break
		}
	}
	// One whitespace byte separates ID from the image data.
	if l.pos < len(l.data) && isWhite(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		before := i == 0 || isWhite(l.data[i-1])
		after := i+2 >= len(l.data) || isWhite(l.data[i+2])
		if before && after {
			l.pos = i + 2
			return nil
		}
	}
	return fmt.Errorf("%w: inline image without EI", ErrSyntax)
}

// Tokenize lexes all of data. Used by CMap parsing and tests.
func Tokenize(data []byte) ([]Object, error) {
	l := newLexer(bytes.TrimSpace(data))
	var out []Object
	for {
		o, err := l.next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
}
