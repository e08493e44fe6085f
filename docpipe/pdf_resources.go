package docpipe

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/docextract/docpipe/internal/pdflayout"
)

// pdfObjects caches what several pages share: decoded fonts and image
// streams, keyed by object number.
type pdfObjects struct {
	ctx    *model.Context
	fonts  map[int]pdflayout.Font
	images map[int]types.StreamDict
}

func newPDFObjects(ctx *model.Context) *pdfObjects {
	return &pdfObjects{
		ctx:    ctx,
		fonts:  map[int]pdflayout.Font{},
		images: map[int]types.StreamDict{},
	}
}

// pdfResources adapts one resource dictionary to pdflayout.Resources.
type pdfResources struct {
	objs *pdfObjects
	dict types.Dict
}

func (r *pdfResources) category(name string) types.Dict {
	if r.dict == nil {
		return nil
	}
	o, ok := r.dict.Find(name)
	if !ok {
		return nil
	}
	d, err := r.objs.ctx.DereferenceDict(o)
	if err != nil {
		return nil
	}
	return d
}

func (r *pdfResources) Font(name string) pdflayout.Font {
	fonts := r.category("Font")
	if fonts == nil {
		return nil
	}
	o, ok := fonts.Find(name)
	if !ok {
		return nil
	}
	objNr := objectNumber(o)
	if f, ok := r.objs.fonts[objNr]; ok && objNr > 0 {
		return f
	}
	fd, err := r.objs.ctx.DereferenceDict(o)
	if err != nil || fd == nil {
		return nil
	}
	f := r.objs.buildFont(fd)
	if objNr > 0 {
		r.objs.fonts[objNr] = f
	}
	return f
}

func (r *pdfResources) XObject(name string) (*pdflayout.XObject, error) {
	xobjs := r.category("XObject")
	if xobjs == nil {
		return nil, fmt.Errorf("xobject %s: no XObject resources", name)
	}
	o, ok := xobjs.Find(name)
	if !ok {
		return nil, fmt.Errorf("xobject %s: not found", name)
	}
	objNr := objectNumber(o)
	sd, err := r.objs.stream(o)
	if err != nil {
		return nil, fmt.Errorf("xobject %s: %w", name, err)
	}
	switch subtype(sd.Dict) {
	case "Image":
		if objNr > 0 {
			r.objs.images[objNr] = sd
		}
		return &pdflayout.XObject{Kind: pdflayout.XImage, ID: objNr}, nil
	case "Form":
		content, err := r.objs.decode(&sd)
		if err != nil {
			return nil, fmt.Errorf("xobject %s: %w", name, err)
		}
		xo := &pdflayout.XObject{Kind: pdflayout.XForm, ID: objNr, Content: content, Matrix: pdflayout.Identity}
		if m := r.objs.numbers(sd.Dict, "Matrix"); len(m) == 6 {
			xo.Matrix = pdflayout.Matrix(m)
		}
		if ro, ok := sd.Dict.Find("Resources"); ok {
			if rd, err := r.objs.ctx.DereferenceDict(ro); err == nil && rd != nil {
				xo.Resources = &pdfResources{objs: r.objs, dict: rd}
			}
		}
		return xo, nil
	}
	return nil, fmt.Errorf("xobject %s: unsupported subtype %q", name, subtype(sd.Dict))
}

// imageNames lists the image XObjects of the resource dictionary with their
// object numbers.
func (r *pdfResources) imageNames() map[string]int {
	xobjs := r.category("XObject")
	out := map[string]int{}
	for name, o := range xobjs {
		sd, err := r.objs.stream(o)
		if err != nil || subtype(sd.Dict) != "Image" {
			continue
		}
		objNr := objectNumber(o)
		if objNr > 0 {
			r.objs.images[objNr] = sd
		}
		out[name] = objNr
	}
	return out
}

func (p *pdfObjects) stream(o types.Object) (types.StreamDict, error) {
	d, err := p.ctx.Dereference(o)
	if err != nil {
		return types.StreamDict{}, err
	}
	switch sd := d.(type) {
	case types.StreamDict:
		return sd, nil
	case *types.StreamDict:
		if sd != nil {
			return *sd, nil
		}
	}
	return types.StreamDict{}, errors.New("not a stream")
}

// decode returns the decoded stream content.
func (p *pdfObjects) decode(sd *types.StreamDict) ([]byte, error) {
	if sd.Content != nil {
		return sd.Content, nil
	}
	if err := sd.Decode(); err != nil {
		return nil, err
	}
	return sd.Content, nil
}

func (p *pdfObjects) streamBytes(o types.Object) []byte {
	sd, err := p.stream(o)
	if err != nil {
		return nil
	}
	b, err := p.decode(&sd)
	if err != nil {
		return nil
	}
	return b
}

func (p *pdfObjects) number(o types.Object) (float64, bool) {
	o, err := p.ctx.Dereference(o)
	if err != nil {
		return 0, false
	}
	switch v := o.(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}

func (p *pdfObjects) array(d types.Dict, key string) types.Array {
	o, ok := d.Find(key)
	if !ok {
		return nil
	}
	o, err := p.ctx.Dereference(o)
	if err != nil {
		return nil
	}
	a, _ := o.(types.Array)
	return a
}

func (p *pdfObjects) numbers(d types.Dict, key string) []float64 {
	a := p.array(d, key)
	out := make([]float64, 0, len(a))
	for _, e := range a {
		v, ok := p.number(e)
		if !ok {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func (p *pdfObjects) name(d types.Dict, key string) string {
	o, ok := d.Find(key)
	if !ok {
		return ""
	}
	o, err := p.ctx.Dereference(o)
	if err != nil {
		return ""
	}
	if n, ok := o.(types.Name); ok {
		return string(n)
	}
	return ""
}

func (p *pdfObjects) buildFont(fd types.Dict) pdflayout.Font {
	var toUnicode []byte
	if o, ok := fd.Find("ToUnicode"); ok {
		toUnicode = p.streamBytes(o)
	}

	if subtype(fd) == "Type0" {
		spec := pdflayout.CompositeFontSpec{ToUnicode: toUnicode}
		if desc := p.array(fd, "DescendantFonts"); len(desc) > 0 {
			if dd, err := p.ctx.DereferenceDict(desc[0]); err == nil && dd != nil {
				if dw, ok := dd.Find("DW"); ok {
					spec.DefaultWidth, _ = p.number(dw)
				}
				spec.Widths = p.cidWidths(p.array(dd, "W"))
			}
		}
		return pdflayout.NewCompositeFont(spec)
	}

	spec := pdflayout.SimpleFontSpec{ToUnicode: toUnicode}
	if o, ok := fd.Find("Encoding"); ok {
		if o, err := p.ctx.Dereference(o); err == nil {
			switch enc := o.(type) {
			case types.Name:
				spec.BaseEncoding = string(enc)
			case types.Dict:
				spec.BaseEncoding = p.name(enc, "BaseEncoding")
				spec.Differences = p.differences(p.array(enc, "Differences"))
			}
		}
	}
	if o, ok := fd.Find("FirstChar"); ok {
		v, _ := p.number(o)
		spec.FirstChar = int(v)
	}
	spec.Widths = p.numbers(fd, "Widths")
	if o, ok := fd.Find("FontDescriptor"); ok {
		if desc, err := p.ctx.DereferenceDict(o); err == nil && desc != nil {
			if mw, ok := desc.Find("MissingWidth"); ok {
				spec.MissingWidth, _ = p.number(mw)
			}
		}
	}
	if subtype(fd) == "Type3" {
		if m := p.numbers(fd, "FontMatrix"); len(m) == 6 {
			spec.WidthScale = m[0] * 1000
		}
	}
	return pdflayout.NewSimpleFont(spec)
}

// differences reads [code /name /name code /name ...].
func (p *pdfObjects) differences(a types.Array) map[int]string {
	out := map[int]string{}
	code := -1
	for _, e := range a {
		switch v := e.(type) {
		case types.Integer:
			code = int(v)
		case types.Name:
			if code >= 0 {
				out[code] = string(v)
				code++
			}
		}
	}
	return out
}

// cidWidths reads a W array: c [w1 w2 ...] or cFirst cLast w.
func (p *pdfObjects) cidWidths(a types.Array) map[int]float64 {
	out := map[int]float64{}
	for i := 0; i < len(a); {
		first, ok := p.number(a[i])
		if !ok || i+1 >= len(a) {
			break
		}
		next, _ := p.ctx.Dereference(a[i+1])
		if arr, ok := next.(types.Array); ok {
			for k, w := range arr {
				if v, ok := p.number(w); ok {
					out[int(first)+k] = v
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(a) {
			break
		}
		last, ok1 := p.number(a[i+1])
		w, ok2 := p.number(a[i+2])
		if !ok1 || !ok2 || last < first || last-first > 1<<16 {
			break
		}
		for c := int(first); c <= int(last); c++ {
			out[c] = w
		}
		i += 3
	}
	return out
}

func subtype(d types.Dict) string {
	if n := d.NameEntry("Subtype"); n != nil {
		return *n
	}
	return ""
}

func objectNumber(o types.Object) int {
	switch ir := o.(type) {
	case types.IndirectRef:
		return int(ir.ObjectNumber)
	case *types.IndirectRef:
		if ir != nil {
			return int(ir.ObjectNumber)
		}
	}
	return 0
}

// pageContent concatenates the decoded content streams of a page.
func (p *pdfObjects) pageContent(pageDict types.Dict) ([]byte, error) {
	o, ok := pageDict.Find("Contents")
	if !ok {
		return nil, nil
	}
	o, err := p.ctx.Dereference(o)
	if err != nil {
		return nil, err
	}
	var parts []types.Object
	switch v := o.(type) {
	case types.Array:
		parts = v
	case nil:
		return nil, nil
	default:
		parts = []types.Object{v}
	}
	var buf bytes.Buffer
	for _, part := range parts {
		sd, err := p.stream(part)
		if err != nil {
			return nil, fmt.Errorf("content stream: %w", err)
		}
		b, err := p.decode(&sd)
		if err != nil {
			return nil, fmt.Errorf("content stream: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
