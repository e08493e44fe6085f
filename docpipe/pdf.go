package docpipe

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/hazyhaar/docextract/docpipe/internal/pdflayout"
)

// PDFExtractor extracts PDFs. Headings are inferred from font sizes, tables
// from ruling lines and images from XObject resources.
type PDFExtractor struct {
	base

	mu    sync.Mutex
	ctx   *model.Context
	objs  *pdfObjects
	pages map[int]*pdfPage

	quality *ExtractionQuality
}

type pdfPage struct {
	layout *pdflayout.Page
	res    *pdfResources
	err    error
}

var errClosed = errors.New("extractor closed")

// NewPDFExtractor validates path and opens the document. Encrypted files are
// opened with cfg.PDFPassword; failing that, the error matches ErrEncrypted.
func NewPDFExtractor(path string, cfg Config) (*PDFExtractor, error) {
	b, err := newBase(path, FormatPDF, cfg)
	if err != nil {
		return nil, err
	}
	ctx, err := openPDF(path, b.cfg.PDFPassword)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("pdf opened", "pages", ctx.PageCount)
	return &PDFExtractor{
		base:  b,
		ctx:   ctx,
		objs:  newPDFObjects(ctx),
		pages: map[int]*pdfPage{},
	}, nil
}

func openPDF(path, password string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if password != "" {
		conf.UserPW = password
	}
	ctx, err := api.ReadAndValidate(f, conf)
	if err != nil {
		if isPasswordError(err) {
			return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
		}
		return nil, extractionError(err, "pdfcpu read")
	}
	return ctx, nil
}

func isPasswordError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// Close releases the parsed document.
func (e *PDFExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx, e.objs, e.pages = nil, nil, nil
	return nil
}

// ExtractAll runs the four capabilities with failure isolation.
func (e *PDFExtractor) ExtractAll() *ExtractionResult {
	return runCapabilities(e, &e.base)
}

// Quality returns the text quality metrics of the last ExtractText call.
func (e *PDFExtractor) Quality() *ExtractionQuality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quality
}

func (e *PDFExtractor) pageCount() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return 0, errClosed
	}
	return e.ctx.PageCount, nil
}

// interpretPage is replaced in tests.
var interpretPage = pdflayout.Interpret

// page interprets one page once; later calls reuse the result. A page whose
// content stream is malformed keeps what was painted before the error, and
// one whose interpretation panics is cached as empty with the panic as error.
func (e *PDFExtractor) page(pageNr int) (_ *pdfPage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, errClosed
	}
	if p, ok := e.pages[pageNr]; ok {
		return p, p.err
	}

	p := &pdfPage{}
	e.pages[pageNr] = p
	defer func() {
		if r := recover(); r != nil {
			p.layout = &pdflayout.Page{}
			p.err = fmt.Errorf("page %d: panic: %v", pageNr, r)
			err = p.err
		}
	}()

	pageDict, _, inh, err := e.ctx.PageDict(pageNr, false)
	if err != nil || pageDict == nil {
		if err == nil {
			err = errors.New("missing page dictionary")
		}
		p.err = fmt.Errorf("page %d: %w", pageNr, err)
		return p, p.err
	}
	var resDict types.Dict
	if o, ok := pageDict.Find("Resources"); ok {
		resDict, _ = e.ctx.DereferenceDict(o)
	}
	if resDict == nil && inh != nil {
		resDict = inh.Resources
	}
	p.res = &pdfResources{objs: e.objs, dict: resDict}

	content, err := e.objs.pageContent(pageDict)
	if err != nil {
		p.err = fmt.Errorf("page %d: %w", pageNr, err)
		p.layout = &pdflayout.Page{}
		return p, p.err
	}
	p.layout, err = interpretPage(content, p.res)
	if err != nil {
		p.err = fmt.Errorf("page %d: %w", pageNr, err)
	}
	return p, p.err
}

// ExtractText renders the document as markdown. The largest distinct font
// sizes (Config.HeadingLevels of them) become heading levels 1..n; every
// block is one heading or paragraph.
func (e *PDFExtractor) ExtractText() (string, error) {
	n, err := e.pageCount()
	if err != nil {
		return "", err
	}

	var blocks []pdflayout.Block
	for pageNr := 1; pageNr <= n; pageNr++ {
		p, err := e.page(pageNr)
		if err != nil {
			return "", extractionError(err, "read text")
		}
		blocks = append(blocks, pdflayout.Blocks(pageNr, p.layout.Spans)...)
	}

	sizes := pdflayout.Census(blocks)
	levels := pdflayout.HeadingLevels(sizes, e.cfg.HeadingLevels)
	e.logger.Debug("font census", "sizes", sizes, "blocks", len(blocks))

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		text := b.Text()
		if text == "" {
			continue
		}
		if level, ok := levels[pdflayout.RoundSize(b.Size())]; ok {
			text = HeadingToMarkdown(text, level)
		}
		parts = append(parts, text)
	}
	md := NormalizeWhitespace(CleanText(strings.Join(parts, "\n\n")))

	e.recordQuality(md, n)
	return md, nil
}

func (e *PDFExtractor) recordQuality(md string, pages int) {
	hasImages := false
	for pageNr := 1; pageNr <= pages && !hasImages; pageNr++ {
		if p, _ := e.page(pageNr); p != nil && p.res != nil {
			hasImages = len(e.pageImages(p)) > 0
		}
	}
	q := newExtractionQuality(md, pages, hasImages)
	e.mu.Lock()
	e.quality = q
	e.mu.Unlock()
	e.logger.Debug("text quality",
		"chars_per_page", q.CharsPerPage,
		"printable_ratio", q.PrintableRatio,
		"needs_ocr", q.NeedsOCR(),
		"visual_gap", q.HasVisualGap())
}

// ExtractTables returns the ruled tables of every page, top to bottom. A
// page whose detection fails is skipped.
func (e *PDFExtractor) ExtractTables() ([]TableData, error) {
	n, err := e.pageCount()
	if err != nil {
		return nil, err
	}
	tables := []TableData{}
	for pageNr := 1; pageNr <= n; pageNr++ {
		found, err := e.pageTables(pageNr)
		if err != nil {
			e.logger.Warn("table detection skipped page", "page", pageNr, "error", err)
			continue
		}
		for _, t := range found {
			tables = append(tables, TableData{Content: t.Rows, PageOrSlide: intPtr(pageNr)})
		}
	}
	return tables, nil
}

func (e *PDFExtractor) pageTables(pageNr int) (tables []pdflayout.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	p, err := e.page(pageNr)
	if err != nil {
		return nil, err
	}
	tables = pdflayout.DetectTables(p.layout)
	for _, t := range tables {
		for _, row := range t.Rows {
			for i, cell := range row {
				row[i] = CleanText(cell)
			}
		}
	}
	return tables, nil
}

// pdfImageRef is one image of a page in document order.
type pdfImageRef struct {
	name  string
	objNr int
}

// ExtractImages reports every image XObject of every page: the ones drawn,
// in drawing order, then the remaining page resources by name. An image
// whose stream cannot be decoded is skipped but keeps its index.
func (e *PDFExtractor) ExtractImages() ([]ImageData, error) {
	n, err := e.pageCount()
	if err != nil {
		return nil, err
	}
	images := []ImageData{}
	for pageNr := 1; pageNr <= n; pageNr++ {
		p, err := e.page(pageNr)
		if errors.Is(err, errClosed) {
			return nil, err
		}
		if p == nil || p.res == nil {
			e.logger.Warn("image extraction skipped page", "page", pageNr, "error", err)
			continue
		}
		for idx, ref := range e.pageImages(p) {
			img, err := e.describeImage(ref)
			if err != nil {
				e.logger.Warn("image skipped", "page", pageNr, "index", idx, "name", ref.name, "error", err)
				continue
			}
			img.Filename = fmt.Sprintf("image_p%d_i%d.%s", pageNr, idx, img.Format)
			img.PageOrSlide = intPtr(pageNr)
			images = append(images, img)
		}
	}
	return images, nil
}

func (e *PDFExtractor) pageImages(p *pdfPage) []pdfImageRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	var refs []pdfImageRef
	seen := map[string]bool{}
	key := func(name string, objNr int) string {
		if objNr > 0 {
			return fmt.Sprintf("#%d", objNr)
		}
		return name
	}
	if p.layout != nil {
		for _, pl := range p.layout.Images {
			k := key(pl.Name, pl.ID)
			if seen[k] {
				continue
			}
			seen[k] = true
			refs = append(refs, pdfImageRef{name: pl.Name, objNr: pl.ID})
		}
	}
	names := p.res.imageNames()
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	slices.Sort(sorted)
	for _, name := range sorted {
		k := key(name, names[name])
		if seen[k] {
			continue
		}
		seen[k] = true
		refs = append(refs, pdfImageRef{name: name, objNr: names[name]})
	}
	return refs
}

// describeImage decodes the image stream far enough to know it is usable
// and reads its dimensions.
func (e *PDFExtractor) describeImage(ref pdfImageRef) (img ImageData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.objs == nil {
		return img, errClosed
	}
	sd, ok := e.objs.images[ref.objNr]
	if !ok {
		return img, fmt.Errorf("image %s: stream not resolved", ref.name)
	}

	filter := lastFilter(sd.Dict)
	img.Format = imageExt(filter)
	for key, dst := range map[string]**int{"Width": &img.Width, "Height": &img.Height} {
		if o, ok := sd.Dict.Find(key); ok {
			if v, ok := e.objs.number(o); ok && v > 0 {
				*dst = intPtr(int(v))
			}
		}
	}

	switch filter {
	case "DCTDecode":
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(sd.Raw))
		if err != nil {
			return img, fmt.Errorf("image %s: %w", ref.name, err)
		}
		if img.Width == nil {
			img.Width = intPtr(cfg.Width)
		}
		if img.Height == nil {
			img.Height = intPtr(cfg.Height)
		}
	case "JPXDecode", "JBIG2Decode":
		if len(sd.Raw) == 0 {
			return img, fmt.Errorf("image %s: empty stream", ref.name)
		}
	default:
		content, err := e.objs.decode(&sd)
		if err != nil {
			return img, fmt.Errorf("image %s: %w", ref.name, err)
		}
		if len(content) == 0 {
			return img, fmt.Errorf("image %s: empty stream", ref.name)
		}
	}
	return img, nil
}

func lastFilter(d types.Dict) string {
	o, ok := d.Find("Filter")
	if !ok {
		return ""
	}
	switch f := o.(type) {
	case types.Name:
		return string(f)
	case types.Array:
		if len(f) > 0 {
			if n, ok := f[len(f)-1].(types.Name); ok {
				return string(n)
			}
		}
	}
	return ""
}

// imageExt maps a stream's final filter to a file extension. Pixel data
// without an image codec is reported as png, the format it would be
// re-encoded to.
func imageExt(filter string) string {
	switch filter {
	case "DCTDecode":
		return "jpg"
	case "JPXDecode":
		return "jpx"
	case "JBIG2Decode":
		return "jb2"
	case "CCITTFaxDecode":
		return "tiff"
	}
	return "png"
}

// ExtractMetadata reads the Info dictionary. Dates that do not parse are nil.
func (e *PDFExtractor) ExtractMetadata() (DocumentMetadata, error) {
	md := e.minimalMetadata()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return md, errClosed
	}
	md.PageCount = intPtr(e.ctx.PageCount)
	if e.ctx.Info == nil {
		return md, nil
	}
	info, err := e.ctx.DereferenceDict(*e.ctx.Info)
	if err != nil || info == nil {
		e.logger.Debug("info dictionary unreadable", "error", err)
		return md, nil
	}
	md.Title = strPtr(strings.TrimSpace(e.infoString(info, "Title")))
	md.Author = strPtr(strings.TrimSpace(e.infoString(info, "Author")))
	md.CreatedDate = parsePDFDate(e.infoString(info, "CreationDate"))
	md.ModifiedDate = parsePDFDate(e.infoString(info, "ModDate"))
	return md, nil
}

func (e *PDFExtractor) infoString(info types.Dict, key string) string {
	o, ok := info.Find(key)
	if !ok {
		return ""
	}
	o, err := e.ctx.Dereference(o)
	if err != nil {
		return ""
	}
	switch v := o.(type) {
	case types.StringLiteral:
		return decodeTextString([]byte(decodePDFString([]byte(v))))
	case types.HexLiteral:
		raw, err := hex.DecodeString(string(v))
		if err != nil {
			return ""
		}
		return decodeTextString(raw)
	}
	return ""
}

// decodeTextString decodes a PDF text string: UTF-16BE or UTF-8 with a byte
// order mark, otherwise UTF-8 when valid, otherwise PDFDocEncoding (read as
// Windows-1252).
func decodeTextString(b []byte) string {
	switch {
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		return utf16BE(b[2:])
	case len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		return string(b[3:])
	case utf8.Valid(b):
		return string(b)
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func utf16BE(b []byte) string {
	s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// parsePDFDate reads D:YYYYMMDDHHmmSS, ignoring any timezone suffix.
func parsePDFDate(s string) *time.Time {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 14 {
		return nil
	}
	t, err := time.Parse("20060102150405", s[:14])
	if err != nil {
		return nil
	}
	return &t
}

// decodePDFString resolves the escape sequences of a literal string.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			case '\n':
			case '\r':
				if i+1 < len(raw) && raw[i+1] == '\n' {
					i++
				}
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}
