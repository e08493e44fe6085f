package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// DocxExtractor reads Word documents from their OOXML parts. Page count is
// never reported: it only exists after a layout pass.
type DocxExtractor struct {
	base

	mu     sync.Mutex
	zr     *zip.ReadCloser
	parsed *docxBody
}

const docxMainPart = "word/document.xml"

// NewDocxExtractor validates path and opens the archive.
func NewDocxExtractor(path string, cfg Config) (*DocxExtractor, error) {
	b, err := newBase(path, FormatDocx, cfg)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, extractionError(err, "open zip")
	}
	if findZipFile(&zr.Reader, docxMainPart) == nil {
		zr.Close()
		return nil, extractionError(nil, "%s not found in archive", docxMainPart)
	}
	return &DocxExtractor{base: b, zr: zr}, nil
}

// Close releases the archive.
func (e *DocxExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.zr == nil {
		return nil
	}
	err := e.zr.Close()
	e.zr, e.parsed = nil, nil
	return err
}

// ExtractAll runs the four capabilities with failure isolation.
func (e *DocxExtractor) ExtractAll() *ExtractionResult {
	return runCapabilities(e, &e.base)
}

func findZipFile(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (e *DocxExtractor) openPart(name string) (io.ReadCloser, error) {
	if e.zr == nil {
		return nil, errClosed
	}
	f := findZipFile(&e.zr.Reader, name)
	if f == nil {
		return nil, fmt.Errorf("%s: %w", name, errPartMissing)
	}
	return f.Open()
}

var errPartMissing = errors.New("part not found in archive")

// body parses word/document.xml once.
func (e *DocxExtractor) body() (*docxBody, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parsed != nil {
		return e.parsed, nil
	}
	styles, err := e.readStyles()
	if err != nil {
		e.logger.Debug("styles unavailable, using style ids", "error", err)
	}
	rc, err := e.openPart(docxMainPart)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := parseDocxBody(rc, styles)
	if err != nil {
		return nil, extractionError(err, "parse %s", docxMainPart)
	}
	e.parsed = body
	return body, nil
}

// readStyles maps style ids to style names from word/styles.xml.
func (e *DocxExtractor) readStyles() (map[string]string, error) {
	rc, err := e.openPart("word/styles.xml")
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var doc struct {
		Styles []struct {
			ID   string `xml:"styleId,attr"`
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
		} `xml:"style"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc.Styles))
	for _, s := range doc.Styles {
		if s.ID != "" && s.Name.Val != "" {
			out[s.ID] = s.Name.Val
		}
	}
	return out, nil
}

// ExtractText renders body paragraphs in order: heading styles become ATX
// headings, list styles become list items and run formatting becomes
// bold/italic markup. Table content is only reported by ExtractTables.
func (e *DocxExtractor) ExtractText() (string, error) {
	body, err := e.body()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(body.paragraphs))
	for _, p := range body.paragraphs {
		if line := p.markdown(); line != "" {
			parts = append(parts, line)
		}
	}
	return NormalizeWhitespace(CleanText(strings.Join(parts, "\n\n"))), nil
}

// ExtractTables returns the top-level tables. A cell's paragraphs are joined
// with newlines; merged cells appear once.
func (e *DocxExtractor) ExtractTables() ([]TableData, error) {
	body, err := e.body()
	if err != nil {
		return nil, err
	}
	tables := make([]TableData, 0, len(body.tables))
	for _, rows := range body.tables {
		content := make([][]string, 0, len(rows))
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = CleanText(c)
			}
			content = append(content, cells)
		}
		tables = append(tables, TableData{Content: content})
	}
	return tables, nil
}

type docxRel struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// ExtractImages lists image relationships of the main part in relationship
// order. The format comes from the part's content type; linked or missing
// parts are skipped.
func (e *DocxExtractor) ExtractImages() ([]ImageData, error) {
	body, err := e.body()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rels, err := e.readRels("word/_rels/document.xml.rels")
	if err != nil {
		if errors.Is(err, errPartMissing) {
			return []ImageData{}, nil
		}
		return nil, extractionError(err, "read relationships")
	}
	ctypes, err := e.readContentTypes()
	if err != nil {
		e.logger.Debug("content types unavailable", "error", err)
	}

	images := []ImageData{}
	index := 0
	for _, rel := range rels {
		if !strings.HasSuffix(rel.Type, "/image") {
			continue
		}
		idx := index
		index++
		if strings.EqualFold(rel.TargetMode, "External") {
			e.logger.Warn("image skipped", "rel", rel.ID, "reason", "external target")
			continue
		}
		part := resolvePart("word", rel.Target)
		if findZipFile(&e.zr.Reader, part) == nil {
			e.logger.Warn("image skipped", "rel", rel.ID, "part", part, "reason", "missing part")
			continue
		}
		ext := imageFormat(ctypes.lookup(part))
		img := ImageData{
			Filename: fmt.Sprintf("image_%d.%s", idx, ext),
			Format:   ext,
			AltText:  strPtr(strings.TrimSpace(body.altText[rel.ID])),
		}
		images = append(images, img)
	}
	return images, nil
}

func (e *DocxExtractor) readRels(name string) ([]docxRel, error) {
	rc, err := e.openPart(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var doc struct {
		Rels []docxRel `xml:"Relationship"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Rels, nil
}

type contentTypes struct {
	defaults  map[string]string // extension → type
	overrides map[string]string // part name without leading slash → type
}

func (c *contentTypes) lookup(part string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(part)), ".")
	if c != nil {
		if t, ok := c.overrides[part]; ok {
			return t
		}
		if t, ok := c.defaults[ext]; ok {
			return t
		}
	}
	// Without a registered type the extension is the best evidence.
	return "image/" + ext
}

func (e *DocxExtractor) readContentTypes() (*contentTypes, error) {
	rc, err := e.openPart("[Content_Types].xml")
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var doc struct {
		Defaults []struct {
			Extension   string `xml:"Extension,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Default"`
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, err
	}
	ct := &contentTypes{defaults: map[string]string{}, overrides: map[string]string{}}
	for _, d := range doc.Defaults {
		ct.defaults[strings.ToLower(d.Extension)] = d.ContentType
	}
	for _, o := range doc.Overrides {
		ct.overrides[strings.TrimPrefix(o.PartName, "/")] = o.ContentType
	}
	return ct, nil
}

// resolvePart turns a relationship target into a zip entry name.
func resolvePart(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join(dir, target)), "/")
}

// imageFormat derives the extension from a content type: the subtype,
// lowercased, with jpeg spelled jpg.
func imageFormat(contentType string) string {
	sub := contentType
	if i := strings.LastIndex(sub, "/"); i >= 0 {
		sub = sub[i+1:]
	}
	if i := strings.IndexAny(sub, ";+"); i >= 0 {
		sub = sub[:i]
	}
	sub = strings.ToLower(strings.TrimSpace(sub))
	switch sub {
	case "jpeg", "pjpeg":
		return "jpg"
	case "":
		return "bin"
	}
	return sub
}

// ExtractMetadata maps docProps/core.xml. A missing core part is not an
// error; page count stays nil.
func (e *DocxExtractor) ExtractMetadata() (DocumentMetadata, error) {
	md := e.minimalMetadata()
	e.mu.Lock()
	defer e.mu.Unlock()
	rc, err := e.openPart("docProps/core.xml")
	if err != nil {
		if errors.Is(err, errPartMissing) {
			return md, nil
		}
		return md, err
	}
	defer rc.Close()
	var core struct {
		Title    string `xml:"title"`
		Creator  string `xml:"creator"`
		Created  string `xml:"created"`
		Modified string `xml:"modified"`
	}
	if err := xml.NewDecoder(rc).Decode(&core); err != nil {
		return md, extractionError(err, "parse core properties")
	}
	md.Title = strPtr(strings.TrimSpace(core.Title))
	md.Author = strPtr(strings.TrimSpace(core.Creator))
	md.CreatedDate = parseW3CDate(core.Created)
	md.ModifiedDate = parseW3CDate(core.Modified)
	return md, nil
}

func parseW3CDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// --- document.xml parsing ---

type docxBody struct {
	paragraphs []docxParagraph
	tables     [][][]string
	altText    map[string]string // relationship id → picture description
}

type docxRun struct {
	text         string
	bold, italic bool
}

type docxParagraph struct {
	style    string // resolved style name
	numbered bool   // carries w:numPr
	runs     []docxRun
}

func (p docxParagraph) plain() string {
	var sb strings.Builder
	for _, r := range p.runs {
		sb.WriteString(r.text)
	}
	return sb.String()
}

// formatted merges runs with equal formatting before wrapping them, so
// "**a****b**" never appears.
func (p docxParagraph) formatted() string {
	var sb strings.Builder
	for i := 0; i < len(p.runs); {
		cur := p.runs[i]
		text := cur.text
		j := i + 1
		for ; j < len(p.runs) && p.runs[j].bold == cur.bold && p.runs[j].italic == cur.italic; j++ {
			text += p.runs[j].text
		}
		sb.WriteString(wrapRun(text, cur.bold, cur.italic))
		i = j
	}
	return sb.String()
}

func (p docxParagraph) markdown() string {
	if strings.TrimSpace(p.plain()) == "" {
		return ""
	}
	if level := docxHeadingLevel(p.style); level > 0 {
		return HeadingToMarkdown(strings.Join(strings.Fields(p.plain()), " "), level)
	}
	switch docxListKind(p.style, p.numbered) {
	case listBullet:
		return "- " + strings.TrimSpace(p.formatted())
	case listNumber:
		return "1. " + strings.TrimSpace(p.formatted())
	}
	return strings.TrimSpace(p.formatted())
}

// docxParser walks document.xml with a token decoder. Only paragraphs that
// are direct children of the body reach the text; paragraphs directly inside
// cells of top-level tables become cell text.
type docxParser struct {
	styles map[string]string
	body   *docxBody

	stack []string
	paras []*docxParagraph
	run   *docxRun

	tableDepth int
	table      [][]string
	row        []string
	cell       []string

	pendingAlt string
}

func parseDocxBody(r io.Reader, styles map[string]string) (*docxBody, error) {
	p := &docxParser{
		styles: styles,
		body:   &docxBody{altText: map[string]string{}},
	}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return p.body, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
			p.stack = append(p.stack, t.Name.Local)
		case xml.EndElement:
			if n := len(p.stack); n > 0 {
				p.stack = p.stack[:n-1]
			}
			p.end(t.Name.Local)
		case xml.CharData:
			if p.run != nil && p.parent(0) == "t" {
				p.run.text += string(t)
			}
		}
	}
}

// parent returns the ancestor local name k levels above the innermost
// open element (0 is the innermost).
func (p *docxParser) parent(k int) string {
	if i := len(p.stack) - 1 - k; i >= 0 {
		return p.stack[i]
	}
	return ""
}

func attr(t xml.StartElement, local string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// toggled reads an OOXML on/off property such as w:b.
func toggled(t xml.StartElement) bool {
	v, ok := attr(t, "val")
	if !ok {
		return true
	}
	switch strings.ToLower(v) {
	case "0", "false", "off", "none":
		return false
	}
	return true
}

func (p *docxParser) cur() *docxParagraph {
	if n := len(p.paras); n > 0 {
		return p.paras[n-1]
	}
	return nil
}

func (p *docxParser) start(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		p.paras = append(p.paras, &docxParagraph{})
	case "pStyle":
		if para := p.cur(); para != nil && p.parent(0) == "pPr" {
			id, _ := attr(t, "val")
			para.style = id
			if name, ok := p.styles[id]; ok {
				para.style = name
			}
		}
	case "numPr":
		if para := p.cur(); para != nil && p.parent(0) == "pPr" {
			para.numbered = true
		}
	case "r":
		if p.cur() != nil {
			p.run = &docxRun{}
		}
	case "b":
		if p.run != nil && p.parent(0) == "rPr" {
			p.run.bold = toggled(t)
		}
	case "i":
		if p.run != nil && p.parent(0) == "rPr" {
			p.run.italic = toggled(t)
		}
	case "tab":
		if p.run != nil && p.parent(0) == "r" {
			p.run.text += "\t"
		}
	case "br", "cr":
		if p.run != nil && p.parent(0) == "r" {
			p.run.text += "\n"
		}
	case "tbl":
		p.tableDepth++
		if p.tableDepth == 1 {
			p.table = nil
		}
	case "tr":
		if p.tableDepth == 1 {
			p.row = nil
		}
	case "tc":
		if p.tableDepth == 1 {
			p.cell = nil
		}
	case "docPr":
		desc, _ := attr(t, "descr")
		if desc == "" {
			desc, _ = attr(t, "title")
		}
		p.pendingAlt = desc
	case "blip":
		if id, ok := attr(t, "embed"); ok && id != "" {
			if _, seen := p.body.altText[id]; !seen {
				p.body.altText[id] = p.pendingAlt
			}
		}
	}
}

func (p *docxParser) end(local string) {
	switch local {
	case "r":
		if para := p.cur(); para != nil && p.run != nil {
			if p.run.text != "" {
				para.runs = append(para.runs, *p.run)
			}
			p.run = nil
		}
	case "p":
		n := len(p.paras)
		if n == 0 {
			return
		}
		para := p.paras[n-1]
		p.paras = p.paras[:n-1]
		switch p.parent(0) {
		case "body":
			p.body.paragraphs = append(p.body.paragraphs, *para)
		case "tc":
			if p.tableDepth == 1 {
				p.cell = append(p.cell, para.plain())
			}
		}
	case "tc":
		if p.tableDepth == 1 {
			p.row = append(p.row, strings.Join(p.cell, "\n"))
		}
	case "tr":
		if p.tableDepth == 1 {
			p.table = append(p.table, p.row)
		}
	case "tbl":
		if p.tableDepth == 1 && p.parent(0) == "body" {
			p.body.tables = append(p.body.tables, p.table)
		}
		if p.tableDepth > 0 {
			p.tableDepth--
		}
	case "drawing", "pict":
		p.pendingAlt = ""
	}
}

// docxHeadingLevel maps a style name or id to a heading level:
// "Title"/"heading 1"/"Heading1" → 1, "Subtitle"/"heading 2" → 2, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ReplaceAll(strings.ToLower(style), " ", "")

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	// "Heading1", "heading 1", "Titre1", etc.
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
				return min(int(rest[0]-'0'), 6)
			}
		}
	}
	return 0
}

type listKind int

const (
	listNone listKind = iota
	listBullet
	listNumber
)

// docxListKind recognises "List Bullet*" and "List Number*" styles. A
// numbered "List Paragraph" is rendered as a bullet: its numbering
// definition lives in numbering.xml, which is not read.
func docxListKind(style string, numbered bool) listKind {
	lower := strings.ReplaceAll(strings.ToLower(style), " ", "")
	switch {
	case strings.HasPrefix(lower, "listbullet"):
		return listBullet
	case strings.HasPrefix(lower, "listnumber"):
		return listNumber
	case lower == "listparagraph" && numbered:
		return listBullet
	}
	return listNone
}
