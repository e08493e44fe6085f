package docpipe

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfFixture assembles a PDF from numbered objects and writes an xref table
// with exact byte offsets.
type pdfFixture struct {
	objs []string // objs[i] is object i+1
}

func (f *pdfFixture) add(body string) int {
	f.objs = append(f.objs, body)
	return len(f.objs)
}

func (f *pdfFixture) set(nr int, body string) { f.objs[nr-1] = body }

func (f *pdfFixture) addStream(dict, data string) int {
	return f.add(fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data))
}

func (f *pdfFixture) bytes(root, info int) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(f.objs)+1)
	for i, body := range f.objs {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(f.objs)+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(f.objs); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %d 0 R", len(f.objs)+1, root)
	if info > 0 {
		fmt.Fprintf(&b, " /Info %d 0 R", info)
	}
	fmt.Fprintf(&b, " >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}

// testPage is one page of a synthetic PDF. With image set the page carries
// a 1×1 RGB image XObject named /Im1.
type testPage struct {
	content string
	image   bool
}

// buildPDF writes a letter-size PDF whose pages share one Helvetica font
// named /F1. info, when non-empty, is the Info dictionary source.
func buildPDF(info string, pages ...testPage) []byte {
	f := &pdfFixture{}
	catalog := f.add("")
	tree := f.add("")
	font := f.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		res := fmt.Sprintf("/Font << /F1 %d 0 R >>", font)
		if p.image {
			img := f.addStream("/Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8", "\xff\x00\x00")
			res += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", img)
		}
		content := f.addStream("", p.content)
		page := f.add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>", tree, res, content))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	f.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree))
	f.set(tree, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))

	infoNr := 0
	if info != "" {
		infoNr = f.add(info)
	}
	return f.bytes(catalog, infoNr)
}

// textLine draws s at (x, y) in /F1 at the given size.
func textLine(size float64, x, y float64, s string) string {
	s = strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
	return fmt.Sprintf("BT /F1 %g Tf %g %g Td (%s) Tj ET\n", size, x, y, s)
}

// ruledGrid strokes a grid of rows×cols cells of w×h points whose top-left
// corner is (x, y), and writes cells[r][c] inside each cell at 11pt.
func ruledGrid(x, y, w, h float64, cells [][]string) string {
	rows, cols := len(cells), len(cells[0])
	var b strings.Builder
	b.WriteString("0.5 w\n")
	for r := 0; r <= rows; r++ {
		yy := y - float64(r)*h
		fmt.Fprintf(&b, "%g %g m %g %g l S\n", x, yy, x+float64(cols)*w, yy)
	}
	for c := 0; c <= cols; c++ {
		xx := x + float64(c)*w
		fmt.Fprintf(&b, "%g %g m %g %g l S\n", xx, y, xx, y-float64(rows)*h)
	}
	for r, row := range cells {
		for c, cell := range row {
			b.WriteString(textLine(11, x+float64(c)*w+4, y-float64(r+1)*h+6, cell))
		}
	}
	return b.String()
}

// drawImage paints /Im1 scaled to 100×100 at (x, y).
func drawImage(x, y float64) string {
	return fmt.Sprintf("q 100 0 0 100 %g %g cm /Im1 Do Q\n", x, y)
}

// scenarioPDF is one page: an 18pt title, a 14pt subheading, two 11pt
// paragraphs, a 3×3 ruled table and one drawn 1×1 image.
func scenarioPDF() []byte {
	content := textLine(18, 72, 720, "Annual Report") +
		textLine(14, 72, 690, "Summary") +
		textLine(11, 72, 660, "Revenue grew in every region.") +
		textLine(11, 72, 630, "Costs stayed flat over the year.") +
		ruledGrid(72, 580, 100, 20, [][]string{
			{"Region", "Q1", "Q2"},
			{"North", "10", "12"},
			{"South", "7", "9"},
		}) +
		drawImage(400, 300)
	return buildPDF("<< /Title (Annual Report) /Author (Finance Team) /CreationDate (D:20240115093000+01'00') /ModDate (garbage) >>",
		testPage{content: content, image: true})
}

// testLogger returns a Debug-level text logger writing to the returned buffer.
func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// logLine returns the first logged line containing msg, or "".
func logLine(buf *bytes.Buffer, msg string) string {
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, msg) {
			return line
		}
	}
	return ""
}

// encryptPDF encrypts data with AES-256 under the given user and owner
// passwords.
func encryptPDF(t *testing.T, data []byte, userPW, ownerPW string) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(data), &out, model.NewAESConfiguration(userPW, ownerPW, 256)); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return out.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeZip writes an archive whose entries are created in the order given
// by names.
func writeZip(t *testing.T, name string, names []string, parts map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(parts[n])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
		`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
		`xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
		`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
		`xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture"`
	relImage = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

func wPara(style, text string) string {
	ppr := ""
	if style != "" {
		ppr = `<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`
	}
	return `<w:p>` + ppr + `<w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

func wTable(rows [][]string) string {
	var b strings.Builder
	b.WriteString("<w:tbl>")
	for _, row := range rows {
		b.WriteString("<w:tr>")
		for _, c := range row {
			b.WriteString("<w:tc>" + wPara("", c) + "</w:tc>")
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

func wPicture(relID, descr string) string {
	return `<w:p><w:r><w:drawing><wp:inline><wp:docPr id="1" name="Picture 1" descr="` + descr + `"/>` +
		`<a:graphic><a:graphicData><pic:pic><pic:blipFill><a:blip r:embed="` + relID + `"/></pic:blipFill></pic:pic></a:graphicData></a:graphic>` +
		`</wp:inline></w:drawing></w:r></w:p>`
}

// docxParts returns the parts of a small report: headings through style ids
// resolved in styles.xml, bold and list runs, one 2×2 table, two images of
// which the second is linked externally, and core properties.
func docxParts() ([]string, map[string]string) {
	body := wPara("Title", "Quarterly Review") +
		wPara("Heading2", "Highlights") +
		`<w:p><w:r><w:t xml:space="preserve">Sales were </w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>strong</w:t></w:r><w:r><w:t>.</w:t></w:r></w:p>` +
		wPara("ListBullet", "New office opened") +
		wTable([][]string{{"Metric", "Value"}, {"Revenue", "42"}}) +
		wPicture("rId5", "Sales chart") +
		wPara("", "")
	parts := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="jpeg" ContentType="image/jpeg"/>` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`</Types>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`,
		"word/styles.xml": `<?xml version="1.0" encoding="UTF-8"?><w:styles ` + wordNS + `>` +
			`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/></w:style>` +
			`<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/></w:style>` +
			`<w:style w:type="paragraph" w:styleId="ListBullet"><w:name w:val="List Bullet"/></w:style>` +
			`</w:styles>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
			`<Relationship Id="rId5" Type="` + relImage + `" Target="media/image1.jpeg"/>` +
			`<Relationship Id="rId6" Type="` + relImage + `" Target="http://example.com/logo.png" TargetMode="External"/>` +
			`</Relationships>`,
		"word/media/image1.jpeg": "\xff\xd8\xff\xe0",
		"docProps/core.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
			`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" ` +
			`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
			`<dc:title>Quarterly Review</dc:title><dc:creator>Jordan Lee</dc:creator>` +
			`<dcterms:created xsi:type="dcterms:W3CDTF">2024-03-01T10:00:00Z</dcterms:created>` +
			`<dcterms:modified xsi:type="dcterms:W3CDTF">not a date</dcterms:modified>` +
			`</cp:coreProperties>`,
	}
	names := []string{
		"[Content_Types].xml",
		"word/document.xml",
		"word/styles.xml",
		"word/_rels/document.xml.rels",
		"word/media/image1.jpeg",
		"docProps/core.xml",
	}
	return names, parts
}

func writeDocx(t *testing.T, name string) string {
	t.Helper()
	names, parts := docxParts()
	return writeZip(t, name, names, parts)
}
