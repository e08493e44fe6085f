package docpipe

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func openTestDocx(t *testing.T, path string) *DocxExtractor {
	t.Helper()
	e, err := NewDocxExtractor(path, Config{})
	if err != nil {
		t.Fatalf("NewDocxExtractor: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestDocx_Text(t *testing.T) {
	// WHAT: Style ids resolve through styles.xml into headings and lists.
	// WHY: Word stores "Heading2" as id and "heading 2" as name.
	e := openTestDocx(t, writeDocx(t, "report.docx"))

	md, err := e.ExtractText()
	if err != nil {
		t.Fatal(err)
	}
	want := "# Quarterly Review\n\n## Highlights\n\nSales were **strong**.\n\n- New office opened"
	if md != want {
		t.Errorf("markdown =\n%q\nwant\n%q", md, want)
	}
	if strings.Contains(md, "Revenue") {
		t.Error("table cell text leaked into body text")
	}
}

func TestDocx_Tables(t *testing.T) {
	e := openTestDocx(t, writeDocx(t, "report.docx"))

	tables, err := e.ExtractTables()
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	want := [][]string{{"Metric", "Value"}, {"Revenue", "42"}}
	if !reflect.DeepEqual(tables[0].Content, want) {
		t.Errorf("content = %q, want %q", tables[0].Content, want)
	}
	if tables[0].PageOrSlide != nil {
		t.Errorf("page = %v, want nil", *tables[0].PageOrSlide)
	}
}

func TestDocx_Images(t *testing.T) {
	// WHAT: One embedded image and one external link.
	// WHY: Linked targets are skipped without aborting the call.
	e := openTestDocx(t, writeDocx(t, "report.docx"))

	images, err := e.ExtractImages()
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 {
		t.Fatalf("images = %+v, want 1", images)
	}
	img := images[0]
	if img.Filename != "image_0.jpg" || img.Format != "jpg" {
		t.Errorf("image = %s (%s), want image_0.jpg (jpg)", img.Filename, img.Format)
	}
	if img.AltText == nil || *img.AltText != "Sales chart" {
		t.Errorf("alt text = %v", img.AltText)
	}
	if img.PageOrSlide != nil || img.Width != nil {
		t.Errorf("unexpected position or size: %+v", img)
	}
}

func TestDocx_Metadata(t *testing.T) {
	e := openTestDocx(t, writeDocx(t, "report.docx"))

	md, err := e.ExtractMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if md.Title == nil || *md.Title != "Quarterly Review" {
		t.Errorf("title = %v", md.Title)
	}
	if md.Author == nil || *md.Author != "Jordan Lee" {
		t.Errorf("author = %v", md.Author)
	}
	if md.CreatedDate == nil || !md.CreatedDate.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("created = %v", md.CreatedDate)
	}
	if md.ModifiedDate != nil {
		t.Errorf("malformed modified date parsed: %v", md.ModifiedDate)
	}
	if md.PageCount != nil {
		t.Errorf("page count = %d, want nil", *md.PageCount)
	}
	if md.FileFormat != FormatDocx || md.SourceFilename != "report.docx" || md.FileSizeBytes == 0 {
		t.Errorf("filesystem fields: %+v", md)
	}
}

func TestDocx_ExtractAllClean(t *testing.T) {
	e := openTestDocx(t, writeDocx(t, "report.docx"))

	res := e.ExtractAll()
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestDocx_MinimalArchive(t *testing.T) {
	// WHAT: Only word/document.xml is present.
	// WHY: Missing optional parts mean no images and filesystem metadata.
	doc := `<?xml version="1.0"?><w:document ` + wordNS + `><w:body>` + wPara("", "Just text") + `</w:body></w:document>`
	path := writeZip(t, "min.docx", []string{"word/document.xml"}, map[string]string{"word/document.xml": doc})
	e := openTestDocx(t, path)

	res := e.ExtractAll()
	if res.Markdown != "Just text" {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if len(res.Images) != 0 || len(res.Tables) != 0 || len(res.Errors) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Metadata.Title != nil {
		t.Errorf("title = %v", *res.Metadata.Title)
	}
}

func TestDocx_MalformedBody(t *testing.T) {
	// WHAT: document.xml is truncated XML.
	// WHY: Text and tables fail; images and metadata still come through.
	names, parts := docxParts()
	parts["word/document.xml"] = `<?xml version="1.0"?><w:document ` + wordNS + `><w:body><w:p><w:r><w:t>cut`
	e := openTestDocx(t, writeZip(t, "bad.docx", names, parts))

	res := e.ExtractAll()
	if len(res.Errors) != 3 {
		t.Fatalf("errors = %v, want Text, Table and Image failures", res.Errors)
	}
	if !strings.HasPrefix(res.Errors[0], "Text extraction failed: ") {
		t.Errorf("errors[0] = %q", res.Errors[0])
	}
	if res.Metadata.Title == nil || *res.Metadata.Title != "Quarterly Review" {
		t.Errorf("metadata lost: %+v", res.Metadata)
	}
}

func TestDocx_NotAZip(t *testing.T) {
	path := writeFile(t, "fake.docx", []byte("plain text"))
	_, err := NewDocxExtractor(path, Config{})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsInputError(err) {
		t.Errorf("corrupt archive reported as input error: %v", err)
	}
}

func TestDocx_XMLBomb(t *testing.T) {
	// WHAT: Entity expansion in document.xml.
	// WHY: encoding/xml does not expand custom entities; parsing must not blow up.
	bomb := `<?xml version="1.0"?><!DOCTYPE lolz [<!ENTITY lol "lol"><!ENTITY lol2 "&lol;&lol;&lol;&lol;">]>` +
		`<w:document ` + wordNS + `><w:body><w:p><w:r><w:t>&lol2;</w:t></w:r></w:p></w:body></w:document>`
	path := writeZip(t, "bomb.docx", []string{"word/document.xml"}, map[string]string{"word/document.xml": bomb})
	e := openTestDocx(t, path)

	res := e.ExtractAll()
	if strings.Contains(res.Markdown, "lollollol") {
		t.Error("entity expanded")
	}
}

func TestDocxHeadingLevel(t *testing.T) {
	tests := map[string]int{
		"Title":       1,
		"Subtitle":    2,
		"heading 1":   1,
		"Heading3":    3,
		"Titre2":      2,
		"heading 9":   6,
		"Normal":      0,
		"List Bullet": 0,
		"":            0,
	}
	for style, want := range tests {
		if got := docxHeadingLevel(style); got != want {
			t.Errorf("docxHeadingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}

func TestDocxListKind(t *testing.T) {
	tests := []struct {
		style    string
		numbered bool
		want     listKind
	}{
		{"List Bullet", false, listBullet},
		{"List Bullet 2", false, listBullet},
		{"List Number", false, listNumber},
		{"List Paragraph", true, listBullet},
		{"List Paragraph", false, listNone},
		{"Normal", true, listNone},
	}
	for _, tt := range tests {
		if got := docxListKind(tt.style, tt.numbered); got != tt.want {
			t.Errorf("docxListKind(%q, %v) = %d, want %d", tt.style, tt.numbered, got, tt.want)
		}
	}
}

func TestImageFormat(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":    "jpg",
		"image/pjpeg":   "jpg",
		"image/png":     "png",
		"image/svg+xml": "svg",
		"image/x-emf":   "x-emf",
		"":              "bin",
	}
	for ct, want := range tests {
		if got := imageFormat(ct); got != want {
			t.Errorf("imageFormat(%q) = %q, want %q", ct, got, want)
		}
	}
}
