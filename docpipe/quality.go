package docpipe

import (
	"regexp"
	"unicode"
)

// Text-layer thresholds. Below them a PDF is reported with hints.
const (
	minCharsPerPage   = 50
	minPrintableRatio = 0.85
	minWordlikeRatio  = 0.4
	minTokensForWords = 20
)

// Quality hints, as reported by ExtractionQuality.Hints.
const (
	HintNeedsOCR    = "needs_ocr"
	HintVisualGap   = "visual_gap"
	HintBrokenWords = "broken_words"
)

// QualityReporter is implemented by extractors that measure their text
// layer. Quality is nil until text has been extracted.
type QualityReporter interface {
	Quality() *ExtractionQuality
}

// ExtractionQuality describes how usable the text layer of a document is.
type ExtractionQuality struct {
	PageCount       int     `json:"page_count"`
	CharsPerPage    float64 `json:"chars_per_page"`
	PrintableRatio  float64 `json:"printable_ratio"`
	WordlikeRatio   float64 `json:"wordlike_ratio"`
	Tokens          int     `json:"tokens"`
	HasImageStreams bool    `json:"has_image_streams"`
	VisualRefCount  int     `json:"visual_ref_count"`
}

func newExtractionQuality(text string, pages int, hasImages bool) *ExtractionQuality {
	st := scanText(text)
	q := &ExtractionQuality{
		PageCount:       pages,
		PrintableRatio:  st.printableRatio(),
		WordlikeRatio:   st.wordlikeRatio(),
		Tokens:          st.tokens,
		HasImageStreams: hasImages,
		VisualRefCount:  countVisualRefs(text),
	}
	if pages > 0 {
		q.CharsPerPage = float64(st.runes) / float64(pages)
	}
	return q
}

// NeedsOCR reports pages that are probably scans: images with almost no
// text, or text made mostly of unmapped glyphs.
func (q *ExtractionQuality) NeedsOCR() bool {
	return (q.CharsPerPage < minCharsPerPage && q.HasImageStreams) || q.PrintableRatio < minPrintableRatio
}

// HasVisualGap reports text that cites numbered figures or tables while
// the document carries images the markdown cannot show.
func (q *ExtractionQuality) HasVisualGap() bool {
	return q.VisualRefCount > 0 && q.HasImageStreams
}

// Hints lists the quality problems found, in a stable order.
func (q *ExtractionQuality) Hints() []string {
	var hints []string
	if q.NeedsOCR() {
		hints = append(hints, HintNeedsOCR)
	}
	if q.HasVisualGap() {
		hints = append(hints, HintVisualGap)
	}
	if q.Tokens >= minTokensForWords && q.WordlikeRatio < minWordlikeRatio {
		hints = append(hints, HintBrokenWords)
	}
	return hints
}

type textStats struct {
	runes, printable int
	tokens, wordlike int
}

// scanText counts runes, printable runes and whitespace-separated tokens in
// one pass. A token is wordlike when it is 2 to 15 runes long.
func scanText(text string) textStats {
	var st textStats
	tokenLen := 0
	endToken := func() {
		if tokenLen == 0 {
			return
		}
		st.tokens++
		if tokenLen >= 2 && tokenLen <= 15 {
			st.wordlike++
		}
		tokenLen = 0
	}
	for _, r := range text {
		st.runes++
		if !garbageRune(r) && (unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t') {
			st.printable++
		}
		if unicode.IsSpace(r) {
			endToken()
		} else {
			tokenLen++
		}
	}
	endToken()
	return st
}

func (st textStats) printableRatio() float64 {
	if st.runes == 0 {
		return 1
	}
	return float64(st.printable) / float64(st.runes)
}

func (st textStats) wordlikeRatio() float64 {
	if st.tokens == 0 {
		return 0
	}
	return float64(st.wordlike) / float64(st.tokens)
}

// garbageRune reports private-use code points, U+FFFD and C0 controls other
// than line breaks and tabs: what fonts without a ToUnicode map decode to.
func garbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF, r == unicode.ReplacementChar:
		return true
	case r < 0x20:
		return r != '\n' && r != '\r' && r != '\t'
	}
	return false
}

var visualRef = regexp.MustCompile(`(?i)\b(?:figure|fig\.|table|chart|diagram)\s*\d+`)

// countVisualRefs counts citations of numbered figures, tables and charts.
func countVisualRefs(text string) int {
	return len(visualRef.FindAllStringIndex(text, -1))
}
