package docpipe

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRunRe   = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// CleanText removes NUL and other control characters, normalises line
// endings to \n, collapses runs of spaces within a line and trims the result.
// Output is NFC-normalised.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == 0xFFFD:
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	return norm.NFC.String(strings.TrimSpace(strings.Join(lines, "\n")))
}

// NormalizeWhitespace collapses three or more consecutive newlines to two,
// leaving at most one blank line between blocks.
func NormalizeWhitespace(text string) string {
	return blankLinesRe.ReplaceAllString(text, "\n\n")
}

// HeadingToMarkdown renders text as an ATX heading. level is clamped to 1-6.
func HeadingToMarkdown(text string, level int) string {
	level = min(max(level, 1), 6)
	return strings.Repeat("#", level) + " " + strings.TrimSpace(text)
}

// Bold wraps text in ** markers. Empty input stays empty.
func Bold(text string) string {
	if text == "" {
		return ""
	}
	return "**" + text + "**"
}

// Italic wraps text in * markers. Empty input stays empty.
func Italic(text string) string {
	if text == "" {
		return ""
	}
	return "*" + text + "*"
}

// TableJSON is the header/rows view of a TableData.
type TableJSON struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// TableToJSON splits a table into its first row (headers) and the rest.
func TableToJSON(t TableData) TableJSON {
	out := TableJSON{Headers: []string{}, Rows: [][]string{}}
	if len(t.Content) == 0 {
		return out
	}
	out.Headers = append(out.Headers, t.Content[0]...)
	for _, row := range t.Content[1:] {
		out.Rows = append(out.Rows, append([]string(nil), row...))
	}
	return out
}

// wrapRun applies run formatting to text, keeping surrounding whitespace
// outside the markers so the markdown stays valid.
func wrapRun(text string, bold, italic bool) string {
	core := strings.TrimSpace(text)
	if core == "" || (!bold && !italic) {
		return text
	}
	lead := text[:strings.Index(text, core)]
	trail := text[len(lead)+len(core):]
	if italic {
		core = Italic(core)
	}
	if bold {
		core = Bold(core)
	}
	return lead + core + trail
}
