package pdflayout

import (
	"strconv"
	"strings"
)

// glyphNames covers the Adobe glyph names that appear in Differences arrays
// of ordinary Latin documents. Accented letters are composed from accentMarks.
var glyphNames = map[string]string{
	"space": " ", "exclam": "!", "quotedbl": "\"", "numbersign": "#",
	"dollar": "$", "percent": "%", "ampersand": "&", "quotesingle": "'",
	"parenleft": "(", "parenright": ")", "asterisk": "*", "plus": "+",
	"comma": ",", "hyphen": "-", "period": ".", "slash": "/",
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"colon": ":", "semicolon": ";", "less": "<", "equal": "=", "greater": ">",
	"question": "?", "at": "@", "bracketleft": "[", "backslash": "\\",
	"bracketright": "]", "asciicircum": "^", "underscore": "_", "grave": "`",
	"braceleft": "{", "bar": "|", "braceright": "}", "asciitilde": "~",
	"quoteleft": "‘", "quoteright": "’", "quotedblleft": "“",
	"quotedblright": "”", "quotesinglbase": "‚", "quotedblbase": "„",
	"bullet": "•", "endash": "–", "emdash": "—", "ellipsis": "…",
	"dagger": "†", "daggerdbl": "‡", "periodcentered": "·",
	"minus": "−", "degree": "°", "copyright": "©", "registered": "®",
	"trademark": "™", "section": "§", "paragraph": "¶",
	"guillemotleft": "«", "guillemotright": "»", "Euro": "€",
	"sterling": "£", "yen": "¥", "cent": "¢", "nbspace": " ",
	"fi": "fi", "fl": "fl", "ff": "ff", "ffi": "ffi", "ffl": "ffl",
	"germandbls": "ß", "ae": "æ", "AE": "Æ", "oe": "œ", "OE": "Œ",
	"oslash": "ø", "Oslash": "Ø", "dotlessi": "ı",
}

var accentMarks = []struct {
	suffix, mark string
}{
	{"circumflex", "̂"},
	{"dieresis", "̈"},
	{"cedilla", "̧"},
	{"acute", "́"},
	{"grave", "̀"},
	{"tilde", "̃"},
	{"caron", "̌"},
	{"ring", "̊"},
}

// glyphText resolves a glyph name to its text. Accented names produce a
// base letter plus combining mark; callers NFC-normalise the final text.
func glyphText(name string) (string, bool) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if len(name) == 1 {
		return name, true
	}
	if s, ok := glyphNames[name]; ok {
		return s, true
	}
	if hexs, ok := strings.CutPrefix(name, "uni"); ok && len(hexs) >= 4 && len(hexs)%4 == 0 {
		var sb strings.Builder
		for i := 0; i < len(hexs); i += 4 {
			v, err := strconv.ParseUint(hexs[i:i+4], 16, 16)
			if err != nil {
				return "", false
			}
			sb.WriteRune(rune(v))
		}
		return sb.String(), true
	}
	if hexs, ok := strings.CutPrefix(name, "u"); ok && len(hexs) >= 4 && len(hexs) <= 6 {
		if v, err := strconv.ParseUint(hexs, 16, 32); err == nil {
			return string(rune(v)), true
		}
	}
	for _, a := range accentMarks {
		if base, ok := strings.CutSuffix(name, a.suffix); ok && len(base) == 1 {
			return base + a.mark, true
		}
	}
	return "", false
}
