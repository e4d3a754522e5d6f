// Package speech normalizes extracted text into synthesis-safe form.
//
// Extraction output is full of things a speech engine reads badly: leftover
// markup, curly punctuation, footnote brackets, foreign-script passages,
// decorative glyphs. Normalize applies an ordered pipeline of cleanups and is
// idempotent on already-clean prose. AggressiveCleanup is the destructive
// fallback used when synthesis rejects even normalized text.
package speech

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ForeignMode selects how contiguous foreign-script runs are handled.
type ForeignMode string

// Foreign handling modes.
const (
	// ForeignPlaceholder replaces foreign passages with a short spoken notice.
	ForeignPlaceholder ForeignMode = "placeholder"
	// ForeignTransliterate reduces foreign passages to pronounceable Latin
	// characters where possible.
	ForeignTransliterate ForeignMode = "transliterate"
)

// ForeignPassagePlaceholder is spoken in place of an untransliterable passage.
const ForeignPassagePlaceholder = "[Foreign language passage.]"

// Normalizer applies the normalization pipeline.
type Normalizer struct {
	mode ForeignMode
}

// New creates a Normalizer. An unrecognized mode falls back to placeholder.
func New(mode ForeignMode) *Normalizer {
	if mode != ForeignTransliterate {
		mode = ForeignPlaceholder
	}
	return &Normalizer{mode: mode}
}

var (
	tagRe          = regexp.MustCompile(`<[^<>]+>`)
	headingRe      = regexp.MustCompile(`(?m)^\s*#{1,6}\s+`)
	listRe         = regexp.MustCompile(`(?m)^\s*(?:[-*+•]|\d+[.)])\s+`)
	quoteRe        = regexp.MustCompile(`(?m)^\s*>\s?`)
	boldRe         = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)
	underscoreRe   = regexp.MustCompile(`_{1,3}([^_]+)_{1,3}`)
	backtickRe     = regexp.MustCompile("`([^`]*)`")
	footnoteRe     = regexp.MustCompile(`\[\d+\]|\[[a-z]\]|[†‡]`)
	dashRe         = regexp.MustCompile(`\s*[\x{2014}\x{2013}\x{2015}]+\s*`)
	dotRunRe       = regexp.MustCompile(`\.{3,}`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	spaceRunRe     = regexp.MustCompile(`[ \t]+`)
	spaceBeforePct = regexp.MustCompile(`\s+([.,!?;:])`)
)

// decorative glyphs that synthesis engines spell out or choke on.
var decorativeReplacer = strings.NewReplacer(
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, // curly double quotes
	"\u2018", "'", "\u2019", "'", "\u201a", "'", // curly single quotes
	"\u2026", "...", // ellipsis
	"\u00a0", " ", // no-break space
	"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", // zero-width
	"\u2022", "", "\u25e6", "", "\u25aa", "", "\u25a0", "", // bullets
	"\u2605", "", "\u2606", "", "\u00b6", "", "\u00a7", "", // stars, pilcrow, section
	"\u00ab", `"`, "\u00bb", `"`, // guillemets
)

// Normalize runs the full pipeline: markup strip, foreign-run handling,
// punctuation normalization, line-break shaping, whitespace collapse.
// Idempotent on clean prose.
func (n *Normalizer) Normalize(text string) string {
	text = stripMarkup(text)
	text = n.replaceForeign(text)
	text = normalizePunctuation(text)
	text = shapeLineBreaks(text)
	return collapseWhitespace(text)
}

// stripMarkup unwraps markup to its inner words rather than deleting it.
func stripMarkup(text string) string {
	text = tagRe.ReplaceAllString(text, " ")
	text = headingRe.ReplaceAllString(text, "")
	text = listRe.ReplaceAllString(text, "")
	text = quoteRe.ReplaceAllString(text, "")
	text = boldRe.ReplaceAllString(text, "$1")
	text = underscoreRe.ReplaceAllString(text, "$1")
	text = backtickRe.ReplaceAllString(text, "$1")
	return text
}

// replaceForeign finds contiguous runs of non-Latin or heavily accented words
// in each line and resolves them per the configured mode. Short isolated
// foreign words (names, loan words) are transliterated inline regardless of
// mode so a single "café" never becomes a placeholder.
func (n *Normalizer) replaceForeign(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = n.replaceForeignInLine(line)
	}
	return strings.Join(lines, "\n")
}

const foreignRunWords = 3

func (n *Normalizer) replaceForeignInLine(line string) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return line
	}

	var out []string
	for i := 0; i < len(words); {
		if !isForeignWord(words[i]) {
			out = append(out, words[i])
			i++
			continue
		}

		j := i
		for j < len(words) && isForeignWord(words[j]) {
			j++
		}
		run := strings.Join(words[i:j], " ")

		switch {
		case j-i < foreignRunWords || n.mode == ForeignTransliterate || isLatinScript(run):
			// Isolated foreign words and accented-but-Latin passages are
			// transliterated in place; true foreign scripts too when the
			// mode asks for it.
			out = append(out, transliterateOrDrop(run, ForeignPassagePlaceholder))
		default:
			out = append(out, ForeignPassagePlaceholder)
		}
		i = j
	}

	// Collapse adjacent placeholders left by interleaved runs.
	return dedupePlaceholders(strings.Join(out, " "))
}

func dedupePlaceholders(line string) string {
	doubled := ForeignPassagePlaceholder + " " + ForeignPassagePlaceholder
	for strings.Contains(line, doubled) {
		line = strings.ReplaceAll(line, doubled, ForeignPassagePlaceholder)
	}
	return line
}

// isForeignWord reports whether a word's letters are mostly non-Latin script
// or carry combining marks.
func isForeignWord(w string) bool {
	letters, latin, marked := 0, 0, 0
	for _, r := range norm.NFD.String(w) {
		switch {
		case unicode.IsLetter(r):
			letters++
			if unicode.Is(unicode.Latin, r) {
				latin++
			}
		case unicode.Is(unicode.Mn, r):
			marked++
		}
	}
	if letters == 0 {
		return false
	}
	return latin*2 < letters || marked > 0
}

// isLatinScript uses script detection on the whole run; word-level heuristics
// misfire on heavily accented Latin languages like Vietnamese.
func isLatinScript(run string) bool {
	return whatlanggo.DetectScript(run) == unicode.Latin
}

// accentStripper decomposes, removes combining marks, and recomposes.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// transliterateOrDrop reduces s to pronounceable Latin characters. When
// nothing pronounceable survives, fallback is returned instead.
func transliterateOrDrop(s, fallback string) string {
	stripped, _, err := transform.String(accentStripper, s)
	if err != nil {
		return fallback
	}

	var b strings.Builder
	for _, r := range stripped {
		if r < 128 || unicode.Is(unicode.Latin, r) {
			b.WriteRune(r)
		}
	}

	result := strings.Join(strings.Fields(b.String()), " ")
	if countLetters(result) == 0 {
		return fallback
	}
	return result
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// normalizePunctuation maps punctuation that causes synthesis glitches to
// plain equivalents.
func normalizePunctuation(text string) string {
	text = decorativeReplacer.Replace(text)
	text = footnoteRe.ReplaceAllString(text, "")
	text = dashRe.ReplaceAllString(text, ", ")
	text = dotRunRe.ReplaceAllString(text, "...")
	return text
}

// shapeLineBreaks collapses excess blank lines, then converts single line
// breaks into sentence-ending pauses while preserving paragraph breaks.
func shapeLineBreaks(text string) string {
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	paras := strings.Split(text, "\n\n")
	for pi, para := range paras {
		lines := strings.Split(para, "\n")
		var joined strings.Builder
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if joined.Len() > 0 {
				joined.WriteByte(' ')
			}
			joined.WriteString(line)
			if !endsWithPause(line) {
				joined.WriteByte('.')
			}
		}
		paras[pi] = joined.String()
	}

	// Drop paragraphs that emptied out.
	out := paras[:0]
	for _, p := range paras {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func endsWithPause(line string) bool {
	r := []rune(line)
	last := r[len(r)-1]
	switch last {
	case '.', '!', '?', ',', ';', ':', '"', '\'', ')':
		return true
	}
	return false
}

// collapseWhitespace squeezes runs of spaces, fixes space-before-punctuation,
// and trims.
func collapseWhitespace(text string) string {
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = spaceBeforePct.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// aggressiveAllowed is the minimal ASCII-plus-punctuation set kept by
// AggressiveCleanup.
func aggressiveAllowed(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
		return true
	}
	switch r {
	case ' ', '\n', '.', ',', '!', '?', ';', ':', '\'', '"', '(', ')', '-':
		return true
	}
	return false
}

// AggressiveCleanup is the destructive fallback: strips everything outside a
// minimal ASCII-plus-punctuation set and discards lines too short to be
// meaningful speech.
func AggressiveCleanup(text string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(text) {
		if aggressiveAllowed(r) {
			b.WriteRune(r)
		}
	}

	var kept []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if len(strings.Fields(line)) >= 2 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
