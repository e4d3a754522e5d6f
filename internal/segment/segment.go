// Package segment turns an arbitrary block of extracted text into ordered,
// size-bounded chapters suitable for speech synthesis.
//
// Segmentation is deterministic and pure: the same text and options always
// produce the same chapters. Splitting preference, in priority order: explicit
// structural markers, paragraph boundaries, sentence boundaries. A post-pass
// guarantees no emitted chapter exceeds the hard word ceiling except when the
// whole input fits in a single short chapter.
package segment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/narrateapp/narrate-core/internal/domain"
)

// Options holds the segmentation tunables. Zero values are invalid; use
// DefaultOptions or populate from config.
type Options struct {
	// ShortTextWords: texts at or below this stay a single chapter.
	ShortTextWords int
	// TargetWords is the greedy accumulation target per chapter.
	TargetWords int
	// MinWords is the minimum chapter size before a boundary may close it.
	MinWords int
	// MaxWords is the hard ceiling enforced by the post-pass.
	MaxWords int
	// PrefaceMinWords: text before the first marker becomes a Preface chapter
	// only above this size; smaller lead-ins are folded into the first chapter.
	PrefaceMinWords int
	// NoiseFloorWords: marker-derived chapters below this are discarded.
	NoiseFloorWords int
}

// DefaultOptions returns the tuning used when no configuration is supplied.
func DefaultOptions() Options {
	return Options{
		ShortTextWords:  550,
		TargetWords:     450,
		MinWords:        150,
		MaxWords:        580,
		PrefaceMinWords: 100,
		NoiseFloorWords: 20,
	}
}

// Segmenter splits raw text into chapters.
type Segmenter struct {
	opts Options
}

// New creates a Segmenter with the given options.
func New(opts Options) *Segmenter {
	return &Segmenter{opts: opts}
}

// markerRe matches structural heading lines: a marker keyword followed by an
// arabic numeral, roman numeral, or spelled-out number. The rest of the line
// (subtitles after a colon, etc.) is kept as the chapter title.
var markerRe = regexp.MustCompile(`(?i)^\s*(chapter|part|book|act|section)\s+` +
	`([0-9]+|[ivxlcdm]+\b|one|two|three|four|five|six|seven|eight|nine|ten|` +
	`eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)\b`)

// paragraphRe splits text on blank lines.
var paragraphRe = regexp.MustCompile(`\n\s*\n`)

// rawChapter is a chapter under construction, before indexing and numbering.
type rawChapter struct {
	title string
	text  string
}

// Segment splits text into ordered chapters. Empty input yields nil.
func (s *Segmenter) Segment(text string) []domain.Chapter {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Short texts stay whole, even above the ceiling rules below.
	if WordCount(text) <= s.opts.ShortTextWords {
		return s.finalize([]rawChapter{{text: text}})
	}

	raw := s.splitByMarkers(text)
	if raw == nil {
		raw = s.splitByUnits(text)
	}

	raw = s.enforceCeiling(raw)
	return s.finalize(raw)
}

// SplitIfTooLong bounds a single text block below the hard ceiling by
// re-applying the sentence-boundary logic. Blocks already under the ceiling
// are returned unchanged as a single element.
func (s *Segmenter) SplitIfTooLong(text string) []string {
	if WordCount(text) <= s.opts.MaxWords {
		return []string{text}
	}
	pieces := s.splitSentencesBounded(text)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

// splitByMarkers splits at explicit structural heading lines. Returns nil when
// fewer than two markers are present; a lone marker is usually an artifact of
// extraction, not real structure.
func (s *Segmenter) splitByMarkers(text string) []rawChapter {
	lines := strings.Split(text, "\n")

	var markerLines []int
	for i, line := range lines {
		if markerRe.MatchString(line) {
			markerLines = append(markerLines, i)
		}
	}
	if len(markerLines) < 2 {
		return nil
	}

	var chapters []rawChapter

	// Text before the first marker becomes a Preface when substantial.
	preface := strings.TrimSpace(strings.Join(lines[:markerLines[0]], "\n"))
	prefaceWords := WordCount(preface)

	for i, start := range markerLines {
		end := len(lines)
		if i+1 < len(markerLines) {
			end = markerLines[i+1]
		}

		title := strings.TrimSpace(lines[start])
		body := strings.TrimSpace(strings.Join(lines[start+1:end], "\n"))

		// A small lead-in folds into the first chapter instead of being lost.
		if i == 0 && preface != "" && prefaceWords <= s.opts.PrefaceMinWords {
			body = preface + "\n\n" + body
		}

		// Tiny marker-derived chapters are usually table-of-contents noise.
		if WordCount(body) < s.opts.NoiseFloorWords {
			continue
		}

		chapters = append(chapters, rawChapter{title: title, text: body})
	}

	if preface != "" && prefaceWords > s.opts.PrefaceMinWords {
		chapters = append([]rawChapter{{title: "Preface", text: preface}}, chapters...)
	}

	if len(chapters) == 0 {
		return nil
	}
	return chapters
}

// splitByUnits splits on paragraph boundaries, falling back to sentence
// boundaries when the text has no paragraph breaks.
func (s *Segmenter) splitByUnits(text string) []rawChapter {
	units := splitParagraphs(text)
	sep := "\n\n"
	if len(units) <= 1 {
		units = splitSentences(text)
		sep = " "
	}
	return s.accumulate(units, sep, true)
}

// accumulate greedily packs units into chapters: a chapter closes when adding
// the next unit would exceed the target size and the chapter already meets the
// minimum. mergeTailUnchecked controls the trailing-chapter merge: the
// paragraph/sentence pass merges an undersized tail unconditionally (the
// ceiling post-pass runs afterwards), while the post-pass itself only merges
// when the result stays under the hard ceiling.
func (s *Segmenter) accumulate(units []string, sep string, mergeTailUnchecked bool) []rawChapter {
	var chapters []rawChapter
	var cur []string
	curWords := 0

	for _, u := range units {
		uw := WordCount(u)
		if len(cur) > 0 && curWords >= s.opts.MinWords && curWords+uw > s.opts.TargetWords {
			chapters = append(chapters, rawChapter{text: strings.Join(cur, sep)})
			cur = nil
			curWords = 0
		}
		cur = append(cur, u)
		curWords += uw
	}

	if len(cur) == 0 {
		return chapters
	}

	tail := strings.Join(cur, sep)
	if curWords < s.opts.MinWords && len(chapters) > 0 {
		last := &chapters[len(chapters)-1]
		merged := last.text + sep + tail
		if mergeTailUnchecked || WordCount(merged) <= s.opts.MaxWords {
			last.text = merged
			return chapters
		}
		// Keep the undersized tail standalone rather than breach the ceiling.
	}
	return append(chapters, rawChapter{text: tail})
}

// enforceCeiling is the always-applied post-pass: any chapter above the hard
// ceiling is re-split at sentence boundaries. The first piece keeps the
// chapter's title; the rest are numbered later.
func (s *Segmenter) enforceCeiling(chapters []rawChapter) []rawChapter {
	var out []rawChapter
	for _, ch := range chapters {
		if WordCount(ch.text) <= s.opts.MaxWords {
			out = append(out, ch)
			continue
		}

		pieces := s.splitSentencesBounded(ch.text)
		for i, p := range pieces {
			if i == 0 {
				p.title = ch.title
			}
			out = append(out, p)
		}
	}
	return out
}

// splitSentencesBounded splits text at sentence boundaries under the ceiling,
// hard-splitting any single run of words that itself exceeds the ceiling.
func (s *Segmenter) splitSentencesBounded(text string) []rawChapter {
	sentences := splitSentences(text)

	// A pathological sentence longer than the ceiling is chunked at word
	// boundaries so downstream synthesis never sees an oversized request.
	var bounded []string
	for _, sent := range sentences {
		if WordCount(sent) <= s.opts.MaxWords {
			bounded = append(bounded, sent)
			continue
		}
		words := strings.Fields(sent)
		for len(words) > 0 {
			n := min(len(words), s.opts.TargetWords)
			bounded = append(bounded, strings.Join(words[:n], " "))
			words = words[n:]
		}
	}

	return s.accumulate(bounded, " ", false)
}

// finalize assigns contiguous indices, fills word counts, and numbers
// untitled chapters with zero-padded numerals sized to the chapter count.
func (s *Segmenter) finalize(raw []rawChapter) []domain.Chapter {
	if len(raw) == 0 {
		return nil
	}

	width := len(fmt.Sprint(len(raw)))
	chapters := make([]domain.Chapter, len(raw))
	for i, ch := range raw {
		title := ch.title
		if title == "" {
			title = fmt.Sprintf("Chapter %0*d", width, i+1)
		}
		chapters[i] = domain.Chapter{
			Index:     i,
			Title:     title,
			Text:      ch.text,
			WordCount: WordCount(ch.text),
		}
	}
	return chapters
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// splitParagraphs splits text on blank lines, dropping empty paragraphs.
func splitParagraphs(text string) []string {
	parts := paragraphRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentence terminators and the trailing punctuation allowed to follow them.
func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isTrailing(r rune) bool {
	return isTerminator(r) || r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// splitSentences splits text at sentence-ending punctuation followed by
// whitespace. Abbreviation detection is deliberately absent: a false split
// only moves a chapter boundary, which is harmless for speech.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTrailing(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
