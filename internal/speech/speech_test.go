package speech_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narrateapp/narrate-core/internal/speech"
)

func TestNormalizeStripsMarkup(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("## The <em>Beginning</em>\n\n- first point\n- **second** point")

	assert.NotContains(t, got, "<")
	assert.NotContains(t, got, ">")
	assert.NotContains(t, got, "#")
	assert.NotContains(t, got, "*")
	assert.Contains(t, got, "The Beginning")
	assert.Contains(t, got, "second point")
}

func TestNormalizeCurlyQuotes(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("“Hello,” she said. ‘Fine.’")

	assert.Equal(t, `"Hello," she said. 'Fine.'`, got)
}

func TestNormalizeDashesToPauses(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("He paused — a long pause — and went on.")

	assert.Equal(t, "He paused, a long pause, and went on.", got)
}

func TestNormalizeEllipsisAndFootnotes(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("She waited… and waited[12] for the reply.....")

	assert.Contains(t, got, "She waited... and waited for the reply...")
	assert.NotContains(t, got, "[12]")
	assert.NotContains(t, got, "....")
}

func TestNormalizeForeignRunPlaceholder(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("He read the sign aloud: Это было давно и неправда, then shrugged.")

	assert.Contains(t, got, speech.ForeignPassagePlaceholder)
	assert.NotContains(t, got, "давно")
}

func TestNormalizeForeignRunTransliterate(t *testing.T) {
	n := speech.New(speech.ForeignTransliterate)

	got := n.Normalize("The menu read: crème brûlée à la café spéciale, naturally.")

	assert.NotContains(t, got, speech.ForeignPassagePlaceholder)
	assert.Contains(t, got, "creme brulee")
}

func TestNormalizeIsolatedAccentedWord(t *testing.T) {
	// A single accented word is transliterated inline even in placeholder mode.
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("They met at the café on Tuesday.")

	assert.Equal(t, "They met at the cafe on Tuesday.", got)
}

func TestNormalizeUntransliterableRun(t *testing.T) {
	n := speech.New(speech.ForeignTransliterate)

	got := n.Normalize("The inscription said 漢字は難しいですね and nothing more.")

	assert.Contains(t, got, speech.ForeignPassagePlaceholder)
}

func TestNormalizeLineBreakShaping(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("A line without terminal punctuation\nthe next line continues.\n\n\n\nA new paragraph here.")

	paras := strings.Split(got, "\n\n")
	require.Len(t, paras, 2)
	assert.Equal(t, "A line without terminal punctuation. the next line continues.", paras[0])
	assert.Equal(t, "A new paragraph here.", paras[1])
}

func TestNormalizeWhitespaceCollapse(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("Too   many    spaces , and a stray space .")

	assert.Equal(t, "Too many spaces, and a stray space.", got)
}

func TestNormalizeDecorativeGlyphs(t *testing.T) {
	n := speech.New(speech.ForeignPlaceholder)

	got := n.Normalize("★ The chapter ends here ★ with a pilcrow ¶ too.")

	assert.NotContains(t, got, "★")
	assert.NotContains(t, got, "¶")
	assert.Contains(t, got, "The chapter ends here")
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Plain prose stays untouched. Nothing here needs work.",
		"“Smart quotes” and — dashes — and… ellipses[3] galore.",
		"## A heading\n\nWith a paragraph\nsplit over lines.",
		"Mixed content: Это текст на русском языке here, plus a café visit.",
	}

	for _, mode := range []speech.ForeignMode{speech.ForeignPlaceholder, speech.ForeignTransliterate} {
		n := speech.New(mode)
		for _, in := range inputs {
			once := n.Normalize(in)
			twice := n.Normalize(once)
			assert.Equal(t, once, twice, "mode %s input %q", mode, in)
		}
	}
}

func TestAggressiveCleanup(t *testing.T) {
	got := speech.AggressiveCleanup("Keep this line intact.\n★\nAlso this one stays, Ünïcödé becomes plain.\nsingleton")

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Keep this line intact.", lines[0])
	assert.Contains(t, lines[1], "Unicode becomes plain")
	assert.NotContains(t, got, "singleton")
	assert.NotContains(t, got, "★")
}

func TestAggressiveCleanupEmpty(t *testing.T) {
	assert.Equal(t, "", speech.AggressiveCleanup(""))
	assert.Equal(t, "", speech.AggressiveCleanup("★ ¶ •"))
}
