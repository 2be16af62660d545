package completion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/task"
)

func newTestDetector() *Detector {
	return NewDetector(zap.NewNop())
}

func TestDetect_GlobalPhraseMatchesAllOpenItems(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusInProgress},
	}

	matches := d.Detect("Pronto! Implementei tudo.", items)

	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, MatchGlobal, m.Type)
		assert.Equal(t, 0.75, m.Confidence)
	}
}

func TestDetect_GlobalSkipsCompletedItems(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusCompleted},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	matches := d.Detect("All done!", items)
	require.Len(t, matches, 1)
	assert.Equal(t, "Signup", matches[0].ItemName)
}

func TestDetect_GlobalEvidenceIsTail(t *testing.T) {
	d := newTestDetector()
	long := strings.Repeat("x", 300) + " tudo pronto"

	matches := d.Detect(long, []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}})
	require.Len(t, matches, 1)
	assert.LessOrEqual(t, len([]rune(matches[0].Evidence)), 100)
	assert.True(t, strings.HasSuffix(matches[0].Evidence, "tudo pronto"))
}

func TestDetect_CheckboxVerbatimName(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}}

	matches := d.Detect("Item Login - ✅", items)

	require.Len(t, matches, 1)
	assert.Equal(t, "Login", matches[0].ItemName)
	assert.Equal(t, 0.9, matches[0].Confidence)
	assert.Equal(t, MatchCheckbox, matches[0].Type)
}

func TestDetect_CheckboxFuzzyMatch(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Implementar autenticação de usuário", Status: task.StatusPending}}

	matches := d.Detect("[x] implementar autenticacao usuario", items)

	require.Len(t, matches, 1)
	assert.Equal(t, MatchCheckbox, matches[0].Type)
}

func TestDetect_CheckboxIgnoresUnmarkedLines(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}}

	matches := d.Detect("Login is still in progress", items)
	assert.Empty(t, matches)
}

func TestDetect_DeclarationByNumber(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	matches := d.Detect("Completei o item 2 com sucesso", items)

	require.Len(t, matches, 1)
	assert.Equal(t, "Signup", matches[0].ItemName)
	assert.Equal(t, 0.85, matches[0].Confidence)
	assert.Equal(t, MatchDeclaration, matches[0].Type)
}

func TestDetect_DeclarationByHash(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	matches := d.Detect("Item #1 concluído.", items)
	require.Len(t, matches, 1)
	assert.Equal(t, "Login", matches[0].ItemName)
}

func TestDetect_DeclarationByLetter(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	matches := d.Detect("tarefa B concluida", items)
	require.Len(t, matches, 1)
	assert.Equal(t, "Signup", matches[0].ItemName)
}

func TestDetect_SequenceLineWithInlineMarker(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
		{ID: "c", Name: "Logout", Status: task.StatusPending},
	}

	matches := d.Detect("3. feito", items)

	require.Len(t, matches, 1)
	assert.Equal(t, "Logout", matches[0].ItemName)
	assert.Equal(t, 0.8, matches[0].Confidence)
	assert.Equal(t, MatchSequence, matches[0].Type)
}

func TestDetect_SequenceLineWithoutMarkerIsIgnored(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}}

	matches := d.Detect("1. first I will look at the login flow", items)
	assert.Empty(t, matches)
}

func TestDetect_CodeArtifact(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Parse Config", Status: task.StatusPending}}

	matches := d.Detect("I created the function parseConfig to handle this", items)

	require.Len(t, matches, 1)
	assert.Equal(t, "Parse Config", matches[0].ItemName)
	assert.Equal(t, 0.7, matches[0].Confidence)
	assert.Equal(t, MatchCode, matches[0].Type)
}

func TestDetect_IdempotentAcrossFragments(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}}

	first := d.Detect("Item Login - ✅", items)
	require.Len(t, first, 1)

	second := d.Detect("Item Login - ✅", items)
	assert.Empty(t, second, "identical detection must be dropped")
}

func TestDetect_DedupeAcrossHeuristics(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	first := d.Detect("[x] Login", items)
	require.Len(t, first, 1)

	// Global fires for both items but Login was already detected.
	second := d.Detect("tudo pronto", items)
	require.Len(t, second, 1)
	assert.Equal(t, "Signup", second[0].ItemName)
}

func TestDetect_ResetClearsSession(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{{ID: "a", Name: "Login", Status: task.StatusPending}}

	require.Len(t, d.Detect("Item Login - ✅", items), 1)
	d.Reset()
	require.Len(t, d.Detect("Item Login - ✅", items), 1)
}

func TestDetect_GlobalShortCircuitsOtherHeuristics(t *testing.T) {
	d := newTestDetector()
	items := []task.Item{
		{ID: "a", Name: "Login", Status: task.StatusPending},
		{ID: "b", Name: "Signup", Status: task.StatusPending},
	}

	matches := d.Detect("Tudo pronto!\n[x] Login", items)

	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, MatchGlobal, m.Type)
	}
}

func TestDetect_EmptyInputs(t *testing.T) {
	d := newTestDetector()
	assert.Empty(t, d.Detect("   ", []task.Item{{ID: "a", Name: "Login"}}))
	assert.Empty(t, d.Detect("tudo pronto", nil))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "concluido", normalizeText("Concluído!"))
	assert.Equal(t, "item 3 done", normalizeText("  Item   #3:  DONE  "))
}

func TestJaccard(t *testing.T) {
	a := wordSet("implementar autenticação de usuário")
	b := wordSet("implementar autenticacao usuario")
	assert.Equal(t, 1.0, jaccard(a, b), "short words and diacritics are normalized away")

	assert.Equal(t, 0.0, jaccard(wordSet(""), wordSet("anything")))
}

func TestResolveByIdentifier(t *testing.T) {
	items := []task.Item{{ID: "a", Name: "First"}, {ID: "b", Name: "Second"}}

	it, ok := resolveByIdentifier("1", items)
	require.True(t, ok)
	assert.Equal(t, "First", it.Name)

	it, ok = resolveByIdentifier("b", items)
	require.True(t, ok)
	assert.Equal(t, "Second", it.Name)

	_, ok = resolveByIdentifier("9", items)
	assert.False(t, ok)
	_, ok = resolveByIdentifier("", items)
	assert.False(t, ok)
}
