// Package completion infers finished work items from the agent's output text.
//
// Five heuristics run in strict priority order, short-circuiting at the
// first that fires: global completion phrase, checkbox markers, explicit
// declarations, sequence lines, code artifacts. The ordering is load-bearing:
// a blanket "all done" must not override more precise per-item evidence, and
// a line must not be counted by two heuristics at once.
package completion

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/task"
)

// MatchType tags which heuristic produced a match.
type MatchType string

const (
	MatchGlobal      MatchType = "global"
	MatchCheckbox    MatchType = "checkbox"
	MatchDeclaration MatchType = "declaration"
	MatchSequence    MatchType = "sequence"
	MatchCode        MatchType = "code"
)

// Heuristic confidences are fixed per match type.
const (
	confidenceGlobal      = 0.75
	confidenceCheckbox    = 0.9
	confidenceDeclaration = 0.85
	confidenceSequence    = 0.8
	confidenceCode        = 0.7
)

// Fuzzy-match thresholds.
const (
	checkboxThreshold = 0.7
	sequenceThreshold = 0.6
	codeThreshold     = 0.6
)

// Match is evidence that one work item was finished.
type Match struct {
	ItemID     string    `json:"item_id,omitempty"`
	ItemName   string    `json:"item_name"`
	Evidence   string    `json:"evidence"`
	Confidence float64   `json:"confidence"`
	Type       MatchType `json:"match_type"`
}

// globalPhrases end a task wholesale. Deliberately excludes per-item marker
// words like "done" and "concluído" so a single finished item does not read
// as the whole task completing. Checked against normalized text.
var globalPhrases = []string{
	"tudo pronto",
	"all done",
	"terminei",
	"pronto",
	"finished",
}

// checkboxMarkers flag a line as done. "[x]" is matched case-insensitively.
var checkboxMarkers = []string{"[x]", "✓", "✔", "✅"}

// doneWords are the literal marker words accepted on a line.
var doneWords = []string{"done", "completed", "concluido", "concluida", "feito"}

var (
	// "item #3 concluído", "task 2 done", "etapa B finalizada". Runs on
	// normalized text, so punctuation (including '#') is already gone.
	declarationAfter = regexp.MustCompile(`\b(?:item|tarefa|task|etapa|step)\s+([0-9]+|[a-z])\b(?:\s+\w+){0,8}?\s+(?:concluid[oa]|completad[oa]|completed|done|finalizad[oa]|finished|pronto)\b`)
	// "completei o item 3", "completed task B"
	declarationBefore = regexp.MustCompile(`\b(?:completei|conclui|finalizei|completed|finished)\s+(?:o\s+|a\s+|the\s+)?(?:item|tarefa|task|etapa|step)\s+([0-9]+|[a-z])\b`)

	// "1. build the parser", "A) login form", "- logout button"
	sequenceLine = regexp.MustCompile(`^\s*(?:(\d+)[.)]\s+|([A-Za-z])[.)]\s+|[-*•]\s+)(.+)$`)

	// "created the function parseToken", "implementei a classe LoginForm"
	codePhrase = regexp.MustCompile(`\b(?:created?|criei|criada|criado|implement(?:ed|ei)|added|adicionei|wrote|escrevi)\s+(?:a\s+|the\s+|o\s+|um\s+|uma\s+)?(?:function|funcao|func|class|classe|file|arquivo|method|metodo|component|componente|module|modulo)\s+([a-z_][\w./-]*)`)
	// bare language constructs: "func parseToken", "class LoginForm"
	codeDecl = regexp.MustCompile(`\b(?:func|function|def|class)\s+([a-z_]\w*)`)
)

// Detector matches output text against work items. It is stateful per
// session: repeated detections of the same item are dropped until Reset.
type Detector struct {
	mu     sync.Mutex
	seen   map[string]bool
	logger *zap.Logger
}

// NewDetector creates a detector with an empty session.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		seen:   make(map[string]bool),
		logger: logger,
	}
}

// Reset clears the session dedup state. Call between tasks.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]bool)
}

// Detect runs the heuristics against the fragment and returns matches for
// items not yet detected this session. Heuristics run in priority order and
// the first that fires wins; a match is emitted only the first time its item
// is detected, so overlapping stream fragments stay idempotent.
func (d *Detector) Detect(fragment string, items []task.Item) []Match {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}

	var open []task.Item
	for _, it := range items {
		if it.Status != task.StatusCompleted {
			open = append(open, it)
		}
	}
	if len(open) == 0 {
		return nil
	}

	normalized := normalizeText(fragment)

	heuristics := []func() []Match{
		func() []Match { return d.matchGlobal(fragment, normalized, open) },
		func() []Match { return d.matchCheckbox(fragment, open) },
		func() []Match { return d.matchDeclaration(normalized, items) },
		func() []Match { return d.matchSequence(fragment, normalized, items, open) },
		func() []Match { return d.matchCode(fragment, open) },
	}

	for _, h := range heuristics {
		if raw := h(); len(raw) > 0 {
			return d.dedupe(raw)
		}
	}
	return nil
}

// dedupe drops matches for items already detected this session, keyed by
// item id (or name when the id is empty).
func (d *Detector) dedupe(raw []Match) []Match {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Match
	for _, m := range raw {
		key := m.ItemID
		if key == "" {
			key = m.ItemName
		}
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		out = append(out, m)
	}

	if len(out) > 0 {
		d.logger.Debug("completion matches detected",
			zap.Int("count", len(out)),
			zap.String("match_type", string(out[0].Type)))
	}
	return out
}

// matchGlobal fires on terminal phrases like "pronto" or "all done" and
// matches every non-completed item.
func (d *Detector) matchGlobal(fragment, normalized string, open []task.Item) []Match {
	fired := false
	for _, phrase := range globalPhrases {
		if containsPhrase(normalized, phrase) {
			fired = true
			break
		}
	}
	if !fired {
		return nil
	}

	evidence := lastChars(fragment, 100)
	matches := make([]Match, 0, len(open))
	for _, it := range open {
		matches = append(matches, Match{
			ItemID:     it.ID,
			ItemName:   it.Name,
			Evidence:   evidence,
			Confidence: confidenceGlobal,
			Type:       MatchGlobal,
		})
	}
	return matches
}

// matchCheckbox scans for marked lines and fuzzy-matches them against item
// names.
func (d *Detector) matchCheckbox(fragment string, open []task.Item) []Match {
	var matches []Match
	for _, line := range strings.Split(fragment, "\n") {
		if !lineHasDoneMarker(line) {
			continue
		}

		lowerLine := strings.ToLower(stripDiacritics(line))
		lineWords := wordSet(line)

		for _, it := range open {
			name := strings.ToLower(stripDiacritics(it.Name))
			verbatim := name != "" && strings.Contains(lowerLine, name)
			if verbatim || jaccard(lineWords, wordSet(it.Name)) > checkboxThreshold {
				matches = append(matches, Match{
					ItemID:     it.ID,
					ItemName:   it.Name,
					Evidence:   strings.TrimSpace(line),
					Confidence: confidenceCheckbox,
					Type:       MatchCheckbox,
				})
			}
		}
	}
	return matches
}

// matchDeclaration handles "item #N concluído" style statements, resolving
// the identifier by 1-based index or letter-as-index (A=0, B=1, ...).
func (d *Detector) matchDeclaration(normalized string, items []task.Item) []Match {
	var matches []Match
	for _, re := range []*regexp.Regexp{declarationAfter, declarationBefore} {
		for _, m := range re.FindAllStringSubmatch(normalized, -1) {
			it, ok := resolveByIdentifier(m[1], items)
			if !ok || it.Status == task.StatusCompleted {
				continue
			}
			matches = append(matches, Match{
				ItemID:     it.ID,
				ItemName:   it.Name,
				Evidence:   strings.TrimSpace(m[0]),
				Confidence: confidenceDeclaration,
				Type:       MatchDeclaration,
			})
		}
	}
	return matches
}

// matchSequence handles numbered, lettered, and bulleted lines. A line only
// counts when a completion phrase appears elsewhere in the fragment or the
// line itself carries a done marker.
func (d *Detector) matchSequence(fragment, normalized string, items []task.Item, open []task.Item) []Match {
	globalToneSet := false
	for _, phrase := range globalPhrases {
		if containsPhrase(normalized, phrase) {
			globalToneSet = true
			break
		}
	}

	var matches []Match
	for _, line := range strings.Split(fragment, "\n") {
		sub := sequenceLine.FindStringSubmatch(stripDiacritics(strings.ToLower(line)))
		if sub == nil {
			continue
		}
		if !globalToneSet && !lineHasDoneMarker(line) {
			continue
		}

		var (
			it task.Item
			ok bool
		)
		switch {
		case sub[1] != "":
			it, ok = resolveByIdentifier(sub[1], items)
		case sub[2] != "":
			it, ok = resolveByIdentifier(sub[2], items)
		}
		if !ok {
			// Fall back to fuzzy content match against open items.
			content := wordSet(sub[3])
			best := -1.0
			for _, candidate := range open {
				if score := jaccard(content, wordSet(candidate.Name)); score > sequenceThreshold && score > best {
					best = score
					it, ok = candidate, true
				}
			}
		}
		if !ok || it.Status == task.StatusCompleted {
			continue
		}

		matches = append(matches, Match{
			ItemID:     it.ID,
			ItemName:   it.Name,
			Evidence:   strings.TrimSpace(line),
			Confidence: confidenceSequence,
			Type:       MatchSequence,
		})
	}
	return matches
}

// matchCode handles "created function X" phrasing and bare construct
// declarations, matching the artifact name against item names.
func (d *Detector) matchCode(fragment string, open []task.Item) []Match {
	lowered := strings.ToLower(stripDiacritics(fragment))

	var names []string
	for _, re := range []*regexp.Regexp{codePhrase, codeDecl} {
		for _, m := range re.FindAllStringSubmatch(lowered, -1) {
			names = append(names, strings.Trim(m[1], "`\"'"))
		}
	}

	var matches []Match
	for _, artifact := range names {
		artifactWords := wordSet(artifact)
		for _, it := range open {
			name := strings.ToLower(stripDiacritics(it.Name))
			substr := strings.Contains(artifact, strings.ReplaceAll(name, " ", "")) ||
				strings.Contains(normalizeText(artifact), normalizeText(it.Name)) ||
				strings.Contains(name, artifact)
			if substr || jaccard(artifactWords, wordSet(it.Name)) > codeThreshold {
				matches = append(matches, Match{
					ItemID:     it.ID,
					ItemName:   it.Name,
					Evidence:   artifact,
					Confidence: confidenceCode,
					Type:       MatchCode,
				})
			}
		}
	}
	return matches
}

// lineHasDoneMarker reports whether the line carries a checkbox marker or a
// literal done word.
func lineHasDoneMarker(line string) bool {
	lower := strings.ToLower(stripDiacritics(line))
	for _, marker := range checkboxMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, w := range strings.Fields(normalizeText(line)) {
		for _, done := range doneWords {
			if w == done {
				return true
			}
		}
	}
	return false
}

// resolveByIdentifier maps "3" to the third item and "b" to the second.
func resolveByIdentifier(id string, items []task.Item) (task.Item, bool) {
	if id == "" {
		return task.Item{}, false
	}

	idx := -1
	if id[0] >= '0' && id[0] <= '9' {
		n := 0
		for _, c := range id {
			n = n*10 + int(c-'0')
		}
		idx = n - 1
	} else if len(id) == 1 {
		c := strings.ToLower(id)[0]
		if c >= 'a' && c <= 'z' {
			idx = int(c - 'a')
		}
	}

	if idx < 0 || idx >= len(items) {
		return task.Item{}, false
	}
	return items[idx], true
}
