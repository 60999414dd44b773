// Package reducer implements the three-tier streaming reducer of
// spec.md §4.5: normalized-hash deduplication, statistical scoring with
// percentile thresholding, and pattern-based clustering, collapsing a
// capture's raw output lines down to a small set of representative
// chunks. Each session gets its own Tier 1 state, guarded by its own
// mutex, mirroring the teacher's relationships.Manager per-entity
// locking discipline.
package reducer

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/neur0map/yinx/internal/patterns"
	"github.com/neur0map/yinx/internal/types"
)

// Line is one input line to be reduced, carrying the minimal context
// Tier 2's change-component needs (whether it differs from the
// previous line in the same capture).
type Line struct {
	Text    string
	Changed bool
}

// scored is an intermediate Tier 2 result: a surviving line plus its
// score and component breakdown.
type scored struct {
	text   string
	score  float64
	detail map[string]float64
}

// cluster is a Tier 3 bucket of structurally similar scored lines.
type cluster struct {
	pattern string
	members []scored
}

// sessionState is Tier 1's per-session dedup window: a map from
// normalized-line hash to the number of times it has been seen, reset
// on session boundaries (never across sessions, per spec.md §4.5's
// "Tier 1 state is scoped to one session").
type sessionState struct {
	mu     sync.Mutex
	counts map[uint64]int
}

// Reducer holds per-session Tier 1 state. The pattern registry used for
// normalization, technical scoring, and clustering is passed to each
// Reduce call.
type Reducer struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New constructs an empty Reducer.
func New() *Reducer {
	return &Reducer{sessions: make(map[string]*sessionState)}
}

func (r *Reducer) stateFor(sessionID string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &sessionState{counts: make(map[uint64]int)}
		r.sessions[sessionID] = st
	}
	return st
}

// DropSession discards Tier 1 state for a finished session, bounding
// memory growth across a long-running daemon.
func (r *Reducer) DropSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Reduce runs one capture's lines through all three tiers and returns
// the resulting chunk metadata (text, cluster size, score, pattern,
// representative strategy) ready for persistence. The caller is
// responsible for assigning chunk IDs, capture ID, and blob hash.
func (r *Reducer) Reduce(sessionID string, reg *patterns.Registry, lines []Line) []types.Chunk {
	st := r.stateFor(sessionID)

	survivors := r.tier1(st, reg, lines)
	if len(survivors) == 0 {
		return nil
	}

	scoredLines := tier2(reg, survivors)
	if len(scoredLines) == 0 {
		return nil
	}

	clusters := tier3(reg, scoredLines)

	chunks := make([]types.Chunk, 0, len(clusters))
	for _, c := range clusters {
		rep, repScore := selectRepresentative(reg, c.members)
		chunks = append(chunks, types.Chunk{
			RepresentativeText: rep.text,
			ClusterSize:        len(c.members),
			Metadata: types.ChunkMetadata{
				Pattern:        c.pattern,
				Members:        len(c.members),
				Tier2Score:     repScore,
				ScoreDetail:    rep.detail,
				Representative: repStrategyName(reg),
			},
		})
	}
	return chunks
}

// tier1 deduplicates lines by the hash of their normalized form,
// dropping a normalized form once it has been seen max_occurrences
// times within the session (spec.md §4.5 Tier 1).
func (r *Reducer) tier1(st *sessionState, reg *patterns.Registry, lines []Line) []Line {
	st.mu.Lock()
	defer st.mu.Unlock()

	maxOcc := reg.Tier1MaxOccurrences()
	var out []Line
	for _, l := range lines {
		norm := normalize(reg.Tier1Normalizations(), l.Text)
		h := xxhash.Sum64String(norm)
		st.counts[h]++
		if st.counts[h] <= maxOcc {
			out = append(out, l)
		}
	}
	return out
}

// normalize applies a list of {pattern, replacement} rules in order.
func normalize(rules []patterns.Normalization, text string) string {
	for _, rule := range rules {
		text = rule.Re.ReplaceAllString(text, rule.Replacement)
	}
	return text
}

// tier2 scores each survivor on four weighted components — entropy,
// uniqueness, technical-pattern density, and change — then keeps only
// lines scoring at or above the configured percentile (spec.md §4.5
// Tier 2).
func tier2(reg *patterns.Registry, lines []Line) []scored {
	seen := make(map[string]int)
	all := make([]scored, 0, len(lines))

	for _, l := range lines {
		seen[l.Text]++
	}
	total := float64(len(lines))

	weights := reg.Tier2Weights()
	for _, l := range lines {
		entropy := shannonEntropy(l.Text)
		uniqueness := 1.0 - float64(seen[l.Text])/total
		technical := technicalScore(reg, l.Text)
		change := 0.0
		if l.Changed {
			change = 1.0
		}

		score := weights.Entropy*normalizeEntropy(entropy) +
			weights.Uniqueness*uniqueness +
			weights.Technical*technical +
			weights.Change*change

		all = append(all, scored{
			text:  l.Text,
			score: score,
			detail: map[string]float64{
				"entropy":    entropy,
				"uniqueness": uniqueness,
				"technical":  technical,
				"change":     change,
			},
		})
	}

	threshold := percentile(all, reg.Tier2Percentile())
	out := make([]scored, 0, len(all))
	for _, s := range all {
		if s.score >= threshold {
			out = append(out, s)
		}
	}
	return out
}

func technicalScore(reg *patterns.Registry, text string) float64 {
	var sum float64
	for _, t := range reg.Technical() {
		if t.Re.MatchString(text) {
			sum += t.Weight
		}
	}
	max := reg.MaxTechnicalScore()
	if max <= 0 {
		return 0
	}
	if sum > max {
		sum = max
	}
	return sum / max
}

// shannonEntropy computes the byte-level Shannon entropy of text.
func shannonEntropy(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(text); i++ {
		freq[text[i]]++
	}
	n := float64(len(text))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// normalizeEntropy maps byte-entropy (bounded by 8 bits/byte) onto [0,1].
func normalizeEntropy(h float64) float64 {
	const maxBitsPerByte = 8.0
	v := h / maxBitsPerByte
	if v > 1 {
		return 1
	}
	return v
}

// percentile returns the score at rank p (0..1) over all scored lines,
// using nearest-rank interpolation; p=0.8 keeps the top 20% of lines.
func percentile(all []scored, p float64) float64 {
	if len(all) == 0 {
		return 0
	}
	scores := make([]float64, len(all))
	for i, s := range all {
		scores[i] = s.score
	}
	sort.Float64s(scores)
	idx := int(math.Ceil(p*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	return scores[idx]
}

// tier3 groups scored lines into clusters by their structural pattern:
// the Tier 3 normalization rules applied to each line's text form the
// cluster key, so e.g. two "open port NNNN" lines differing only in
// port number land in the same cluster (spec.md §4.5 Tier 3).
func tier3(reg *patterns.Registry, lines []scored) []cluster {
	index := make(map[string]int)
	var clusters []cluster

	maxSize := reg.Tier3MaxClusterSize()
	for _, l := range lines {
		key := normalize(reg.Tier3Normalizations(), l.text)
		idx, ok := index[key]
		if ok && (maxSize <= 0 || len(clusters[idx].members) < maxSize) {
			clusters[idx].members = append(clusters[idx].members, l)
			continue
		}
		index[key] = len(clusters)
		clusters = append(clusters, cluster{pattern: key, members: []scored{l}})
	}

	minSize := reg.Tier3MinClusterSize()
	if minSize <= 1 {
		return clusters
	}
	out := clusters[:0]
	for _, c := range clusters {
		if len(c.members) >= minSize {
			out = append(out, c)
		}
	}
	return out
}

// selectRepresentative picks one member of a cluster according to the
// configured strategy (First, Longest, HighestEntropy) and returns it
// along with its Tier 2 score.
func selectRepresentative(reg *patterns.Registry, members []scored) (scored, float64) {
	if len(members) == 0 {
		return scored{}, 0
	}
	switch reg.Tier3RepresentativeStrategy() {
	case "Longest":
		best := members[0]
		for _, m := range members[1:] {
			if len(m.text) > len(best.text) {
				best = m
			}
		}
		return best, best.score
	case "HighestEntropy":
		best := members[0]
		bestH := shannonEntropy(best.text)
		for _, m := range members[1:] {
			h := shannonEntropy(m.text)
			if h > bestH {
				best, bestH = m, h
			}
		}
		return best, best.score
	default: // "First"
		return members[0], members[0].score
	}
}

func repStrategyName(reg *patterns.Registry) string {
	s := reg.Tier3RepresentativeStrategy()
	if s == "" {
		return "First"
	}
	return s
}

// SplitLines is a small convenience for callers turning raw captured
// output into reducer Lines, marking each as Changed if it differs
// from the previous one (the Tier 2 change component).
func SplitLines(output string) []Line {
	raw := strings.Split(output, "\n")
	lines := make([]Line, 0, len(raw))
	prev := ""
	for _, l := range raw {
		if l == "" {
			continue
		}
		lines = append(lines, Line{Text: l, Changed: l != prev})
		prev = l
	}
	return lines
}
