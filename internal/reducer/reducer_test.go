package reducer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/patterns"
)

func buildRegistry(t *testing.T, mutate func(*config.Config)) *patterns.Registry {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	reg, err := patterns.Build(cfg)
	require.NoError(t, err)
	return reg
}

func TestTier1_DropsAfterMaxOccurrences(t *testing.T) {
	reg := buildRegistry(t, func(c *config.Config) {
		c.Filtering.Tier1.MaxOccurrences = 2
	})
	r := New()

	var lines []Line
	for i := 0; i < 5; i++ {
		lines = append(lines, Line{Text: "connection refused"})
	}
	st := r.stateFor("s1")
	survivors := r.tier1(st, reg, lines)
	require.Len(t, survivors, 2)
}

func TestTier1_StateScopedPerSession(t *testing.T) {
	reg := buildRegistry(t, func(c *config.Config) {
		c.Filtering.Tier1.MaxOccurrences = 1
	})
	r := New()

	line := []Line{{Text: "open port 80"}}
	st1 := r.stateFor("session-a")
	require.Len(t, r.tier1(st1, reg, line), 1)

	st2 := r.stateFor("session-b")
	require.Len(t, r.tier1(st2, reg, line), 1, "a fresh session must not inherit another session's counts")
}

func TestTier2_WeightSumValidationIsEnforcedUpstream(t *testing.T) {
	cfg := config.Default()
	cfg.Filtering.Tier2.EntropyWeight = 0.9
	require.Error(t, config.Validate(cfg))
}

func TestReduce_EndToEnd_ProducesClusteredChunks(t *testing.T) {
	reg := buildRegistry(t, nil)
	r := New()

	var lines []Line
	for i := 0; i < 50; i++ {
		lines = append(lines, Line{Text: fmt.Sprintf("80/tcp open http nginx %d.%d.%d.%d", i, i, i, i)})
	}
	lines = append(lines, Line{Text: "CVE-2023-12345 found in service, password: hunter2"})

	chunks := r.Reduce("s1", reg, lines)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.NotEmpty(t, c.RepresentativeText)
		require.GreaterOrEqual(t, c.ClusterSize, 1)
	}
}

func TestReduce_EmptyInputProducesNoChunks(t *testing.T) {
	reg := buildRegistry(t, nil)
	r := New()
	chunks := r.Reduce("s1", reg, nil)
	require.Empty(t, chunks)
}

func TestTier3_ClusterSizesSumToSurvivingLines(t *testing.T) {
	reg := buildRegistry(t, func(c *config.Config) {
		c.Filtering.Tier2.ScoreThresholdPercentile = 0 // keep everything for this test
	})
	lines := []scored{
		{text: "80/tcp open http"},
		{text: "81/tcp open http"},
		{text: "22/tcp open ssh"},
	}
	clusters := tier3(reg, lines)
	total := 0
	for _, c := range clusters {
		total += len(c.members)
	}
	require.Equal(t, len(lines), total)
}

func TestSelectRepresentative_Strategies(t *testing.T) {
	members := []scored{{text: "short"}, {text: "a much longer representative line"}, {text: "mid length"}}

	regFirst := buildRegistry(t, func(c *config.Config) { c.Filtering.Tier3.RepresentativeStrategy = "First" })
	rep, _ := selectRepresentative(regFirst, members)
	require.Equal(t, "short", rep.text)

	regLongest := buildRegistry(t, func(c *config.Config) { c.Filtering.Tier3.RepresentativeStrategy = "Longest" })
	rep, _ = selectRepresentative(regLongest, members)
	require.Equal(t, "a much longer representative line", rep.text)
}

func TestSplitLines_MarksChanged(t *testing.T) {
	lines := SplitLines("a\na\nb\n\nb")
	require.Len(t, lines, 3)
	require.True(t, lines[0].Changed)
	require.False(t, lines[1].Changed)
	require.True(t, lines[2].Changed)
}
