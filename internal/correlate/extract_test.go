package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/patterns"
)

func buildRegistry(t *testing.T) *patterns.Registry {
	t.Helper()
	cfg := config.Default()
	cfg.Entities = []config.EntityPattern{
		{TypeName: TypeIP, Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Confidence: 0.9, ContextWindow: 10},
		{TypeName: TypeCVE, Pattern: `CVE-\d{4}-\d+`, Confidence: 1.0, Redact: false},
		{TypeName: "secret", Pattern: `(?i)password\s*[:=]\s*\S+`, Confidence: 0.7, Redact: true},
	}
	reg, err := patterns.Build(cfg)
	require.NoError(t, err)
	return reg
}

func TestExtract_MatchesEveryConfiguredPattern(t *testing.T) {
	reg := buildRegistry(t)
	text := "host 10.0.0.5 vulnerable to CVE-2023-4567, password: hunter2"

	entities := Extract(reg, "cap1", "chunk1", text)
	require.Len(t, entities, 3)

	var sawIP, sawCVE, sawSecret bool
	for _, e := range entities {
		switch e.TypeName {
		case TypeIP:
			sawIP = true
			require.Equal(t, "10.0.0.5", e.Value)
		case TypeCVE:
			sawCVE = true
			require.Equal(t, "CVE-2023-4567", e.Value)
		case "secret":
			sawSecret = true
			require.True(t, e.Redact)
		}
	}
	require.True(t, sawIP && sawCVE && sawSecret)
}

func TestRedacted_HidesValueOnlyWhenFlagged(t *testing.T) {
	reg := buildRegistry(t)
	entities := Extract(reg, "cap1", "chunk1", "password: hunter2")
	require.Len(t, entities, 1)
	require.Equal(t, "[REDACTED:secret]", Redacted(entities[0]))

	entities = Extract(reg, "cap1", "chunk1", "CVE-2023-4567")
	require.Len(t, entities, 1)
	require.Equal(t, "CVE-2023-4567", Redacted(entities[0]))
}
