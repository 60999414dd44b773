package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/errs"
)

func TestBuild_ValidConfig(t *testing.T) {
	cfg := config.Default()
	reg, err := Build(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, reg.Tier1Normalizations())
	require.NotEmpty(t, reg.Technical())
}

func TestBuild_InvalidRegexAggregatesFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Entities = []config.EntityPattern{
		{TypeName: "bad1", Pattern: "(["},
		{TypeName: "bad2", Pattern: "(unterminated"},
		{TypeName: "good", Pattern: `\d+`},
	}
	_, err := Build(cfg)
	require.Error(t, err)
	assert.Equal(t, errs.ConfigInvalid, errs.KindOf(err))
	assert.Contains(t, err.Error(), "bad1")
	assert.Contains(t, err.Error(), "bad2")
}

func TestDetectTool(t *testing.T) {
	cfg := config.Default()
	cfg.Tools = []config.ToolPattern{
		{Name: "nmap", Patterns: []string{`^nmap\b`}},
		{Name: "curl", Patterns: []string{`^curl\b`}},
	}
	reg, err := Build(cfg)
	require.NoError(t, err)

	assert.Equal(t, "nmap", reg.DetectTool("nmap -sV 192.168.1.1"))
	assert.Equal(t, "curl", reg.DetectTool("curl -s https://example.com"))
	assert.Equal(t, "", reg.DetectTool("ls -la"))
}

func TestStore_ReloadSwapsAtomically(t *testing.T) {
	cfg := config.Default()
	store, err := NewStore(cfg)
	require.NoError(t, err)

	first := store.Current()

	cfg2 := config.Default()
	cfg2.Tools = []config.ToolPattern{{Name: "nmap", Patterns: []string{`^nmap\b`}}}
	require.NoError(t, store.Reload(cfg2))

	second := store.Current()
	assert.NotSame(t, first, second)
	assert.Equal(t, "nmap", second.DetectTool("nmap -sV x"))
}

func TestStore_ReloadKeepsPriorOnFailure(t *testing.T) {
	cfg := config.Default()
	store, err := NewStore(cfg)
	require.NoError(t, err)
	before := store.Current()

	bad := config.Default()
	bad.Entities = []config.EntityPattern{{TypeName: "bad", Pattern: "(["}}
	err = store.Reload(bad)
	require.Error(t, err)
	assert.Same(t, before, store.Current())
}
