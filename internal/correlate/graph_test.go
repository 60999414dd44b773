package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neur0map/yinx/internal/types"
)

func TestGraph_IngestChunkBuildsHostPortServiceChain(t *testing.T) {
	g := NewGraph()
	defer g.Close()

	g.IngestChunk([]*types.Entity{
		{TypeName: TypeIP, Value: "10.0.0.5"},
		{TypeName: TypePort, Value: "80"},
		{TypeName: TypeService, Value: "http"},
		{TypeName: TypeCVE, Value: "CVE-2023-1111"},
	})

	host := g.Host("10.0.0.5")
	require.NotNil(t, host)
	require.Equal(t, "10.0.0.5", host.IP)
	svc, ok := host.Ports[80]
	require.True(t, ok)
	require.Equal(t, "http", svc.Service)
	require.Contains(t, svc.Vulnerabilities, "CVE-2023-1111")
}

func TestGraph_SnapshotReturnsIndependentCopies(t *testing.T) {
	g := NewGraph()
	defer g.Close()

	g.IngestChunk([]*types.Entity{
		{TypeName: TypeIP, Value: "10.0.0.1"},
		{TypeName: TypePort, Value: "22"},
	})

	snap := g.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Ports[22].Service = "mutated"

	host := g.Host("10.0.0.1")
	require.NotEqual(t, "mutated", host.Ports[22].Service)
}

func TestGraph_RebuildReplaysEntitiesInOrder(t *testing.T) {
	g := NewGraph()
	defer g.Close()

	entities := []*types.Entity{
		{ChunkID: "chunk-1", TypeName: TypeIP, Value: "192.168.1.1"},
		{ChunkID: "chunk-1", TypeName: TypePort, Value: "443"},
		{ChunkID: "chunk-1", TypeName: TypeService, Value: "https"},
	}
	Rebuild(g, entities)

	host := g.Host("192.168.1.1")
	require.NotNil(t, host)
	require.Equal(t, "https", host.Ports[443].Service)

	Rebuild(g, nil)
	require.Nil(t, g.Host("192.168.1.1"))
}

func TestGraph_PortWithoutPrecedingHostIsIgnored(t *testing.T) {
	g := NewGraph()
	defer g.Close()

	g.IngestChunk([]*types.Entity{{TypeName: TypePort, Value: "80"}})
	require.Empty(t, g.Snapshot())
}

func TestGraph_CoLocationScopeDoesNotLeakAcrossChunks(t *testing.T) {
	g := NewGraph()
	defer g.Close()

	// First chunk establishes a host/port.
	g.IngestChunk([]*types.Entity{
		{ChunkID: "chunk-1", TypeName: TypeIP, Value: "10.0.0.9"},
		{ChunkID: "chunk-1", TypeName: TypePort, Value: "443"},
	})
	// A later, unrelated chunk mentions a CVE with no host/port of its
	// own; it must NOT attach to chunk-1's still-open host/port cursor.
	g.IngestChunk([]*types.Entity{
		{ChunkID: "chunk-2", TypeName: TypeCVE, Value: "CVE-2024-9999"},
	})

	host := g.Host("10.0.0.9")
	require.NotNil(t, host)
	svc := host.Ports[443]
	require.NotNil(t, svc)
	require.Empty(t, svc.Vulnerabilities, "a later unrelated chunk's CVE must not attach to an earlier chunk's service")
}
