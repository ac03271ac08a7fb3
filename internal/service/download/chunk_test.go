package download

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestChunkRanges checks the partition covers [0, length) once, in order, without overlap.
func TestChunkRanges(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		length, size int64
		want         int
	}{
		{length: 1, size: 4096, want: 1},
		{length: 4096, size: 4096, want: 1},
		{length: 4097, size: 4096, want: 2},
		{length: 10_000, size: 4096, want: 3},
		{length: 10_240, size: 1024, want: 10},
	} {
		ranges := ChunkRanges(tc.length, tc.size)
		require.Len(t, ranges, tc.want)

		var next int64

		for i, r := range ranges {
			require.Equal(t, int64(i)*tc.size, r.Start)
			require.Equal(t, next, r.Start)
			require.LessOrEqual(t, r.Len(), tc.size)

			next = r.End + 1
		}

		require.Equal(t, tc.length, next)
	}

	require.Empty(t, ChunkRanges(0, 4096))
	require.Empty(t, ChunkRanges(100, 0))
}

// TestRange_Header renders inclusive byte ranges.
func TestRange_Header(t *testing.T) {
	t.Parallel()

	r := Range{Start: 4096, End: 8191}
	require.Equal(t, "bytes=4096-8191", r.Header())
	require.EqualValues(t, 4096, r.Len())
}

// TestObjectURL joins base URLs and names without duplicate slashes.
func TestObjectURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://store.local":         "http://store.local/agent.zst",
		"http://store.local/":        "http://store.local/agent.zst",
		"http://store.local/agent":   "http://store.local/agent/agent.zst",
		"https://store.local/agent/": "https://store.local/agent/agent.zst",
	}

	for base, want := range cases {
		got, err := ObjectURL(base, "agent.zst")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ObjectURL("://bad", "agent.zst")
	require.Error(t, err)
}
