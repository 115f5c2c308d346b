package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "deep learning", Normalize("  Deep Learning  "))
	require.Empty(t, Normalize("   "))
}

func TestTitle(t *testing.T) {
	t.Parallel()

	a := Title("Attention Is All You Need")
	require.Len(t, a, 64)
	require.Equal(t, a, Title("  attention is all you need"))
	require.NotEqual(t, a, Title("Attention is not all you need"))
	require.Empty(t, Title(" "))
}
