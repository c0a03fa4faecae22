package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "shop.example", Domain("https://Shop.Example/cat?page=2"))
	require.Equal(t, "shop.example", Domain("http://shop.example:8080/item"))
	require.Equal(t, "", Domain("://broken"))
}

func TestSameDomain(t *testing.T) {
	t.Parallel()

	require.True(t, SameDomain("https://shop.example/a", "https://shop.example/b"))
	require.False(t, SameDomain("https://shop.example/a", "https://other.example/a"))
	require.False(t, SameDomain("://broken", "://broken"))
}
