package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/require"

	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/ledger"
	"github.com/shopspider/shopspider/internal/rules"
)

func newUnit(t *testing.T, pages map[string]string) (*Unit, *ledger.Memory) {
	t.Helper()
	table, err := rules.Load("", zap.NewNop())
	require.NoError(t, err)
	led := ledger.NewMemory(ledger.Options{})
	return &Unit{
		Fetcher:    newFakeFetcher(pages),
		Ledger:     led,
		Rules:      table,
		Clock:      fakeClock{at: time.Unix(1700000000, 0)},
		MaxRetries: 3,
		MaxDepth:   3,
		Log:        zap.NewNop(),
	}, led
}

func TestUnitStopsLinkHarvestAtMaxDepth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	url := "https://shop.example/deep"
	u, _ := newUnit(t, map[string]string{url: page("Deep", "$5.00", "/further")})
	require.NoError(t, u.Ledger.InitProgress(ctx, "t"))

	res, err := u.Do(ctx, "t", crawler.FrontierEntry{URL: url, Depth: u.MaxDepth})
	require.NoError(t, err)
	require.NotNil(t, res.Product)
	require.Empty(t, res.NewURLs, "no link harvest at the depth cap")
}

func TestUnitCountsPagesWithoutProducts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	url := "https://shop.example/about"
	u, led := newUnit(t, map[string]string{url: "<html><body><p>About us</p></body></html>"})
	require.NoError(t, led.InitProgress(ctx, "t"))

	res, err := u.Do(ctx, "t", crawler.FrontierEntry{URL: url, Depth: 0})
	require.NoError(t, err)
	require.Nil(t, res.Product)

	progress, err := led.Progress(ctx, "t")
	require.NoError(t, err)
	require.EqualValues(t, 1, progress.Processed, "a visited page counts even without a listing")

	seen, err := led.IsVisited(ctx, "t", url)
	require.NoError(t, err)
	require.True(t, seen)
}
