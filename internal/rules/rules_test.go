package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	table, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	require.NoError(t, err)

	rule := table.RulesFor("shop.example")
	require.Equal(t, Default(), rule)
}

func TestLoadEmptyPath(t *testing.T) {
	t.Parallel()

	table, err := Load("", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, Default(), table.RulesFor("anything.example"))
}

func TestRulesForMergesPerField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := []byte(`
sites:
  shop.example:
    title_selector: "h2.name"
    price_selector: "div.cost"
  partial.example:
    image_selector: "img.hero"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	table, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	rule := table.RulesFor("shop.example")
	require.Equal(t, "h2.name", rule.TitleSelector)
	require.Equal(t, "div.cost", rule.PriceSelector)
	require.Equal(t, Default().DescriptionSelector, rule.DescriptionSelector)

	partial := table.RulesFor("partial.example")
	require.Equal(t, "img.hero", partial.ImageSelector)
	require.Equal(t, Default().TitleSelector, partial.TitleSelector)

	require.Equal(t, Default(), table.RulesFor("unknown.example"))
}

func TestLoadMalformedFileErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sites: [not, a, map"), 0o600))

	_, err := Load(path, zap.NewNop())
	require.Error(t, err)
}
