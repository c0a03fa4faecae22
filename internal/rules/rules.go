// Package rules maps domains to product extraction selectors.
package rules

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Built-in selectors used when a domain or field has no rule.
var defaultRule = crawler.SiteRule{
	TitleSelector:       "h1.product-title",
	PriceSelector:       "span.product-price",
	DescriptionSelector: "div.product-description",
	ImageSelector:       "img.product-image",
}

// Default returns the built-in selector set.
func Default() crawler.SiteRule {
	return defaultRule
}

type rulesFile struct {
	Sites map[string]crawler.SiteRule `yaml:"sites"`
}

// Table resolves per-domain selector rules. It is loaded once per run
// and read-only afterwards.
type Table struct {
	sites map[string]crawler.SiteRule
}

// Load reads the rules file at path. A missing or empty path yields an
// empty table (every lookup falls back to the defaults); a malformed
// file is an error.
func Load(path string, logger *zap.Logger) (*Table, error) {
	if path == "" {
		return &Table{sites: map[string]crawler.SiteRule{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("rules file not found, using default selectors", zap.String("path", path))
			return &Table{sites: map[string]crawler.SiteRule{}}, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if parsed.Sites == nil {
		parsed.Sites = map[string]crawler.SiteRule{}
	}
	logger.Info("site rules loaded", zap.String("path", path), zap.Int("domains", len(parsed.Sites)))
	return &Table{sites: parsed.Sites}, nil
}

// RulesFor returns the selectors for domain, with per-field fallback to
// the built-in defaults.
func (t *Table) RulesFor(domain string) crawler.SiteRule {
	rule := defaultRule
	site, ok := t.sites[domain]
	if !ok {
		return rule
	}
	if site.TitleSelector != "" {
		rule.TitleSelector = site.TitleSelector
	}
	if site.PriceSelector != "" {
		rule.PriceSelector = site.PriceSelector
	}
	if site.DescriptionSelector != "" {
		rule.DescriptionSelector = site.DescriptionSelector
	}
	if site.ImageSelector != "" {
		rule.ImageSelector = site.ImageSelector
	}
	return rule
}
