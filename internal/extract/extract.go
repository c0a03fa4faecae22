// Package extract pulls product fields and outbound links from fetched
// pages using per-domain selector rules.
package extract

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Product extracts one record from doc using rule. The boolean is false
// when the page does not hold a valid listing: a valid record needs a
// non-empty title and a price greater than zero.
func Product(doc *goquery.Document, rule crawler.SiteRule, pageURL string, at time.Time) (crawler.Product, bool) {
	title := strings.TrimSpace(doc.Find(rule.TitleSelector).First().Text())
	price := ParsePrice(doc.Find(rule.PriceSelector).First().Text())
	if title == "" || price <= 0 {
		return crawler.Product{}, false
	}

	product := crawler.Product{
		Title:      title,
		Price:      price,
		ProductURL: pageURL,
		CrawlTime:  at,
	}
	product.Description = strings.TrimSpace(doc.Find(rule.DescriptionSelector).First().Text())
	if src, ok := doc.Find(rule.ImageSelector).First().Attr("src"); ok {
		product.ImageURL = strings.TrimSpace(src)
	}
	return product, true
}

// ParsePrice strips currency symbols and thousands separators and
// parses the remainder as a float. Unparseable input yields 0.
func ParsePrice(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ',', ' ', '\n', '\t':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return 0
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return price
}

// Links returns the absolute same-domain anchor targets found in doc,
// deduplicated, with fragments stripped. Mail, javascript and
// fragment-only hrefs are ignored.
func Links(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	domain := strings.ToLower(base.Hostname())
	if domain == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		if strings.ToLower(resolved.Hostname()) != domain {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
