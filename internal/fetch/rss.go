package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/models"
)

const (
	maxFeedItems  = 64
	maxSummaryLen = 512
)

// FetchFeed pulls one RSS/Atom feed and returns up to 64 scored NewsItems,
// or fewer when maxItems lowers the cap. Items without a title are dropped.
// The base score comes from the source tier; published times the feed
// cannot express stay at the zero unix time.
func FetchFeed(ctx context.Context, client *Client, src config.RSSSource, maxItems int, now time.Time) ([]models.NewsItem, error) {
	body, err := client.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.Name, err)
	}

	limit := maxFeedItems
	if maxItems > 0 && maxItems < limit {
		limit = maxItems
	}
	category := config.CategoryOf(src.Category)
	score := models.TierScore(src.Tier)

	items := make([]models.NewsItem, 0, min(len(feed.Items), limit))
	for _, it := range feed.Items {
		if len(items) >= limit {
			break
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}

		published := time.Unix(0, 0).UTC()
		if it.PublishedParsed != nil {
			published = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			published = it.UpdatedParsed.UTC()
		}

		summary := it.Description
		if summary == "" {
			summary = it.Content
		}

		items = append(items, models.NewsItem{
			Title:       title,
			Source:      src.Name,
			URL:         strings.TrimSpace(it.Link),
			Summary:     stripHTML(summary),
			Category:    category,
			PublishedAt: published,
			IngestedAt:  now,
			Score:       score,
			Region:      src.Region,
			Country:     src.Country,
		})
	}
	return items, nil
}

// stripHTML flattens feed summaries to plain text and truncates them.
// Summaries are display-only so truncation is acceptable.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen]
	}
	return s
}
