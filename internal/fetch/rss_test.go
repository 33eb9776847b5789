package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdeck/marketd/internal/config"
	"github.com/marketdeck/marketd/internal/models"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Markets</title>
    <item>
      <title>Bitcoin climbs past 50k</title>
      <link>https://example.com/btc-50k</link>
      <description>&lt;p&gt;BTC rallied &lt;b&gt;sharply&lt;/b&gt; overnight.&lt;/p&gt;</description>
      <pubDate>Mon, 24 Aug 2026 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://example.com/untitled</link>
    </item>
    <item>
      <title>Fed holds rates</title>
      <link>https://example.com/fed</link>
    </item>
  </channel>
</rss>`

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFeed(t *testing.T) {
	srv := serveFeed(t, sampleFeed)
	client := NewClient(2, 100)
	now := time.Now()

	src := config.RSSSource{
		Name: "example", URL: srv.URL, Category: "news",
		Tier: 1, Region: "us", Country: "US",
	}

	items, err := FetchFeed(context.Background(), client, src, 0, now)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Bitcoin climbs past 50k", first.Title)
	assert.Equal(t, "https://example.com/btc-50k", first.URL)
	assert.Equal(t, "BTC rallied sharply overnight.", first.Summary)
	assert.Equal(t, models.CatNews, first.Category)
	assert.Equal(t, 100.0, first.Score)
	assert.Equal(t, "us", first.Region)
	assert.Equal(t, 2026, first.PublishedAt.Year())

	// No pubDate falls back to the zero unix time.
	assert.Equal(t, int64(0), items[1].PublishedAt.Unix())
}

func TestFetchFeedCapsItems(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>big</title>`)
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, `<item><title>item %d</title><link>https://example.com/%d</link></item>`, i, i)
	}
	sb.WriteString(`</channel></rss>`)

	srv := serveFeed(t, sb.String())
	client := NewClient(2, 100)

	items, err := FetchFeed(context.Background(), client, config.RSSSource{
		Name: "big", URL: srv.URL, Category: "news",
	}, 0, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, maxFeedItems)

	items, err = FetchFeed(context.Background(), client, config.RSSSource{
		Name: "big", URL: srv.URL, Category: "news",
	}, 10, time.Now())
	require.NoError(t, err)
	assert.Len(t, items, 10)
}

func TestFetchFeedBadBody(t *testing.T) {
	srv := serveFeed(t, "not xml at all")
	client := NewClient(2, 100)

	_, err := FetchFeed(context.Background(), client, config.RSSSource{
		Name: "bad", URL: srv.URL,
	}, 0, time.Now())
	assert.Error(t, err)
}

func TestStripHTML(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"<p>hello <b>world</b></p>", "hello world"},
		{"  spaced\n\nout  ", "spaced out"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripHTML(tc.in))
	}
}
