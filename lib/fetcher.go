package lib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/fiffu/feedbucket/config"
	"github.com/fiffu/feedbucket/lib/models"
)

// Candidate is one parsed entry before dedup.
type Candidate struct {
	URL         string
	Title       string
	Content     string
	PublishedAt *time.Time
}

// FetchOutcome reports a completed fetch phase. A not-modified response
// is a success with zero candidates, not a failure.
type FetchOutcome struct {
	Candidates  []Candidate
	CacheToken  string
	Malformed   int
	NotModified bool
}

type Fetcher struct {
	log       *zap.Logger
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

func NewFetcher(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) *Fetcher {
	return &Fetcher{
		log:       log,
		transport: transport,
		timeout:   cfg.FetchTimeout(),
		userAgent: cfg.UserAgent,
	}
}

// Cache tokens are opaque to everything but the fetcher: a prefix tells
// it which conditional header to replay.
const (
	tokenETagPrefix     = "etag "
	tokenModifiedPrefix = "modified "
)

func applyCacheToken(req *http.Request, token string) {
	switch {
	case strings.HasPrefix(token, tokenETagPrefix):
		req.Header.Set("If-None-Match", strings.TrimPrefix(token, tokenETagPrefix))
	case strings.HasPrefix(token, tokenModifiedPrefix):
		req.Header.Set("If-Modified-Since", strings.TrimPrefix(token, tokenModifiedPrefix))
	}
}

func extractCacheToken(resp *http.Response) string {
	if etag := resp.Header.Get("ETag"); etag != "" {
		return tokenETagPrefix + etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		return tokenModifiedPrefix + lm
	}
	return ""
}

// Fetch retrieves and parses one feed's current entries. Entries
// missing both link and title are skipped individually and counted;
// an unreachable or unparseable feed fails with a FetchFailure.
func (f *Fetcher) Fetch(ctx context.Context, feed *models.Feed) (*FetchOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, &models.FetchFailure{Cause: models.CauseParse, URL: feed.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")
	applyCacheToken(req, feed.CacheToken)

	client := &http.Client{Transport: f.transport}
	resp, err := client.Do(req)
	if err != nil {
		cause := models.CauseNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			cause = models.CauseTimeout
		}
		return nil, &models.FetchFailure{Cause: cause, URL: feed.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.log.Sugar().Debugw("Feed not modified", "feed_id", feed.ID, "url", feed.URL)
		return &FetchOutcome{NotModified: true, CacheToken: feed.CacheToken}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &models.FetchFailure{
			Cause: models.CauseHTTPStatus,
			URL:   feed.URL,
			Err:   fmt.Errorf("feed returned status %d", resp.StatusCode),
		}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, &models.FetchFailure{Cause: models.CauseParse, URL: feed.URL, Err: err}
	}

	out := &FetchOutcome{CacheToken: extractCacheToken(resp)}
	if out.CacheToken == "" {
		out.CacheToken = feed.CacheToken
	}

	for _, entry := range parsed.Items {
		if entry == nil || (entry.Link == "" && entry.Title == "") {
			out.Malformed++
			continue
		}
		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		out.Candidates = append(out.Candidates, Candidate{
			URL:         entry.Link,
			Title:       entry.Title,
			Content:     content,
			PublishedAt: entry.PublishedParsed,
		})
	}
	return out, nil
}
