package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"

	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/processing"
)

const (
	userAgent    = "newsbot/1.0 (+rss)"
	maxFeedBytes = 8 << 20
)

// Endpoint describes the news search feed and its locale parameters.
type Endpoint struct {
	BaseURL  string
	Language string
	Region   string
	Edition  string
}

// GoogleNewsKR searches Google News in Korean for the Korean edition.
var GoogleNewsKR = Endpoint{
	BaseURL:  "https://news.google.com/rss/search",
	Language: "ko",
	Region:   "KR",
	Edition:  "KR:ko",
}

// ErrUnsupportedFeed is returned when the response is neither RSS nor Atom.
var ErrUnsupportedFeed = errors.New("unsupported feed format")

// FetchError reports a transport, status or parse failure of the feed itself.
type FetchError struct {
	Op  string
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher queries the search feed for a keyword and normalizes the entries into articles.
// It keeps no state between calls and is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	endpoint Endpoint
	log      *slog.Logger
}

// New creates a Fetcher. Empty endpoint fields fall back to GoogleNewsKR.
// Timeouts belong to the supplied client or the caller's context.
func New(client *http.Client, endpoint Endpoint, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = GoogleNewsKR.BaseURL
	}
	if endpoint.Language == "" {
		endpoint.Language = GoogleNewsKR.Language
	}
	if endpoint.Region == "" {
		endpoint.Region = GoogleNewsKR.Region
	}
	if endpoint.Edition == "" {
		endpoint.Edition = GoogleNewsKR.Edition
	}
	return &Fetcher{client: client, endpoint: endpoint, log: log}
}

// BuildURL returns the search URL for keyword.
func (f *Fetcher) BuildURL(keyword string) string {
	return fmt.Sprintf("%s?q=%s&hl=%s&gl=%s&ceid=%s",
		f.endpoint.BaseURL,
		url.QueryEscape(keyword),
		f.endpoint.Language,
		f.endpoint.Region,
		f.endpoint.Edition,
	)
}

// Fetch returns at most limit articles for keyword in feed order.
// A feed without entries yields an empty slice; only transport and parse failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, keyword string, limit int) ([]models.Article, error) {
	if limit <= 0 {
		return []models.Article{}, nil
	}

	target := f.BuildURL(keyword)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Op: "request", URL: target, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "fetch", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{Op: "status", URL: target, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &FetchError{Op: "read", URL: target, Err: err}
	}

	articles, err := Parse(body, limit)
	if err != nil {
		return nil, &FetchError{Op: "parse", URL: target, Err: err}
	}

	f.log.Debug("fetched feed",
		slog.String("keyword", keyword),
		slog.Int("articles", len(articles)),
	)
	return articles, nil
}

// Parse decodes an RSS or Atom document and normalizes at most limit entries.
func Parse(data []byte, limit int) ([]models.Article, error) {
	if limit <= 0 {
		return []models.Article{}, nil
	}

	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse rss: %w", err)
		}
		return fromRSS(parsed.Items, limit), nil
	case gofeed.FeedTypeAtom:
		parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse atom: %w", err)
		}
		return fromAtom(parsed.Entries, limit), nil
	default:
		return nil, ErrUnsupportedFeed
	}
}

func fromRSS(items []*rss.Item, limit int) []models.Article {
	articles := make([]models.Article, 0, min(limit, len(items)))
	for _, item := range items {
		if len(articles) >= limit {
			break
		}
		if item == nil {
			continue
		}
		source := ""
		if item.Source != nil {
			source = item.Source.Title
		}
		articles = append(articles, models.Article{
			Title:     item.Title,
			Link:      item.Link,
			Published: item.PubDate,
			Summary:   processing.StripTags(item.Description),
			Source:    source,
		})
	}
	return articles
}

func fromAtom(entries []*atom.Entry, limit int) []models.Article {
	articles := make([]models.Article, 0, min(limit, len(entries)))
	for _, entry := range entries {
		if len(articles) >= limit {
			break
		}
		if entry == nil {
			continue
		}
		published := entry.Published
		if published == "" {
			published = entry.Updated
		}
		source := ""
		if entry.Source != nil {
			source = entry.Source.Title
		}
		articles = append(articles, models.Article{
			Title:     entry.Title,
			Link:      atomLink(entry.Links),
			Published: published,
			Summary:   processing.StripTags(entry.Summary),
			Source:    source,
		})
	}
	return articles
}

func atomLink(links []*atom.Link) string {
	fallback := ""
	for _, link := range links {
		if link == nil {
			continue
		}
		if link.Rel == "" || link.Rel == "alternate" {
			return link.Href
		}
		if fallback == "" {
			fallback = link.Href
		}
	}
	return fallback
}
