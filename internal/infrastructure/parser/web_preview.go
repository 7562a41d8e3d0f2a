package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/gateway"
	"ChannelMonitor/internal/ports"
)

const (
	defaultBaseURL    = "https://t.me"
	defaultUserAgent  = "ChannelMonitor/1.0"
	defaultRetryAfter = 30 * time.Second
)

// WebPreviewSource reads public channel history from the t.me/s web preview.
type WebPreviewSource struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *slog.Logger
}

var _ ports.HistorySource = (*WebPreviewSource)(nil)

// NewWebPreviewSource wires an HTTP client; baseURL defaults to https://t.me.
func NewWebPreviewSource(client *http.Client, baseURL, userAgent string, logger *slog.Logger) *WebPreviewSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &WebPreviewSource{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		logger:    logger,
	}
}

// FetchHistory returns up to limit messages with id greater than after,
// oldest first. An album crossing the limit is returned whole.
func (s *WebPreviewSource) FetchHistory(ctx context.Context, channel domain.ChannelID, after int64, limit int) ([]domain.MessageRecord, error) {
	name := channel.Name()
	if name == "" {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}

	pageURL, err := buildPageURL(s.baseURL, name, after)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", name, err)
	}

	records := extractMessages(doc)
	filtered := records[:0]
	for _, rec := range records {
		if rec.ID > after {
			filtered = append(filtered, rec)
		}
	}
	domain.SortAscending(filtered)
	filtered = truncateAtPost(filtered, limit)

	s.debug("preview page parsed", "channel", name, "after", after, "parsed", len(records), "returned", len(filtered))
	return filtered, nil
}

func (s *WebPreviewSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &gateway.RateLimitedError{
			Op:         "fetch_history",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractMessages(doc *goquery.Document) []domain.MessageRecord {
	var records []domain.MessageRecord

	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, msg *goquery.Selection) {
		records = append(records, parseMessage(msg)...)
	})

	return records
}

// parseMessage turns one preview widget into records. An album widget expands
// into one record per grouped media link sharing the widget's id as group id;
// the caption stays with the widget's own id.
func parseMessage(msg *goquery.Selection) []domain.MessageRecord {
	post, _ := msg.Attr("data-post")
	id, ok := postID(post)
	if !ok {
		return nil
	}

	text := strings.TrimSpace(msg.Find(".tgme_widget_message_text").First().Text())

	grouped := msg.Find(".tgme_widget_message_grouped_wrap a[href]")
	if grouped.Length() == 0 {
		return []domain.MessageRecord{{ID: id, Text: text}}
	}

	var (
		records   []domain.MessageRecord
		seen      = map[int64]struct{}{}
		captioned bool
	)
	grouped.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		memberID, ok := postID(href)
		if !ok {
			return
		}
		if _, dup := seen[memberID]; dup {
			return
		}
		seen[memberID] = struct{}{}

		rec := domain.MessageRecord{ID: memberID, GroupID: id}
		if memberID == id {
			rec.Text = text
			captioned = true
		}
		records = append(records, rec)
	})

	if len(records) == 0 {
		return []domain.MessageRecord{{ID: id, Text: text}}
	}
	if !captioned {
		domain.SortAscending(records)
		records[0].Text = text
	}
	return records
}

// truncateAtPost cuts sorted records to limit without splitting an album.
func truncateAtPost(records []domain.MessageRecord, limit int) []domain.MessageRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	cut := limit
	if group := records[cut-1].GroupID; group != 0 {
		for cut < len(records) && records[cut].GroupID == group {
			cut++
		}
	}
	return records[:cut]
}

// postID extracts the numeric id from "channel/123" or a t.me message link.
func postID(ref string) (int64, bool) {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	ref = strings.TrimSuffix(ref, "/")
	idx := strings.LastIndex(ref, "/")
	if idx < 0 || idx == len(ref)-1 {
		return 0, false
	}
	id, err := strconv.ParseInt(ref[idx+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func buildPageURL(base, channel string, after int64) (string, error) {
	parsed, err := url.Parse(base + "/s/" + url.PathEscape(channel))
	if err != nil {
		return "", fmt.Errorf("invalid preview url %s: %w", base, err)
	}

	if after > 0 {
		query := parsed.Query()
		query.Set("after", strconv.FormatInt(after, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return defaultRetryAfter
}

func (s *WebPreviewSource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
