package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 10 * 1024 * 1024 // 10 MB
)

var (
	// ErrUnavailable — источник временно недоступен (сеть, 5xx, 429).
	ErrUnavailable = errors.New("source unavailable")

	// ErrRejected — источник отказал (4xx кроме 429). Retry не поможет.
	ErrRejected = errors.New("source rejected request")
)

// Result — извлечённый контент одного источника.
type Result struct {
	URL        string
	Title      string
	Text       string
	StatusCode int
	FetchedAt  time.Time
}

// Extractor извлекает контент по URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Result, error)
}

// HTTPExtractor скачивает страницу по HTTP и чистит её до текста.
type HTTPExtractor struct {
	client    *http.Client
	userAgent string
}

// NewHTTPExtractor создаёт extractor с дефолтным клиентом.
func NewHTTPExtractor() *HTTPExtractor {
	return &HTTPExtractor{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: "dossier-extractor/1.0",
	}
}

// Extract скачивает страницу и возвращает очищенный текст.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	raw := string(body)
	return &Result{
		URL:        url,
		Title:      extractTitle(raw),
		Text:       stripMarkup(raw),
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

var (
	reTitle  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reHidden = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	reTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	reSpace  = regexp.MustCompile(`\s+`)
)

// extractTitle вытаскивает содержимое <title>.
func extractTitle(html string) string {
	m := reTitle.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(reSpace.ReplaceAllString(m[1], " "))
}

// stripMarkup убирает скрипты, стили и теги, схлопывает пробелы.
func stripMarkup(html string) string {
	text := reHidden.ReplaceAllString(html, " ")
	text = reTag.ReplaceAllString(text, " ")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	return strings.TrimSpace(reSpace.ReplaceAllString(text, " "))
}
