package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoval/showtracks/internal/models"
	"github.com/dkoval/showtracks/internal/storage"
)

// Renderer is the heavyweight fallback: it loads a listing page in a real
// browser so anti-automation defenses that block plain requests pass.
type Renderer interface {
	RenderPage(ctx context.Context, pageURL string) (string, error)
}

// page mirrors the upstream listing payload. The same JSON is embedded in
// the rendered page inside <script id="event-data">.
type page struct {
	Events   []models.Event `json:"events"`
	NextPage bool           `json:"next_page"`
}

type Adapter struct {
	httpClient *http.Client
	baseURL    string
	pageDelay  time.Duration
	renderer   Renderer
	archive    storage.Archive
}

func NewAdapter(baseURL string, pageDelay time.Duration, renderer Renderer, archive storage.Archive) *Adapter {
	if archive == nil {
		archive = storage.NoopArchive{}
	}
	return &Adapter{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageDelay: pageDelay,
		renderer:  renderer,
		archive:   archive,
	}
}

// FetchEvents collects listings for the location and date, page by page,
// until an empty page or a missing next-page marker. Upstream trouble is
// never fatal here: whatever was collected so far is returned, and an
// empty list is a valid result the pipeline turns into a job failure with
// its own message.
func (a *Adapter) FetchEvents(ctx context.Context, date string, lat, lon float64) []models.Event {
	var collected []models.Event
	blocked := false

	for pageNum := 1; ; pageNum++ {
		if ctx.Err() != nil {
			return collected
		}
		if pageNum > 1 && a.pageDelay > 0 {
			// Politeness delay between pages.
			select {
			case <-time.After(a.pageDelay):
			case <-ctx.Done():
				return collected
			}
		}

		pageURL := a.pageURL(date, lat, lon, pageNum)

		var (
			p   *page
			err error
		)
		if !blocked {
			p, err = a.fetchPage(ctx, pageURL)
			if isBlocked(err) {
				slog.Warn("event source blocked plain requests, escalating to renderer",
					"page", pageNum, "err", err)
				blocked = true
			} else if err != nil {
				slog.Warn("event page fetch failed, returning partial results",
					"page", pageNum, "collected", len(collected), "err", err)
				return collected
			}
		}
		if blocked {
			p, err = a.renderPage(ctx, pageURL, pageNum)
			if err != nil {
				slog.Warn("fallback rendering failed, returning partial results",
					"page", pageNum, "collected", len(collected), "err", err)
				return collected
			}
		}

		if len(p.Events) == 0 {
			return collected
		}
		collected = append(collected, p.Events...)
		if !p.NextPage {
			return collected
		}
	}
}

func (a *Adapter) pageURL(date string, lat, lon float64, pageNum int) string {
	q := url.Values{
		"date": {date},
		"lat":  {strconv.FormatFloat(lat, 'f', 5, 64)},
		"lon":  {strconv.FormatFloat(lon, 'f', 5, 64)},
		"page": {strconv.Itoa(pageNum)},
	}
	return a.baseURL + "/events?" + q.Encode()
}

func (a *Adapter) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &blockedError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode event page: %w", err)
	}
	return &p, nil
}

// renderPage runs the browser fallback and extracts the embedded listing
// JSON from the rendered document. The raw HTML is archived for debugging.
func (a *Adapter) renderPage(ctx context.Context, pageURL string, pageNum int) (*page, error) {
	if a.renderer == nil {
		return nil, fmt.Errorf("no fallback renderer configured")
	}

	html, err := a.renderer.RenderPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	if res, err := a.archive.Save(ctx, fmt.Sprintf("page_%d", pageNum), []byte(html)); err != nil {
		slog.Warn("failed to archive page snapshot", "err", err)
	} else if res.Key != "" {
		slog.Debug("page snapshot archived", "key", res.Key)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered page: %w", err)
	}

	raw := strings.TrimSpace(doc.Find("script#event-data").Text())
	if raw == "" {
		return nil, fmt.Errorf("rendered page has no event-data payload")
	}

	var p page
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode embedded event data: %w", err)
	}
	return &p, nil
}

type blockedError struct {
	status int
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("blocked by event source (status %d)", e.status)
}

func isBlocked(err error) bool {
	_, ok := err.(*blockedError)
	return ok
}

// Dedupe drops events whose artist already appeared, comparing case-folded
// trimmed names. The first occurrence wins.
func Dedupe(events []models.Event) []models.Event {
	seen := make(map[string]bool, len(events))
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		key := strings.ToLower(strings.TrimSpace(ev.Artist))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev)
	}
	return out
}
