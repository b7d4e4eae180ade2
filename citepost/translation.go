package citepost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/DaveCBeck/thala-sub002/httpx"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/google/uuid"
)

// TranslationItem is one bibliographic item the translation server
// resolves a URL to, shaped after store.BibItem's fields so it can be
// mapped into one directly.
type TranslationItem struct {
	ItemType         string            `json:"itemType"`
	Title            string            `json:"title"`
	Creators         []TranslationName `json:"creators,omitempty"`
	Date             string            `json:"date,omitempty"`
	PublicationTitle string            `json:"publicationTitle,omitempty"`
	DOI              string            `json:"DOI,omitempty"`
	Abstract         string            `json:"abstractNote,omitempty"`
	URL              string            `json:"url,omitempty"`
}

// TranslationName is one creator entry on a TranslationItem.
type TranslationName struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// TranslationClient resolves a URL to candidate bibliographic metadata,
// per spec.md §6's "Translation server" interface.
type TranslationClient interface {
	ResolveWeb(ctx context.Context, url, sessionID string) ([]TranslationItem, error)
}

// HTTPTranslationClient talks to the translation server over localhost,
// the same hand-rolled-REST-client shape as store.ZoteroBibSystem and
// ingest.HTTPURLService — no example repo carries a client for this
// service either.
type HTTPTranslationClient struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	lastCall time.Time
}

// PoliteDelay is the minimum spacing between outbound translation-server
// calls, per spec.md §4.5's "300 ms polite delay between
// translation-server calls".
const PoliteDelay = 300 * time.Millisecond

func NewHTTPTranslationClient(baseURL string) *HTTPTranslationClient {
	return &HTTPTranslationClient{baseURL: baseURL, client: httpx.NewClient(httpx.DefaultTimeout)}
}

// ResolveWeb posts {url, sessionid} to /web and handles the server's
// distinct status codes: 200 (resolved, array body), 300 (multiple
// candidates, array body, first taken), 400 (caller error, permanent),
// 501 (translator not implemented for this site, permanent).
func (c *HTTPTranslationClient) ResolveWeb(ctx context.Context, url, sessionID string) ([]TranslationItem, error) {
	c.throttle()

	body, err := json.Marshal(map[string]string{"url": url, "sessionid": sessionID})
	if err != nil {
		return nil, httpx.Permanent(err)
	}

	var items []TranslationItem
	err = httpx.RetryIdempotent(ctx, func() error {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/web", bytes.NewReader(body))
		if rErr != nil {
			return httpx.Permanent(rErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, rErr := c.client.Do(req)
		if rErr != nil {
			return rErr
		}
		defer resp.Body.Close()
		raw, rErr := io.ReadAll(resp.Body)
		if rErr != nil {
			return rErr
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusMultipleChoices:
			return json.Unmarshal(raw, &items)
		case http.StatusBadRequest:
			return httpx.Permanent(&xerrors.ValidationError{Field: "url", Reason: "translation server rejected " + url})
		case http.StatusNotImplemented:
			return httpx.Permanent(fmt.Errorf("citepost: no translator available for %s", url))
		default:
			return fmt.Errorf("citepost: translation server returned status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// throttle blocks until at least PoliteDelay has elapsed since the last
// outbound call, serializing the actual network hits even though up to
// FanOutBound resolutions run concurrently.
func (c *HTTPTranslationClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := PoliteDelay - time.Since(c.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	c.lastCall = time.Now()
}

func newSessionID() string {
	return uuid.NewString()
}
