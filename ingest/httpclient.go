package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
)

// postJSON is the shared REST helper for this package's hand-rolled
// external-service clients (URLService), the same shape as
// llm.postJSON and store.ESTextIndex's request helpers.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return httpx.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return httpx.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httpx.CheckStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
