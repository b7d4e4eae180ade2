package papertools

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
)

// postJSONAuth is the shared bearer-auth REST helper for this package's
// hand-rolled FactCheckClient, the same shape as ingest's postJSON.
func postJSONAuth(ctx context.Context, client *http.Client, url, bearerToken string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return httpx.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return httpx.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

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
