package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pressq/pressq/internal/types"
)

// deliver POSTs the terminal result to the subscription URL.
// Returns nil only for a 2xx response.
func deliver(ctx context.Context, client *http.Client, sub *Subscription, res *types.ActionResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("notify: marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pressq-Event", string(res.Action))
	req.Header.Set("X-Pressq-Message-Id", res.MessageID)

	// Sign the request body when a secret is provided.
	if sub.secret != "" {
		mac := hmac.New(sha256.New, []byte(sub.secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Pressq-Signature", "sha256="+sig)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: POST to %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
