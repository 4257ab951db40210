package protocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

const defaultCallbackTimeout = 30 * time.Second

// Callbacks posts sealed tokens to requester supplied URLs in the background.
type Callbacks struct {
	client  *http.Client
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewCallbacks(client *http.Client, timeout time.Duration) *Callbacks {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}

	return &Callbacks{
		client:  client,
		timeout: timeout,
	}
}

// Deliver posts token as text/plain to <callbackURL>/<sessionToken> without blocking the caller.
// Failures are logged only.
func (c *Callbacks) Deliver(ctx context.Context, callbackURL, sessionToken, token string) {
	target := strings.TrimSuffix(callbackURL, "/") + "/" + sessionToken
	ctx = context.WithoutCancel(ctx)

	c.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if err := c.post(ctx, target, token); err != nil {
			slogctx.Warn(ctx, "Sending to callback URL failed", slog.String("url", callbackURL), slog.String("error", err.Error()))
			return
		}
		slogctx.Debug(ctx, "Result sent to callback URL", slog.String("url", callbackURL))
	})
}

// Wait blocks until every pending delivery finished.
func (c *Callbacks) Wait() {
	c.wg.Wait()
}

func (c *Callbacks) post(ctx context.Context, target, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(token))
	if err != nil {
		return fmt.Errorf("creating callback request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}

	return nil
}
