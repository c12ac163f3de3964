package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lwkgo/ctwallet/log"
	"github.com/lwkgo/ctwallet/werror"
)

var chainLog = log.NewSubLogger(log.TagChain)

// RetryConfig configures the HTTP retry ladder shared by the HTTP
// backend adapters: on HTTP 429/503 the delay starts at BaseDelay and
// doubles after each failed attempt, with at most MaxAttempts
// requests in all, grounded verbatim on
// lightweight-wallet/chain/mempool/client.go's doRequest and
// original_source/lwk_wollet/src/clients/asyncr/esplora.rs's
// get_with_retry.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig is an exponential backoff ladder: at most 6
// attempts, waiting 1, 2, 4, 8 and 16 s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 6, BaseDelay: time.Second}
}

// HTTPClient is a rate-limited, retrying HTTP client shared by the
// esplora and waterfalls adapters (electrum uses a persistent TCP/TLS
// connection instead, see chain/electrum).
type HTTPClient struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	baseURL string
}

// NewHTTPClient returns an HTTPClient rate-limited to ratePerSecond
// requests/sec with a burst of burst.
func NewHTTPClient(baseURL string, ratePerSecond float64, burst int, retry RetryConfig) *HTTPClient {
	return &HTTPClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		retry:   retry,
		baseURL: baseURL,
	}
}

// Do performs req, retrying on HTTP 429/503 with exponential backoff
// up to retry.MaxAttempts. Any other non-2xx status, or an attempt-
// count exhaustion, is surfaced as a werror.BackendError.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, &werror.BackendError{
				Attempt: attempt, Cause: werror.CausePermanent, Err: err,
			}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, &werror.BackendError{
					Attempt: attempt, Cause: werror.CausePermanent, Err: readErr,
				}
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable:
			if attempt >= c.retry.MaxAttempts {
				return nil, &werror.BackendError{
					Attempt: attempt,
					Cause:   werror.CauseTransient,
					Err:     fmt.Errorf("status %d after %d attempts", resp.StatusCode, attempt),
				}
			}
			delay := c.retry.BaseDelay * time.Duration(1<<uint(attempt-1))
			chainLog.Debugf("backend %s attempt %d: status %d, retrying in %s",
				req.URL.Host, attempt, resp.StatusCode, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		default:
			return nil, &werror.BackendError{
				Attempt: attempt,
				Cause:   werror.CausePermanent,
				Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
			}
		}
	}
}

// BaseURL returns the configured base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }
