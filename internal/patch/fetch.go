package patch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFetch is returned when a patch cannot be downloaded or fails
// checksum verification.
var ErrFetch = errors.New("patch fetch failed")

// Fetcher downloads patch content over HTTP with bounded retries.
type Fetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewFetcher creates a Fetcher with a 2 minute request timeout and
// 3 attempts with doubling backoff.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: 2 * time.Minute},
		retries: 3,
		backoff: 2 * time.Second,
	}
}

// Fetch downloads url, retrying on transport errors and 5xx responses.
// 4xx responses fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	backoff := f.backoff

	for attempt := 1; attempt <= f.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		data, retryable, err := f.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("server returned %s", resp.Status)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

// HashContent returns the sha256 hex digest used as a patch identity.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
