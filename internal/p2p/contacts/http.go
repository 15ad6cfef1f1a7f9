package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/p2p/domain"
)

// HTTPConfig configures the user-service directory client.
type HTTPConfig struct {
	BaseURL     string        `envconfig:"DIRECTORY_URL"`
	Token       string        `envconfig:"DIRECTORY_TOKEN"`
	Timeout     time.Duration `envconfig:"DIRECTORY_TIMEOUT" default:"5s"`
	MaxAttempts int           `envconfig:"DIRECTORY_MAX_ATTEMPTS" default:"3"`
}

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable directory failure")

// HTTPDirectory resolves contacts against the user service:
// GET {base}/users/lookup?method=..&value=.. returns an Entry, 404 means unregistered.
type HTTPDirectory struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPDirectory creates a directory client.
func NewHTTPDirectory(cfg HTTPConfig, logger *slog.Logger) *HTTPDirectory {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &HTTPDirectory{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Resolve implements Directory. Lookups are reads, so transport errors and 5xx
// responses are retried a bounded number of times.
func (d *HTTPDirectory) Resolve(ctx context.Context, ref domain.ContactRef) (Entry, error) {
	var entry Entry
	err := database.Retry(ctx, d.config.MaxAttempts, func(err error) bool {
		return errors.Is(err, errRetryable)
	}, func() error {
		var err error
		entry, err = d.lookup(ctx, ref)
		return err
	})
	if err != nil {
		d.logger.Warn("directory lookup failed", "method", ref.Method, "error", err)
		return Entry{}, err
	}
	return entry, nil
}

func (d *HTTPDirectory) lookup(ctx context.Context, ref domain.ContactRef) (Entry, error) {
	q := url.Values{}
	q.Set("method", string(ref.Method))
	q.Set("value", ref.Value)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.BaseURL+"/users/lookup?"+q.Encode(), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Entry{}, nil
	case resp.StatusCode >= 500:
		return Entry{}, fmt.Errorf("%w: status=%d", errRetryable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Entry{}, fmt.Errorf("directory error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal response: %w", err)
	}
	entry.IsRegistered = entry.UserID != ""
	return entry, nil
}
