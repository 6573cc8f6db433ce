package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"
)

const defaultUserAgent = "market-stream/1.0"

// NetworkManager performs GET requests with retries.
type NetworkManager struct {
	Config    models.MNetworkConfig
	Client    *http.Client
	Logger    *logger.Logger
	baseDelay time.Duration
}

// -----------------------------------------------------------------------------

func NewNetworkManager(cfg models.MNetworkConfig, log *logger.Logger) *NetworkManager {
	return &NetworkManager{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		Logger:    log,
		baseDelay: time.Second,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries. Client errors other than 429 are
// not retried.
func (nm *NetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewValidationError("bad url %q: %v", urlStr, err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	return helpers.RetryWithBackoff(ctx, nm.Logger, "GET "+reqURL.Path, nm.Config.MaxRetries, nm.baseDelay,
		func(ctx context.Context) ([]byte, error) {
			return nm.do(ctx, finalURL)
		})
}

func (nm *NetworkManager) do(ctx context.Context, finalURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, helpers.NewValidationError("build request: %v", err)
	}
	ua := nm.Config.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, helpers.NewValidationError("bad status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
