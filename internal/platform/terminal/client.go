// Package terminal is the gateway to the remote MT5 terminal API: account
// provisioning and discovery, REST reads of positions and deals, and the
// streaming position subscription.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

const regionPlaceholder = "{region}"

// ClientConfig configures a Client.
type ClientConfig struct {
	Token           string
	ProvisioningURL string
	ClientURL       string
	StreamURL       string
	Region          string
	FallbackRegions []string
	// StorageDir holds the per-account region cache. Empty disables caching.
	StorageDir     string
	RequestsPerSec float64
	HTTPTimeout    time.Duration
	// PollInterval is the delay between account state polls while waiting
	// for a deployment or broker connection.
	PollInterval time.Duration
}

// Client is the REST client for the terminal API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	regions    *regionCache
	logger     *slog.Logger
}

// NewClient creates a terminal API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		regions:    newRegionCache(cfg.StorageDir),
		logger:     logger.With(slog.String("component", "terminal")),
	}
}

// GetAccount returns the provisioning record of an account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (AccountInfo, error) {
	u := withRegion(c.cfg.ProvisioningURL, c.cfg.Region) + "/users/current/accounts/" + url.PathEscape(accountID)
	body, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("terminal: get account %s: %w", accountID, err)
	}
	var acct AccountInfo
	if err := json.Unmarshal(body, &acct); err != nil {
		return AccountInfo{}, fmt.Errorf("terminal: decode account %s: %w", accountID, err)
	}
	if acct.ID == "" {
		acct.ID = accountID
	}
	return acct, nil
}

// Deploy starts the account's remote terminal.
func (c *Client) Deploy(ctx context.Context, accountID string) error {
	u := withRegion(c.cfg.ProvisioningURL, c.cfg.Region) + "/users/current/accounts/" + url.PathEscape(accountID) + "/deploy"
	if _, err := c.doRequest(ctx, http.MethodPost, u, nil); err != nil {
		return fmt.Errorf("terminal: deploy %s: %w", accountID, err)
	}
	c.logger.InfoContext(ctx, "deploy requested", slog.String("account_id", accountID))
	return nil
}

// WaitConnected polls the account until its terminal is deployed and
// connected to the broker, or until timeout elapses.
func (c *Client) WaitConnected(ctx context.Context, accountID string, timeout time.Duration) (AccountInfo, error) {
	op := func() (AccountInfo, error) {
		acct, err := c.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNotFound) {
				return AccountInfo{}, backoff.Permanent(err)
			}
			return AccountInfo{}, err
		}
		if !acct.Deployed() || !acct.Connected() {
			return AccountInfo{}, fmt.Errorf("terminal: account %s is %s/%s", accountID, acct.State, acct.ConnectionStatus)
		}
		return acct, nil
	}

	acct, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.PollInterval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("terminal: wait connected %s: %w", accountID, err)
	}
	return acct, nil
}

// GetPositions returns the account's open positions. Payloads that cannot
// be normalized are logged and skipped.
func (c *Client) GetPositions(ctx context.Context, acct AccountInfo) ([]domain.Position, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.accountURL(acct, "/positions"), nil)
	if err != nil {
		return nil, fmt.Errorf("terminal: get positions %s: %w", acct.ID, err)
	}
	var raws []RawPosition
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("terminal: decode positions %s: %w", acct.ID, err)
	}
	positions, errs := NormalizePositions(raws)
	for _, e := range errs {
		c.logger.WarnContext(ctx, "skipping position", slog.String("error", e.Error()))
	}
	return positions, nil
}

// GetDealsByPosition returns the history deals of one position.
func (c *Client) GetDealsByPosition(ctx context.Context, acct AccountInfo, positionID string) ([]domain.Deal, error) {
	path := "/history-deals/position/" + url.PathEscape(positionID)
	body, err := c.doRequest(ctx, http.MethodGet, c.accountURL(acct, path), nil)
	if err != nil {
		return nil, fmt.Errorf("terminal: get deals %s/%s: %w", acct.ID, positionID, err)
	}
	var raws []RawDeal
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("terminal: decode deals %s/%s: %w", acct.ID, positionID, err)
	}
	deals := make([]domain.Deal, 0, len(raws))
	for _, r := range raws {
		deals = append(deals, NormalizeDeal(r))
	}
	return deals, nil
}

// OpenStream returns an unconnected streaming subscription for the account.
func (c *Client) OpenStream(acct AccountInfo) Stream {
	region := acct.Region
	if region == "" {
		region = c.cfg.Region
	}
	return NewStreamClient(StreamConfig{
		URL:       withRegion(c.cfg.StreamURL, region),
		Token:     c.cfg.Token,
		AccountID: acct.ID,
	}, c.logger)
}

func (c *Client) accountURL(acct AccountInfo, suffix string) string {
	region := acct.Region
	if region == "" {
		region = c.cfg.Region
	}
	return withRegion(c.cfg.ClientURL, region) + "/users/current/accounts/" + url.PathEscape(acct.ID) + suffix
}

// doRequest sends an authenticated JSON request and returns the body of a
// 2xx response.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, reqBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("auth-token", c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// APIError is a non-2xx response from the terminal API.
type APIError struct {
	Status  int    `json:"-"`
	ID      int    `json:"id"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.Code, e.Message)
}

// Is maps API errors onto domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound
	case domain.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case domain.ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case domain.ErrQuotaExceeded:
		return e.Status == http.StatusTooManyRequests && strings.Contains(strings.ToLower(e.Message), "quota")
	}
	return false
}

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	apiErr := &APIError{}
	_ = json.Unmarshal(body, apiErr)
	apiErr.Status = statusCode
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

func withRegion(tmpl, region string) string {
	return strings.TrimRight(strings.ReplaceAll(tmpl, regionPlaceholder, region), "/")
}
