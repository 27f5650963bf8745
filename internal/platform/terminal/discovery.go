package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// LookupStatus is the outcome of one account discovery strategy.
type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupFound
	LookupError
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupError:
		return "error"
	}
	return "not_found"
}

// Lookup is the result of locating an account. Only a LookupFound result
// carries an Account; only a LookupError result carries Err.
type Lookup struct {
	Status   LookupStatus
	Account  AccountInfo
	Strategy string
	Err      error
}

func found(strategy string, acct AccountInfo) Lookup {
	return Lookup{Status: LookupFound, Account: acct, Strategy: strategy}
}

func notFound(strategy string) Lookup {
	return Lookup{Status: LookupNotFound, Strategy: strategy}
}

func lookupErr(strategy string, err error) Lookup {
	return Lookup{Status: LookupError, Strategy: strategy, Err: err}
}

// strategy is one way of locating an account.
type strategy struct {
	name string
	find func(ctx context.Context, accountID string) Lookup
}

// FindAccount locates an account by trying, in order: the cached region, the
// provisioning API, and a direct probe of every configured region. The first
// strategy that finds the account wins. If none finds it, the last error is
// reported, or LookupNotFound when every strategy came back empty.
func (c *Client) FindAccount(ctx context.Context, accountID string) Lookup {
	var lastErr Lookup
	for _, s := range c.strategies() {
		res := s.find(ctx, accountID)
		switch res.Status {
		case LookupFound:
			c.logger.InfoContext(ctx, "account located",
				slog.String("account_id", accountID),
				slog.String("strategy", s.name),
				slog.String("region", res.Account.Region),
			)
			if err := c.regions.put(accountID, res.Account.Region); err != nil {
				c.logger.WarnContext(ctx, "cache region", slog.String("error", err.Error()))
			}
			return res
		case LookupError:
			c.logger.WarnContext(ctx, "account lookup failed",
				slog.String("account_id", accountID),
				slog.String("strategy", s.name),
				slog.String("error", res.Err.Error()),
			)
			if errors.Is(res.Err, domain.ErrUnauthorized) {
				return res
			}
			lastErr = res
		}
		if ctx.Err() != nil {
			return lookupErr(s.name, ctx.Err())
		}
	}
	if lastErr.Err != nil {
		return lastErr
	}
	return notFound("all")
}

func (c *Client) strategies() []strategy {
	out := []strategy{
		{name: "cache", find: c.findCached},
		{name: "provisioning", find: c.findProvisioned},
	}
	seen := map[string]bool{}
	for _, region := range append([]string{c.cfg.Region}, c.cfg.FallbackRegions...) {
		if region == "" || seen[region] {
			continue
		}
		seen[region] = true
		out = append(out, strategy{name: "region:" + region, find: c.probeRegion(region)})
	}
	return out
}

func (c *Client) findCached(ctx context.Context, accountID string) Lookup {
	region, ok := c.regions.get(accountID)
	if !ok {
		return notFound("cache")
	}
	res := c.probeRegion(region)(ctx, accountID)
	res.Strategy = "cache"
	return res
}

func (c *Client) findProvisioned(ctx context.Context, accountID string) Lookup {
	acct, err := c.GetAccount(ctx, accountID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return notFound("provisioning")
	case err != nil:
		return lookupErr("provisioning", err)
	}
	if acct.Region == "" {
		acct.Region = c.cfg.Region
	}
	return found("provisioning", acct)
}

// probeRegion asks one region's client API for the account. A 404 means the
// account lives elsewhere.
func (c *Client) probeRegion(region string) func(context.Context, string) Lookup {
	name := "region:" + region
	return func(ctx context.Context, accountID string) Lookup {
		u := withRegion(c.cfg.ClientURL, region) + "/users/current/accounts/" + url.PathEscape(accountID) + "/account-information"
		_, err := c.doRequest(ctx, http.MethodGet, u, nil)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return notFound(name)
		case err != nil:
			return lookupErr(name, fmt.Errorf("terminal: probe %s: %w", region, err))
		}
		return found(name, AccountInfo{ID: accountID, Region: region})
	}
}

// regionCache remembers which region an account was found in, under
// <dir>/accounts/<id>.json.
type regionCache struct {
	dir string
	mu  sync.Mutex
}

type regionEntry struct {
	Region string `json:"region"`
}

func newRegionCache(dir string) *regionCache {
	return &regionCache{dir: dir}
}

func (r *regionCache) path(accountID string) string {
	return filepath.Join(r.dir, "accounts", filepath.Base(accountID)+".json")
}

func (r *regionCache) get(accountID string) (string, bool) {
	if r.dir == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := os.ReadFile(r.path(accountID))
	if err != nil {
		return "", false
	}
	var e regionEntry
	if err := json.Unmarshal(b, &e); err != nil || e.Region == "" {
		return "", false
	}
	return e.Region, true
}

func (r *regionCache) put(accountID, region string) error {
	if r.dir == "" || region == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.path(accountID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(regionEntry{Region: region})
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}
