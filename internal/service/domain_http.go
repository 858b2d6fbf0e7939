package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/complygate/complygate/internal/config"
)

// HTTPDomain adapts an external data domain exposed over HTTP. The remote
// service implements four routes parameterized by user:
// GET /count, GET /size, GET /export, DELETE /data.
type HTTPDomain struct {
	key     string
	label   string
	icon    string
	baseURL string
	client  *http.Client
}

func NewHTTPDomain(cfg config.DomainConfig) *HTTPDomain {
	return &HTTPDomain{
		key:     cfg.Key,
		label:   cfg.Label,
		icon:    cfg.Icon,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *HTTPDomain) Key() string   { return d.key }
func (d *HTTPDomain) Label() string { return d.label }
func (d *HTTPDomain) Icon() string  { return d.icon }

func (d *HTTPDomain) endpoint(path, userID string) string {
	return fmt.Sprintf("%s%s?user_id=%s", d.baseURL, path, url.QueryEscape(userID))
}

func (d *HTTPDomain) getCount(ctx context.Context, path, userID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint(path, userID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("domain %s: %s returned %d", d.key, path, resp.StatusCode)
	}
	var body struct {
		Value int64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Value, nil
}

func (d *HTTPDomain) Count(ctx context.Context, userID string) (int64, error) {
	return d.getCount(ctx, "/count", userID)
}

func (d *HTTPDomain) Size(ctx context.Context, userID string) (int64, error) {
	return d.getCount(ctx, "/size", userID)
}

func (d *HTTPDomain) Export(ctx context.Context, userID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint("/export", userID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("domain %s: export returned %d", d.key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *HTTPDomain) Delete(ctx context.Context, userID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.endpoint("/data", userID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("domain %s: delete returned %d", d.key, resp.StatusCode)
	}
	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Deleted, nil
}

var _ DataDomain = (*HTTPDomain)(nil)
