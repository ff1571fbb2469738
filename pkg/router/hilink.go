// Package router talks to a Huawei HiLink LTE router over its local HTTP
// API: session login, signal readout and band configuration.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// Client is a Huawei HiLink API client. Implements pkg.DeviceClient and
// pkg.BandController. A single session is shared across calls; expired
// sessions are re-established transparently once per call.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *logx.Logger

	mu            sync.Mutex
	authenticated bool
	lastAuth      time.Time
}

// NewClient creates a HiLink client for the router at ip.
func NewClient(ip, username, password string, timeout time.Duration, logger *logx.Logger) (*Client, error) {
	if ip == "" {
		return nil, fmt.Errorf("router ip is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL:  "http://" + ip,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		logger: logger,
	}, nil
}

// Login authenticates against the router. The password is hashed before it
// leaves the process; HiLink expects base64 over SHA-256.
func (c *Client) Login(ctx context.Context) error {
	sum := sha256.Sum256([]byte(c.password))
	hashed := base64.StdEncoding.EncodeToString(sum[:])

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", hashed)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/user/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrapTransport("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.authenticated = true
	c.lastAuth = time.Now()
	c.mu.Unlock()

	c.logger.Info("Router session established", "router", c.baseURL)
	return nil
}

// GetSignalMetrics reads the current signal readout. Returned values are
// raw device readings; scoring and plausibility checks happen upstream.
func (c *Client) GetSignalMetrics(ctx context.Context) (*pkg.SignalSample, error) {
	body, err := c.get(ctx, "/api/device/signal")
	if err != nil {
		return nil, err
	}

	var raw struct {
		Band   string    `json:"band"`
		RSRP   flexFloat `json:"rsrp"`
		RSRQ   flexFloat `json:"rsrq"`
		SINR   flexFloat `json:"sinr"`
		RSSI   flexFloat `json:"rssi"`
		CellID string    `json:"cell_id"`
		PLMN   string    `json:"plmn"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode signal response: %w", err)
	}

	return &pkg.SignalSample{
		Timestamp: time.Now(),
		Band:      raw.Band,
		RSRP:      float64(raw.RSRP),
		RSRQ:      float64(raw.RSRQ),
		SINR:      float64(raw.SINR),
		RSSI:      float64(raw.RSSI),
		CellID:    raw.CellID,
		PLMN:      raw.PLMN,
	}, nil
}

// GetActiveBand returns the band the modem is currently camped on.
func (c *Client) GetActiveBand(ctx context.Context) (string, error) {
	sample, err := c.GetSignalMetrics(ctx)
	if err != nil {
		return "", err
	}
	return sample.Band, nil
}

// GetBandConfiguration reads the current band enablement map.
func (c *Client) GetBandConfiguration(ctx context.Context) (map[string]bool, error) {
	body, err := c.get(ctx, "/api/device/band")
	if err != nil {
		return nil, err
	}

	var raw struct {
		Bands map[string]bool `json:"bands"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode band response: %w", err)
	}
	return raw.Bands, nil
}

// SetBandConfiguration applies a band enablement map. Bands the modem does
// not support surface as pkg.ErrUnsupportedBand.
func (c *Client) SetBandConfiguration(ctx context.Context, bands map[string]bool) error {
	for band, enabled := range bands {
		if enabled && !pkg.IsKnownBand(band) {
			return pkg.UnsupportedBandError(band)
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"action": "set_bands",
		"bands":  bands,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal band configuration: %w", err)
	}

	if _, err := c.post(ctx, "/api/device/band", payload); err != nil {
		return err
	}

	enabled := make([]string, 0, len(bands))
	for band, on := range bands {
		if on {
			enabled = append(enabled, band)
		}
	}
	c.logger.Info("Band configuration applied", "enabled", strings.Join(enabled, ","))
	return nil
}

// GetDeviceInfo reads the router's device information block.
func (c *Client) GetDeviceInfo(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.get(ctx, "/api/device/information")
	if err != nil {
		return nil, err
	}

	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode device information: %w", err)
	}
	return info, nil
}

// GetStatus returns client status for diagnostics.
func (c *Client) GetStatus() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := map[string]interface{}{
		"router":        c.baseURL,
		"authenticated": c.authenticated,
	}
	if !c.lastAuth.IsZero() {
		status["last_auth"] = c.lastAuth
	}
	return status
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// do performs one API call, re-authenticating once when the session has
// expired.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	data, err := c.doOnce(ctx, method, path, body)
	if errors.Is(err, pkg.ErrAuthExpired) {
		c.logger.Debug("Session expired, re-authenticating", "path", path)
		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("re-authentication failed: %w", err)
		}
		return c.doOnce(ctx, method, path, body)
	}
	return data, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapTransport(path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		c.mu.Lock()
		c.authenticated = false
		c.mu.Unlock()
		return nil, pkg.ErrAuthExpired
	default:
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	return data, nil
}

// wrapTransport maps connection-level failures to ErrDeviceUnreachable so
// callers can distinguish a dead device from a protocol error.
func (c *Client) wrapTransport(path string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", path, pkg.ErrDeviceUnreachable, err)
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no route to host") {
		return fmt.Errorf("%s: %w: %v", path, pkg.ErrDeviceUnreachable, err)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// flexFloat accepts numeric readings that some firmware versions report as
// strings with unit suffixes or ">=" prefixes.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(strings.Trim(string(data), `"`))
	s = strings.TrimPrefix(s, ">=")
	s = strings.TrimPrefix(s, "<=")
	s = strings.TrimSuffix(s, "dBm")
	s = strings.TrimSuffix(s, "dB")
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("unparseable signal reading %q", string(data))
	}
	*f = flexFloat(v)
	return nil
}
