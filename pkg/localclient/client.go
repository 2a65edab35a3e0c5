// Package localclient is the PeerStore that talks to the on-premises agent over HTTP.
package localclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

// SecretHeader carries the optional shared secret on every request.
const SecretHeader = "X-Auth-Token"

// Client reaches GET/POST /peers and PUT /peers/{id} on the local agent.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// New builds a client. An empty baseURL yields an unconfigured client whose calls
// all fail with store.ErrNotConfigured.
func New(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, e.g. for TLS settings.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// HTTPClientWithCA trusts the PEM certificates in caFile in addition to the system roots.
func HTTPClientWithCA(caFile string, timeout time.Duration) (*http.Client, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}

func (c *Client) Configured() bool { return c.baseURL != "" }

func (c *Client) FetchAll(ctx context.Context) ([]model.Peer, error) {
	var peers []model.Peer
	if err := c.do(ctx, http.MethodGet, "/peers", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *Client) Create(ctx context.Context, p model.Peer) error {
	return c.do(ctx, http.MethodPost, "/peers", p, nil)
}

func (c *Client) Update(ctx context.Context, p model.Peer) error {
	return c.do(ctx, http.MethodPut, "/peers/"+url.PathEscape(p.ID), p, nil)
}

// Ping checks that the agent answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("local server %w", store.ErrNotConfigured)
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("local server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(b))
		if detail == "" {
			return fmt.Errorf("%s %s: local server returned %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: local server returned %s body=%s", method, path, resp.Status, detail)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
