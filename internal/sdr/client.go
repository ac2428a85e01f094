package sdr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL serves the relay config for Team Fortress 2.
const DefaultURL = "https://api.steampowered.com/ISteamApps/GetSDRConfig/v1?appid=440"

// maxDocumentSize bounds the response body; the live document is ~100 KiB.
const maxDocumentSize = 8 << 20

// Client is a thin HTTP client for the relay config endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the given config URL.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch downloads and parses the relay config document.
func (c *Client) Fetch(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch sdr config: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return Document{}, fmt.Errorf("fetch sdr config: %s: %s", res.Status, msg)
		}
		return Document{}, fmt.Errorf("fetch sdr config: %s", res.Status)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxDocumentSize))
	if err != nil {
		return Document{}, fmt.Errorf("fetch sdr config: %w", err)
	}
	return Parse(data)
}
