package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flowpipe/internal/model"
)

const defaultHTTPTimeout = 30 * time.Second

// Client wraps the Flow access node REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	onMalformed MalformedFunc
}

// NewClient creates a REST client rooted at baseURL (e.g. https://rest-testnet.onflow.org).
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("access url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse access url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// OnMalformed registers fn to receive event entries skipped by
// EventsInRange. The rest of the range is still returned.
func (c *Client) OnMalformed(fn MalformedFunc) {
	c.onMalformed = fn
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type blockHeader struct {
	ID     string `json:"id"`
	Height string `json:"height"`
}

type blockResponse struct {
	Header blockHeader `json:"header"`
}

// LatestHeight returns the latest sealed block height.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var blocks []blockResponse
	if err := c.get(ctx, "/v1/blocks", url.Values{"height": {"sealed"}}, &blocks); err != nil {
		return 0, err
	}
	if len(blocks) == 0 {
		return 0, fmt.Errorf("latest block: empty response")
	}
	height, err := parseUint(blocks[0].Header.Height)
	if err != nil {
		return 0, fmt.Errorf("latest block height: %w", err)
	}
	return height, nil
}

// EventsInRange returns every event of eventType in [start, end] with one request.
func (c *Client) EventsInRange(ctx context.Context, eventType string, start, end uint64) ([]model.ChainEvent, error) {
	if end < start {
		return nil, fmt.Errorf("end height %d is below start height %d", end, start)
	}
	query := url.Values{
		"type":         {eventType},
		"start_height": {strconv.FormatUint(start, 10)},
		"end_height":   {strconv.FormatUint(end, 10)},
	}

	var blocks []EventsBlock
	if err := c.get(ctx, "/v1/events", query, &blocks); err != nil {
		return nil, err
	}

	events := make([]model.ChainEvent, 0)
	for _, block := range blocks {
		converted, skipped, err := block.ChainEvents()
		if err != nil {
			// without a height none of the block's entries can be placed
			for _, entry := range block.Events {
				skipped = append(skipped, entry.malformed(0, err))
			}
		}
		for _, entry := range skipped {
			c.reportMalformed(entry)
		}
		events = append(events, converted...)
	}
	return events, nil
}

func (c *Client) reportMalformed(entry MalformedEntry) {
	if c.onMalformed != nil {
		c.onMalformed(entry)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, truncate(string(body), 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
