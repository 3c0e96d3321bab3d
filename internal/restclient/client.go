// Package restclient is an HTTP client for the klingnetd status API.
package restclient

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/diagnostic"
	"github.com/Klingon-tech/klingnet-node/internal/intercom"
	"github.com/Klingon-tech/klingnet-node/internal/stats"
	"github.com/Klingon-tech/klingnet-node/pkg/types"
)

// DefaultURL is the status API address of a local node.
const DefaultURL = "http://127.0.0.1:8443"

const apiPrefix = "/api/v0"

// Client talks to one node.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the node at baseURL.
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, 10*time.Second)
}

// NewWithTimeout creates a client with a custom HTTP timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is returned when the node answers with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Tip is the chain tip as reported by the node.
type Tip struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height"`
	Slot   uint64     `json:"slot"`
	Time   time.Time  `json:"time"`
}

// NodeStats is the node/stats response. Fields the node has not produced
// yet are nil.
type NodeStats struct {
	Version    string                 `json:"version"`
	State      string                 `json:"state"`
	Diagnostic *diagnostic.Diagnostic `json:"diagnostic"`
	Tip        *Tip                   `json:"tip"`
	Stats      *stats.Snapshot        `json:"stats"`
	Leaders    int                    `json:"leaders"`
}

// LeaderLog is one leadership log entry.
type LeaderLog struct {
	Slot        uint64     `json:"slot"`
	Leader      string     `json:"leader"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Status      string     `json:"status"`
	BlockHash   types.Hash `json:"block_hash"`
	Height      uint64     `json:"height"`
	Fragments   int        `json:"fragments"`
	Reason      string     `json:"reason"`
}

// FragmentLog is one fragment log entry.
type FragmentLog struct {
	ID          types.Hash `json:"fragment_id"`
	Origin      string     `json:"received_from"`
	ReceivedAt  time.Time  `json:"received_at"`
	LastUpdated time.Time  `json:"last_updated_at"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason"`
	BlockHash   types.Hash `json:"block_hash"`
	BlockHeight uint64     `json:"block_height"`
}

// NodeStats fetches node/stats.
func (c *Client) NodeStats() (*NodeStats, error) {
	var out NodeStats
	if err := c.get("/node/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Peers fetches network/peers.
func (c *Client) Peers() ([]intercom.PeerInfo, error) {
	var out []intercom.PeerInfo
	if err := c.get("/network/peers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LeadersLogs fetches leaders/logs.
func (c *Client) LeadersLogs() ([]LeaderLog, error) {
	var out []LeaderLog
	if err := c.get("/leaders/logs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FragmentLogs fetches fragment/logs.
func (c *Client) FragmentLogs() ([]FragmentLog, error) {
	var out []FragmentLog
	if err := c.get("/fragment/logs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage submits a fragment payload and returns its id.
func (c *Client) SendMessage(payload []byte) (types.Hash, error) {
	var out struct {
		FragmentID types.Hash `json:"fragment_id"`
	}
	body := strings.NewReader(hex.EncodeToString(payload))
	if err := c.do(http.MethodPost, "/message", "text/plain", body, &out); err != nil {
		return types.Hash{}, err
	}
	return out.FragmentID, nil
}

// Shutdown asks the node to stop.
func (c *Client) Shutdown() error {
	return c.do(http.MethodPost, "/shutdown", "", bytes.NewReader(nil), nil)
}

func (c *Client) get(path string, result interface{}) error {
	return c.do(http.MethodGet, path, "", nil, result)
}

// do sends one request. If result is nil, the response body is discarded.
func (c *Client) do(method, path, contentType string, body io.Reader, result interface{}) error {
	req, err := http.NewRequest(method, c.base+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
