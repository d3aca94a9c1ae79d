// Package screens checks how many displays the candidate's machine has
// attached, via the screen detector backend.
package screens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
)

const ServiceName = "screens"

// ScreenResponse is the backend's answer. Warning is set when more than one
// screen is connected.
type ScreenResponse struct {
	ScreenCount int     `json:"screen_count"`
	Warning     *string `json:"warning"`
}

func (r ScreenResponse) HasWarning() bool {
	return r.Warning != nil && *r.Warning != ""
}

type Client struct {
	url  string
	http *http.Client
}

func NewClient(cfg config.ScreensConfig) *Client {
	return &Client{
		url:  cfg.URL,
		http: httpc.NewClient(cfg.Timeout),
	}
}

// Count fetches the current screen count.
func (c *Client) Count(ctx context.Context) (*ScreenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screens: %w", err)
	}
	defer resp.Body.Close()

	if err := httpc.CheckResponse(resp, ServiceName, "/screen-count"); err != nil {
		return nil, err
	}

	var out ScreenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("screens: decode response: %w", err)
	}
	return &out, nil
}
