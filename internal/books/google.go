// Package books queries the public Google Books volumes API.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/books/v1"

// Volume is one search candidate.
type Volume struct {
	Title       string
	Authors     []string
	Description string
}

// Client searches book metadata by title.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client against the public API.
func NewClient() *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point at a fake server.
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// Search returns up to max candidates matching the title.
func (c *Client) Search(ctx context.Context, title string, max int) ([]Volume, error) {
	if max <= 0 {
		max = 5
	}
	endpoint := fmt.Sprintf("%s/volumes?q=intitle:%s&maxResults=%d",
		c.baseURL, url.QueryEscape(title), max)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("books api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("books api error: %s", resp.Status)
	}

	var body volumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("books api response: %w", err)
	}

	var volumes []Volume
	for _, item := range body.Items {
		volumes = append(volumes, Volume{
			Title:       item.VolumeInfo.Title,
			Authors:     item.VolumeInfo.Authors,
			Description: item.VolumeInfo.Description,
		})
	}
	return volumes, nil
}

type volumesResponse struct {
	Items []struct {
		VolumeInfo struct {
			Title       string   `json:"title"`
			Authors     []string `json:"authors"`
			Description string   `json:"description"`
		} `json:"volumeInfo"`
	} `json:"items"`
}
