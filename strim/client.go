// Package strim talks to the stream schedule service and watches the live
// status probe. API requests go through an oauth.Client (client-credentials
// grant) with transparent refresh-and-retry.
package strim

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/strimbot/oauth"
)

type Client struct {
	BaseURL string // e.g. https://strim.pmrowla.com/api/v1
	SiteURL string // e.g. https://strim.pmrowla.com
	OAuth   *oauth.Client
}

func NewClient(baseURL, siteURL string, oc *oauth.Client) *Client {
	return &Client{BaseURL: baseURL, SiteURL: siteURL, OAuth: oc}
}

// Strim is one scheduled stream. Slug is the deterministic primary key used
// for the exists-then-create idempotency check.
type Strim struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"` // ISO-8601
	Duration    string `json:"duration"`
}

// Start parses the schedule timestamp.
func (s *Strim) Start() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse strim timestamp %q: %w", s.Timestamp, err)
	}
	return t, nil
}

type Channel struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Num  int    `json:"num"`
}

// NextStrim returns the first upcoming strim, or nil when nothing is scheduled.
func (c *Client) NextStrim(ctx context.Context) (*Strim, error) {
	var res struct {
		Count   int     `json:"count"`
		Results []Strim `json:"results"`
	}
	if err := c.OAuth.GetJSON(ctx, c.BaseURL+"/strims/?format=json", &res); err != nil {
		return nil, err
	}
	if res.Count == 0 || len(res.Results) == 0 {
		return nil, nil
	}
	return &res.Results[0], nil
}

// Channel fetches one channel by slug.
func (c *Client) Channel(ctx context.Context, slug string) (*Channel, error) {
	var ch Channel
	if err := c.OAuth.GetJSON(ctx, fmt.Sprintf("%s/channels/%s/?format=json", c.BaseURL, slug), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Channels lists all channels known to the schedule service.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	var res struct {
		Results []Channel `json:"results"`
	}
	if err := c.OAuth.GetJSON(ctx, c.BaseURL+"/channels/?format=json", &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// EnsureStrim creates s unless a strim with the same slug already exists.
// The GET-then-POST sequence makes creation idempotent: re-running the
// scheduler for the same program is a no-op. Returns whether a new strim
// was created.
func (c *Client) EnsureStrim(ctx context.Context, s Strim) (bool, error) {
	err := c.OAuth.GetJSON(ctx, fmt.Sprintf("%s/strims/%s/?format=json", c.BaseURL, s.Slug), nil)
	if err == nil {
		return false, nil
	}
	if !oauth.IsNotFound(err) {
		return false, err
	}
	if err := c.OAuth.PostJSON(ctx, c.BaseURL+"/strims/", s, nil); err != nil {
		return false, err
	}
	return true, nil
}

// StrimURL returns the public page for a strim slug.
func (c *Client) StrimURL(slug string) string {
	return fmt.Sprintf("%s/strims/%s/", c.SiteURL, slug)
}
