// Package ogs is a read-only client for the online-go.com rating API. Requests
// go through an oauth.Client so an expired bearer token is refreshed and
// retried transparently.
package ogs

import (
	"context"
	"fmt"
	"net/url"

	"github.com/onnwee/strimbot/oauth"
)

type Client struct {
	BaseURL string // e.g. https://online-go.com/api/v1
	SiteURL string // e.g. https://online-go.com
	OAuth   *oauth.Client
}

func NewClient(baseURL, siteURL string, oc *oauth.Client) *Client {
	return &Client{BaseURL: baseURL, SiteURL: siteURL, OAuth: oc}
}

type Player struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Ranking  int    `json:"ranking"`
}

type Game struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Ranked  bool   `json:"ranked"`
	Players struct {
		Black Player `json:"black"`
		White Player `json:"white"`
	} `json:"players"`
}

// DisplayRank renders an OGS numeric ranking as a kyu/dan tier.
// Rankings below 30 are kyu grades counting down; 30 and above are dan.
func DisplayRank(val int) string {
	if val < 30 {
		return fmt.Sprintf("%d Kyu", 30-val)
	}
	return fmt.Sprintf("%d Dan", (val-30)+1)
}

// PlayerByID fetches a player by numeric id.
func (c *Client) PlayerByID(ctx context.Context, id int) (*Player, error) {
	var p Player
	if err := c.OAuth.GetJSON(ctx, fmt.Sprintf("%s/players/%d", c.BaseURL, id), &p); err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, &oauth.HTTPError{Status: 404, Body: "player not found"}
	}
	return &p, nil
}

// PlayerByName fetches a player by username. The API returns a paginated
// search result; the first match wins.
func (c *Client) PlayerByName(ctx context.Context, username string) (*Player, error) {
	var res struct {
		Count   int      `json:"count"`
		Results []Player `json:"results"`
	}
	u := fmt.Sprintf("%s/players?username=%s", c.BaseURL, url.QueryEscape(username))
	if err := c.OAuth.GetJSON(ctx, u, &res); err != nil {
		return nil, err
	}
	if res.Count == 0 || len(res.Results) == 0 {
		return nil, &oauth.HTTPError{Status: 404, Body: "player not found"}
	}
	return &res.Results[0], nil
}

// Game fetches a game by numeric id.
func (c *Client) Game(ctx context.Context, id int) (*Game, error) {
	var g Game
	if err := c.OAuth.GetJSON(ctx, fmt.Sprintf("%s/games/%d", c.BaseURL, id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// FormatPlayer renders the one-line chat summary for a player.
func (c *Client) FormatPlayer(p *Player) string {
	return fmt.Sprintf("%s (%s) | %s/user/view/%d", p.Username, DisplayRank(p.Ranking), c.SiteURL, p.ID)
}

// FormatGame renders the one-line chat summary for a game.
func (c *Client) FormatGame(g *Game) string {
	ranked := "Unranked"
	if g.Ranked {
		ranked = "Ranked"
	}
	black, white := g.Players.Black, g.Players.White
	return fmt.Sprintf("%s (%s) | %s (%s) vs %s (%s) | %s/game/%d",
		g.Name, ranked,
		black.Username, DisplayRank(black.Ranking),
		white.Username, DisplayRank(white.Ranking),
		c.SiteURL, g.ID)
}
