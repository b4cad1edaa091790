package epg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/strimbot/strim"
	"github.com/onnwee/strimbot/telemetry"
)

const defaultBaseURL = "https://ollehtvplay.ktipmedia.co.kr/otp/v1"

// Client queries the OllehTV program guide. The upstream API takes POST
// bodies carrying the device credentials alongside the query fields and
// reports status through a SVC_RT field rather than HTTP status codes.
type Client struct {
	BaseURL    string
	DeviceID   string
	ServicePW  string
	HTTPClient *http.Client
}

func NewClient(deviceID, servicePW string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		DeviceID:   deviceID,
		ServicePW:  servicePW,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Program is one guide entry. Start and End carry KST wall-clock times; End
// is rolled into the next day when the finish time precedes the start.
type Program struct {
	ChannelNo   int
	ChannelName string
	Title       string
	Start       time.Time
	End         time.Time
}

// Rerun reports whether the entry is a repeat broadcast.
func (p Program) Rerun() bool {
	return strings.Contains(p.Title, "(재)")
}

type searchResponse struct {
	SvcRT string      `json:"SVC_RT"`
	Count json.Number `json:"SRCH_EPG_CNT"`
	List  []struct {
		ChannelNo   json.Number `json:"CHNL_NO"`
		ChannelName string      `json:"CHNL_NM"`
		Title       string      `json:"PRGM_NM"`
		Broadcast   string      `json:"BROAD_DATE_TM"`
		Finish      string      `json:"FIN_TM"`
	} `json:"SRCH_EPG_LIST"`
}

const (
	broadcastLayout = "2006.01.02 15:04"
	finishLayout    = "15:04"
)

// Search returns guide entries whose title matches keyword. An empty result
// set is not an error.
func (c *Client) Search(ctx context.Context, keyword string) ([]Program, error) {
	var resp searchResponse
	if err := c.post(ctx, "/epg/search", map[string]string{
		"SRCH_KWD": keyword,
	}, &resp); err != nil {
		return nil, err
	}
	programs := make([]Program, 0, len(resp.List))
	for _, e := range resp.List {
		start, err := time.ParseInLocation(broadcastLayout, e.Broadcast, strim.KST)
		if err != nil {
			return nil, fmt.Errorf("parse broadcast time %q: %w", e.Broadcast, err)
		}
		fin, err := time.ParseInLocation(finishLayout, e.Finish, strim.KST)
		if err != nil {
			return nil, fmt.Errorf("parse finish time %q: %w", e.Finish, err)
		}
		end := time.Date(start.Year(), start.Month(), start.Day(),
			fin.Hour(), fin.Minute(), 0, 0, strim.KST)
		if end.Before(start) {
			end = end.Add(24 * time.Hour)
		}
		chnl, _ := e.ChannelNo.Int64()
		programs = append(programs, Program{
			ChannelNo:   int(chnl),
			ChannelName: e.ChannelName,
			Title:       e.Title,
			Start:       start,
			End:         end,
		})
	}
	return programs, nil
}

// Validate checks the device credentials against the guide service.
func (c *Client) Validate(ctx context.Context) error {
	var resp struct {
		SvcRT string `json:"SVC_RT"`
	}
	return c.post(ctx, "/auth/validate", nil, &resp)
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string, out interface{}) error {
	payload := map[string]string{
		"DEVICE_ID": c.DeviceID,
		"SVC_PW":    c.ServicePW,
	}
	for k, v := range fields {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	telemetry.TimeFunc(telemetry.APIRequestDuration, func() {
		resp, err = c.httpClient().Do(req)
	})
	if err != nil {
		return fmt.Errorf("epg request %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read epg response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("epg request %s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode epg response: %w", err)
	}
	if rt := serviceResult(data); rt != "" && rt != "OK" && rt != "0000" {
		return fmt.Errorf("epg request %s: service result %s", path, rt)
	}
	return nil
}

func serviceResult(data []byte) string {
	var probe struct {
		SvcRT string `json:"SVC_RT"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.SvcRT
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
