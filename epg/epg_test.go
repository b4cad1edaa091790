package epg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/strimbot/strim"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("device-1", "0000")
	c.BaseURL = srv.URL
	return c
}

func TestSearchParsesPrograms(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/epg/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(`{
			"SVC_RT": "OK",
			"SRCH_EPG_CNT": "2",
			"SRCH_EPG_LIST": [
				{
					"CHNL_NO": "27",
					"CHNL_NM": "Mnet",
					"PRGM_NM": "M COUNTDOWN",
					"BROAD_DATE_TM": "2026.09.03 18:00",
					"FIN_TM": "19:30"
				},
				{
					"CHNL_NO": "27",
					"CHNL_NM": "Mnet",
					"PRGM_NM": "M COUNTDOWN (재)",
					"BROAD_DATE_TM": "2026.09.03 23:30",
					"FIN_TM": "01:00"
				}
			]
		}`))
	})

	programs, err := c.Search(context.Background(), "M COUNTDOWN")
	if err != nil {
		t.Fatal(err)
	}
	if gotBody["DEVICE_ID"] != "device-1" || gotBody["SVC_PW"] != "0000" {
		t.Errorf("credentials not sent: %v", gotBody)
	}
	if gotBody["SRCH_KWD"] != "M COUNTDOWN" {
		t.Errorf("keyword not sent: %v", gotBody)
	}
	if len(programs) != 2 {
		t.Fatalf("got %d programs, want 2", len(programs))
	}

	p := programs[0]
	if p.ChannelNo != 27 || p.ChannelName != "Mnet" {
		t.Errorf("channel = %d %q", p.ChannelNo, p.ChannelName)
	}
	wantStart := time.Date(2026, 9, 3, 18, 0, 0, 0, strim.KST)
	if !p.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", p.Start, wantStart)
	}
	if got := p.End.Sub(p.Start); got != 90*time.Minute {
		t.Errorf("duration = %v, want 90m", got)
	}
	if p.Rerun() {
		t.Error("live broadcast flagged as rerun")
	}

	// Second entry finishes past midnight and is a rerun.
	late := programs[1]
	if got := late.End.Sub(late.Start); got != 90*time.Minute {
		t.Errorf("rolled-over duration = %v, want 90m", got)
	}
	if late.End.Day() != 4 {
		t.Errorf("end day = %d, want rollover to the 4th", late.End.Day())
	}
	if !late.Rerun() {
		t.Error("rerun not detected")
	}
}

func TestSearchEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"SVC_RT": "OK", "SRCH_EPG_CNT": "0", "SRCH_EPG_LIST": []}`))
	})
	programs, err := c.Search(context.Background(), "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if len(programs) != 0 {
		t.Errorf("got %d programs, want 0", len(programs))
	}
}

func TestSearchServiceError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"SVC_RT": "9999", "SRCH_EPG_CNT": "0"}`))
	})
	if _, err := c.Search(context.Background(), "x"); err == nil {
		t.Error("expected service result error")
	}
}

func TestSearchHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := c.Search(context.Background(), "x"); err == nil {
		t.Error("expected status error")
	}
}

func TestValidate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/validate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"SVC_RT": "OK"}`))
	})
	if err := c.Validate(context.Background()); err != nil {
		t.Fatal(err)
	}
}
