package strim

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const liveXML = `<?xml version="1.0"?><rtmp><server><application><name>strim</name><live><stream><active/></stream></live></application></server></rtmp>`
const idleXML = `<?xml version="1.0"?><rtmp><server><application><name>strim</name><live></live></application></server></rtmp>`

// probeServer serves whichever document the test currently selects.
type probeServer struct {
	*httptest.Server
	doc  atomic.Value
	fail atomic.Bool
}

func newProbeServer(t *testing.T) *probeServer {
	t.Helper()
	p := &probeServer{}
	p.doc.Store(idleXML)
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if got := r.URL.Query().Get("app"); got != "strim" {
			t.Errorf("app param = %q, want strim", got)
		}
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, p.doc.Load().(string))
	}))
	t.Cleanup(p.Close)
	return p
}

func TestPollEdgeTriggered(t *testing.T) {
	p := newProbeServer(t)
	w := NewWatcher(p.URL, "strim")
	ctx := context.Background()

	// Initial state is down; an idle probe is steady state.
	tr, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if tr != nil {
		t.Fatalf("Poll() on steady down state = %+v, want nil", tr)
	}

	// Stream goes live: exactly one transition.
	p.doc.Store(liveXML)
	tr, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if tr == nil || tr.Direction != WentLive {
		t.Fatalf("Poll() = %+v, want WentLive transition", tr)
	}
	if !w.Live() {
		t.Errorf("Live() = false after live poll")
	}

	// Same result again: suppressed.
	tr, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if tr != nil {
		t.Errorf("Poll() on steady live state = %+v, want nil", tr)
	}

	// Stream ends: one down transition.
	p.doc.Store(idleXML)
	tr, err = w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if tr == nil || tr.Direction != WentDown {
		t.Fatalf("Poll() = %+v, want WentDown transition", tr)
	}
}

func TestPollProbeErrorLeavesStateUnchanged(t *testing.T) {
	p := newProbeServer(t)
	w := NewWatcher(p.URL, "strim")
	ctx := context.Background()

	p.doc.Store(liveXML)
	if _, err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !w.Live() {
		t.Fatalf("precondition failed: not live")
	}

	p.fail.Store(true)
	tr, err := w.Poll(ctx)
	if err == nil {
		t.Fatalf("Poll() with failing probe expected error")
	}
	if tr != nil {
		t.Errorf("Poll() with failing probe = %+v, want nil transition", tr)
	}
	if !w.Live() {
		t.Errorf("probe failure must not change stored state")
	}

	// Next poll proceeds normally.
	p.fail.Store(false)
	if _, err := w.Poll(ctx); err != nil {
		t.Errorf("Poll() after recovery error = %v", err)
	}
}

func TestStatusDoesNotEmitTransition(t *testing.T) {
	p := newProbeServer(t)
	w := NewWatcher(p.URL, "strim")
	ctx := context.Background()

	p.doc.Store(liveXML)
	live, err := w.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !live {
		t.Errorf("Status() = false, want true")
	}

	// Status already absorbed the flip; the next poll sees steady state.
	tr, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if tr != nil {
		t.Errorf("Poll() after Status = %+v, want nil (no double announcement)", tr)
	}
}

func TestContainsActiveElementMalformed(t *testing.T) {
	p := newProbeServer(t)
	p.doc.Store("<rtmp><unclosed>")
	w := NewWatcher(p.URL, "strim")
	if _, err := w.Poll(context.Background()); err == nil {
		t.Errorf("expected parse error for malformed XML")
	}
}
