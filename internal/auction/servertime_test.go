package auction_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lelangbot/bid-engine/internal/auction"
)

func TestClockSync_OffsetFromBody(t *testing.T) {
	skew := 5 * time.Minute
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Add(skew).UTC().Format(time.RFC3339)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"time":"` + now + `"}}`))
	}))
	defer srv.Close()

	clock := auction.NewClock()
	if clock.Synced() {
		t.Fatal("clock reports synced before any sync")
	}
	if err := clock.Sync(context.Background(), srv.Client(), srv.URL+"/servertime"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !clock.Synced() {
		t.Error("clock not marked synced")
	}

	// RFC3339 without fractional seconds truncates up to a second; the
	// round trip adds a little more.
	diff := (clock.Offset() - skew).Abs()
	if diff > 2*time.Second {
		t.Errorf("offset = %s, want within 2s of %s", clock.Offset(), skew)
	}

	local := time.Now()
	if d := clock.Now().Sub(local.Add(skew)).Abs(); d > 2*time.Second {
		t.Errorf("Now() drifted %s from expected server time", d)
	}
}

func TestClockSync_FallsBackToDateHeader(t *testing.T) {
	skew := -3 * time.Minute
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().Add(skew).UTC().Format(http.TimeFormat))
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	clock := auction.NewClock()
	if err := clock.Sync(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := (clock.Offset() - skew).Abs(); diff > 2*time.Second {
		t.Errorf("offset = %s, want within 2s of %s", clock.Offset(), skew)
	}
}

func TestClockSync_NoTimestampAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil // suppress the automatic Date header
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	clock := auction.NewClock()
	if err := clock.Sync(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("Sync succeeded with no timestamp in the response")
	}
	if clock.Synced() {
		t.Error("clock marked synced after failed sync")
	}
}

func TestClockNowISO_Layout(t *testing.T) {
	clock := auction.NewClock()
	got := clock.NowISO()
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", got); err != nil {
		t.Errorf("NowISO %q not in bidTime layout: %v", got, err)
	}
}
