package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Clock tracks the offset between the local clock and the marketplace
// server clock. Bid timestamps and the countdown both use server time so a
// skewed local clock cannot misjudge the auction deadline.
type Clock struct {
	mu     sync.Mutex
	offset time.Duration
	synced bool
}

// NewClock returns an unsynced clock. Until Sync succeeds, Now falls back
// to local time.
func NewClock() *Clock {
	return &Clock{}
}

type serverTimeResponse struct {
	Time string `json:"time"`
	Data struct {
		Time string `json:"time"`
	} `json:"data"`
}

// Sync fetches the server time endpoint and records the offset, estimating
// the moment the server produced its reading as halfway through the round
// trip. Falls back to the Date response header when the body is not
// parseable.
func (c *Clock) Sync(ctx context.Context, hc *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build server time request: %w", err)
	}

	before := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("server time request: %w", err)
	}
	defer resp.Body.Close()
	rtt := time.Since(before)
	localEstimate := before.Add(rtt / 2)

	serverTime, err := parseServerTime(resp)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.offset = serverTime.Sub(localEstimate)
	c.synced = true
	c.mu.Unlock()
	return nil
}

func parseServerTime(resp *http.Response) (time.Time, error) {
	var body serverTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		raw := body.Data.Time
		if raw == "" {
			raw = body.Time
		}
		if raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t, nil
			}
		}
	}
	// Fallback: Date header, second precision.
	if date := resp.Header.Get("Date"); date != "" {
		if t, err := http.ParseTime(date); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("server time: no usable timestamp in response")
}

// Now returns the current server time estimate.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// NowISO formats the server time the way the bidding API expects for the
// bidTime field, e.g. 2026-01-11T13:03:12.967Z.
func (c *Clock) NowISO() string {
	return c.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Synced reports whether Sync has succeeded at least once.
func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// Offset returns the current server-minus-local offset.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}
