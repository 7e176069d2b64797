// Package auction is the HTTP client for the marketplace bidding API. It
// exposes the two operations the autobid engine consumes, status fetch
// and bid submission, plus the slow-path calls the CLI menu uses
// (auction detail, session start, listing).
package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/auth"
	"github.com/lelangbot/bid-engine/internal/model"
)

var (
	// ErrBidRejected means the marketplace refused the bid, typically
	// because another participant already leads at or above the amount.
	ErrBidRejected = errors.New("auction: bid rejected")

	// ErrNoData means the API answered 200 but carried no usable payload.
	ErrNoData = errors.New("auction: empty response payload")
)

// EndingSoonWindow is how much remaining time flips a lot from open to
// ending-soon.
const EndingSoonWindow = 60 * time.Second

// Client talks to the marketplace APIs. One Client is shared by all
// polling workers; its underlying http.Client pools keep-alive
// connections so concurrent requests never serialize on a single socket.
type Client struct {
	apiBaseURL     string
	biddingBaseURL string
	http           *http.Client
	auth           *auth.Client
	clock          *Clock
}

// NewClient builds a marketplace client. Pass nil for hc to get a pooled
// transport tuned for burst polling.
func NewClient(apiBaseURL, biddingBaseURL string, ac *auth.Client, clock *Clock, hc *http.Client) *Client {
	if hc == nil {
		transport := &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     30 * time.Second,
		}
		hc = &http.Client{Transport: transport}
	}
	return &Client{
		apiBaseURL:     apiBaseURL,
		biddingBaseURL: biddingBaseURL,
		http:           hc,
		auth:           ac,
		clock:          clock,
	}
}

// Clock returns the server-time clock used for bid timestamps.
func (c *Client) Clock() *Clock { return c.clock }

// SyncClock syncs the server-time clock against the marketplace.
func (c *Client) SyncClock(ctx context.Context) error {
	return c.clock.Sync(ctx, c.http, c.apiBaseURL+"/servertime")
}

// envelope is the common response wrapper of the marketplace APIs.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doJSON performs an authenticated request. When refresh is true a 401 is
// retried once after a token refresh; the polling and submission hot
// paths pass false, since acting on freshly swapped credentials mid-session
// is a correctness risk.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, payload any, refresh bool) (*envelope, error) {
	tok, err := c.auth.AccessToken()
	if err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if refresh {
			if rerr := c.auth.Refresh(ctx); rerr == nil {
				return c.doJSON(ctx, method, rawURL, payload, false)
			}
		}
		return nil, auth.ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auction: HTTP %d from %s", resp.StatusCode, rawURL)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

// Lot describes one auction lot plus this user's participation in it.
type Lot struct {
	ID            string
	Name          string
	Increment     decimal.Decimal
	LimitValue    decimal.Decimal
	EndTime       time.Time
	PIN           string
	ParticipantID string
}

type lotDetailPayload struct {
	LotLelang struct {
		Name       string          `json:"namaLotLelang"`
		Increment  decimal.Decimal `json:"kelipatanBid"`
		LimitValue decimal.Decimal `json:"nilaiLimit"`
		EndTime    string          `json:"tglSelesaiLelang"`
	} `json:"lotLelang"`
	Peserta struct {
		PIN           string `json:"pinBidding"`
		ParticipantID string `json:"pesertaId"`
	} `json:"peserta"`
}

// LotDetail fetches the lot's bidding parameters and this user's
// participant identity and PIN.
func (c *Client) LotDetail(ctx context.Context, lotID string) (*Lot, error) {
	env, err := c.doJSON(ctx, http.MethodGet,
		c.apiBaseURL+"/pelaksanaan/"+url.PathEscape(lotID)+"/status-lelang", nil, true)
	if err != nil {
		return nil, err
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("lot detail: %s", env.Message)
	}
	var payload lotDetailPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode lot detail: %w", err)
	}

	lot := &Lot{
		ID:            lotID,
		Name:          payload.LotLelang.Name,
		Increment:     payload.LotLelang.Increment,
		LimitValue:    payload.LotLelang.LimitValue,
		PIN:           payload.Peserta.PIN,
		ParticipantID: payload.Peserta.ParticipantID,
	}
	if raw := payload.LotLelang.EndTime; raw != "" {
		t, err := parseLotTime(raw)
		if err != nil {
			return nil, fmt.Errorf("parse lot end time %q: %w", raw, err)
		}
		lot.EndTime = t
	}
	return lot, nil
}

func parseLotTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}

// StartSession opens a bidding session for the lot, which the marketplace
// requires before any bid is accepted.
func (c *Client) StartSession(ctx context.Context, lotID string) error {
	env, err := c.doJSON(ctx, http.MethodPost,
		c.biddingBaseURL+"/pelaksanaan/lelang/mulai-sesi",
		map[string]string{"auctionId": lotID}, true)
	if err != nil {
		return err
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("start session: %s", env.Message)
	}
	return nil
}

// ListingEntry is one row of the user's auction list.
type ListingEntry struct {
	LotID  string `json:"lotLelangId"`
	Name   string `json:"namaLotLelang"`
	Status string `json:"status"`
}

// MyAuctions lists the auctions the user participates in.
func (c *Client) MyAuctions(ctx context.Context, page, limit int) ([]ListingEntry, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	env, err := c.doJSON(ctx, http.MethodGet,
		c.apiBaseURL+"/pelaksanaan/daftar-status-lelangs?"+q.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("auction list: %s", env.Message)
	}
	var entries []ListingEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, fmt.Errorf("decode auction list: %w", err)
	}
	return entries, nil
}

// Bind pairs the client with one lot, producing the session handle the
// autobid engine polls and bids through.
func (c *Client) Bind(lot *Lot) *LotSession {
	return &LotSession{client: c, lot: lot}
}

// LotSession is an authenticated channel to one auction lot. It implements
// the engine's Fetcher and Sender interfaces.
type LotSession struct {
	client *Client
	lot    *Lot
}

// Lot returns the bound lot.
func (s *LotSession) Lot() *Lot { return s.lot }

type historyItem struct {
	BidAmount     decimal.Decimal `json:"bidAmount"`
	UserAuctionID string          `json:"userAuctionId"`
}

// FetchStatus reads the lot's bid history and folds it into a status
// snapshot: leading bid and bidder from the newest entry, this user's last
// bid from the first own entry, remaining time from the lot deadline
// against the synced server clock. Never refreshes tokens; a 401 here is
// fatal to the session.
func (s *LotSession) FetchStatus(ctx context.Context) (*model.AuctionStatus, error) {
	start := time.Now()
	env, err := s.client.doJSON(ctx, http.MethodGet,
		s.client.biddingBaseURL+"/pelaksanaan/lelang/"+url.PathEscape(s.lot.ID)+"/riwayat",
		nil, false)
	if err != nil {
		return nil, err
	}
	observed := time.Now()

	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrNoData, env.Message)
	}

	var items []historyItem
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, fmt.Errorf("decode bid history: %w", err)
		}
	}

	st := &model.AuctionStatus{
		AuctionID:    s.lot.ID,
		MinIncrement: s.lot.Increment,
		ObservedAt:   observed,
		Latency:      observed.Sub(start),
	}
	if len(items) > 0 {
		st.HighestBid = items[0].BidAmount
		st.HighestBidderID = items[0].UserAuctionID
		for _, item := range items {
			if item.UserAuctionID == s.lot.ParticipantID {
				st.MyLastBid = item.BidAmount
				break // history is newest-first
			}
		}
	}

	remaining, phase := s.remaining()
	st.Remaining = remaining
	st.Phase = phase
	return st, nil
}

// remaining computes time left on the lot clock using server time.
func (s *LotSession) remaining() (time.Duration, model.Phase) {
	if s.lot.EndTime.IsZero() {
		return 0, model.PhaseOpen
	}
	rem := s.lot.EndTime.Sub(s.client.clock.Now())
	switch {
	case rem <= 0:
		return 0, model.PhaseClosed
	case rem <= EndingSoonWindow:
		return rem, model.PhaseEndingSoon
	default:
		return rem, model.PhaseOpen
	}
}

type submitRequest struct {
	AuctionID string          `json:"auctionId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
	Passkey   string          `json:"passkey"`
	BidTime   string          `json:"bidTime"`
}

// SubmitBid places a bid on the lot, stamped with the synced server time.
// A non-OK application code maps to ErrBidRejected; transport errors pass
// through for the caller to treat as ambiguous.
func (s *LotSession) SubmitBid(ctx context.Context, amount decimal.Decimal) error {
	env, err := s.client.doJSON(ctx, http.MethodPost,
		s.client.biddingBaseURL+"/pelaksanaan/lelang/pengajuan-penawaran",
		submitRequest{
			AuctionID: s.lot.ID,
			BidAmount: amount,
			Passkey:   s.lot.PIN,
			BidTime:   s.client.clock.NowISO(),
		}, false)
	if err != nil {
		return err
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrBidRejected, env.Message)
	}
	return nil
}
