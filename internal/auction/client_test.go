package auction_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/auction"
	"github.com/lelangbot/bid-engine/internal/auth"
	"github.com/lelangbot/bid-engine/internal/model"
)

func newAuthClient(t *testing.T, baseURL string) *auth.Client {
	t.Helper()
	store := auth.NewStore(filepath.Join(t.TempDir(), "token.json"))
	if err := store.Save(&auth.Token{AccessToken: "tok-abc", RefreshToken: "ref-abc"}); err != nil {
		t.Fatalf("save token: %v", err)
	}
	return auth.NewClient(baseURL, store, nil)
}

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

func testSession(t *testing.T, srv *httptest.Server, lot *auction.Lot) *auction.LotSession {
	t.Helper()
	ac := newAuthClient(t, srv.URL)
	client := auction.NewClient(srv.URL, srv.URL, ac, auction.NewClock(), srv.Client())
	return client.Bind(lot)
}

func TestFetchStatus_FoldsHistoryIntoSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pelaksanaan/lelang/lot-7/riwayat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("unexpected auth header %q", got)
		}
		// Newest first, the way the marketplace returns it.
		writeEnvelope(w, http.StatusOK, "", []map[string]any{
			{"bidAmount": 1_050_000, "userAuctionId": "rival-9"},
			{"bidAmount": 1_000_000, "userAuctionId": "me-1"},
			{"bidAmount": 950_000, "userAuctionId": "rival-9"},
		})
	}))
	defer srv.Close()

	session := testSession(t, srv, &auction.Lot{
		ID:            "lot-7",
		Increment:     decimal.NewFromInt(50_000),
		ParticipantID: "me-1",
		EndTime:       time.Now().Add(10 * time.Minute),
	})

	st, err := session.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if !st.HighestBid.Equal(decimal.NewFromInt(1_050_000)) {
		t.Errorf("highest bid = %s, want 1050000", st.HighestBid)
	}
	if st.HighestBidderID != "rival-9" {
		t.Errorf("leader = %q, want rival-9", st.HighestBidderID)
	}
	if !st.MyLastBid.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("my last bid = %s, want 1000000", st.MyLastBid)
	}
	if st.Phase != model.PhaseOpen {
		t.Errorf("phase = %s, want open", st.Phase)
	}
	if st.Latency <= 0 {
		t.Error("latency not measured")
	}
}

func TestFetchStatus_EmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "", []any{})
	}))
	defer srv.Close()

	session := testSession(t, srv, &auction.Lot{
		ID:        "lot-7",
		Increment: decimal.NewFromInt(50_000),
		EndTime:   time.Now().Add(10 * time.Minute),
	})

	st, err := session.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if !st.HighestBid.IsZero() || st.HighestBidderID != "" {
		t.Errorf("empty board expected, got %s by %q", st.HighestBid, st.HighestBidderID)
	}
}

func TestFetchStatus_PhaseFromDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "", []any{})
	}))
	defer srv.Close()

	cases := []struct {
		name string
		end  time.Time
		want model.Phase
	}{
		{"open", time.Now().Add(10 * time.Minute), model.PhaseOpen},
		{"ending soon", time.Now().Add(30 * time.Second), model.PhaseEndingSoon},
		{"closed", time.Now().Add(-time.Second), model.PhaseClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := testSession(t, srv, &auction.Lot{ID: "lot-7", EndTime: tc.end})
			st, err := session.FetchStatus(context.Background())
			if err != nil {
				t.Fatalf("FetchStatus: %v", err)
			}
			if st.Phase != tc.want {
				t.Errorf("phase = %s, want %s", st.Phase, tc.want)
			}
			if tc.want == model.PhaseClosed && st.Remaining != 0 {
				t.Errorf("closed lot remaining = %s, want 0", st.Remaining)
			}
		})
	}
}

func TestFetchStatus_NoTokenRefreshOnHotPath(t *testing.T) {
	refreshCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh" {
			refreshCalls++
			writeEnvelope(w, http.StatusOK, "", nil)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := testSession(t, srv, &auction.Lot{ID: "lot-7"})

	_, err := session.FetchStatus(context.Background())
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if refreshCalls != 0 {
		t.Errorf("refresh called %d times on the polling path", refreshCalls)
	}
}

func TestSubmitBid_SendsPasskeyAndServerTime(t *testing.T) {
	var got struct {
		AuctionID string          `json:"auctionId"`
		BidAmount decimal.Decimal `json:"bidAmount"`
		Passkey   string          `json:"passkey"`
		BidTime   string          `json:"bidTime"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pelaksanaan/lelang/pengajuan-penawaran" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode bid request: %v", err)
		}
		writeEnvelope(w, http.StatusOK, "", nil)
	}))
	defer srv.Close()

	session := testSession(t, srv, &auction.Lot{ID: "lot-7", PIN: "123456"})

	if err := session.SubmitBid(context.Background(), decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if got.AuctionID != "lot-7" {
		t.Errorf("auctionId = %q", got.AuctionID)
	}
	if !got.BidAmount.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("bidAmount = %s", got.BidAmount)
	}
	if got.Passkey != "123456" {
		t.Errorf("passkey = %q", got.Passkey)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", got.BidTime); err != nil {
		t.Errorf("bidTime %q not in expected layout: %v", got.BidTime, err)
	}
}

func TestSubmitBid_RejectionMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, "bid amount below current highest", nil)
	}))
	defer srv.Close()

	session := testSession(t, srv, &auction.Lot{ID: "lot-7"})

	err := session.SubmitBid(context.Background(), decimal.NewFromInt(900_000))
	if !errors.Is(err, auction.ErrBidRejected) {
		t.Fatalf("err = %v, want ErrBidRejected", err)
	}
}

func TestLotDetail_ParsesParametersAndIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pelaksanaan/lot-7/status-lelang" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, "", map[string]any{
			"lotLelang": map[string]any{
				"namaLotLelang":    "Toyota Avanza 2019",
				"kelipatanBid":     50_000,
				"nilaiLimit":       95_000_000,
				"tglSelesaiLelang": "2026-09-01 15:00:00",
			},
			"peserta": map[string]any{
				"pinBidding": "654321",
				"pesertaId":  "me-1",
			},
		})
	}))
	defer srv.Close()

	ac := newAuthClient(t, srv.URL)
	client := auction.NewClient(srv.URL, srv.URL, ac, auction.NewClock(), srv.Client())

	lot, err := client.LotDetail(context.Background(), "lot-7")
	if err != nil {
		t.Fatalf("LotDetail: %v", err)
	}
	if lot.Name != "Toyota Avanza 2019" {
		t.Errorf("name = %q", lot.Name)
	}
	if !lot.Increment.Equal(decimal.NewFromInt(50_000)) {
		t.Errorf("increment = %s", lot.Increment)
	}
	if !lot.LimitValue.Equal(decimal.NewFromInt(95_000_000)) {
		t.Errorf("limit = %s", lot.LimitValue)
	}
	if lot.PIN != "654321" || lot.ParticipantID != "me-1" {
		t.Errorf("identity = %q / %q", lot.PIN, lot.ParticipantID)
	}
	want := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	if !lot.EndTime.Equal(want) {
		t.Errorf("end time = %s, want %s", lot.EndTime, want)
	}
}

func TestLotDetail_RefreshesTokenOnce(t *testing.T) {
	detailCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-new"})
		case "/pelaksanaan/lot-7/status-lelang":
			detailCalls++
			if r.Header.Get("Authorization") != "Bearer tok-new" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeEnvelope(w, http.StatusOK, "", map[string]any{
				"lotLelang": map[string]any{"namaLotLelang": "Lot"},
				"peserta":   map[string]any{"pesertaId": "me-1"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	ac := newAuthClient(t, srv.URL)
	client := auction.NewClient(srv.URL, srv.URL, ac, auction.NewClock(), srv.Client())

	lot, err := client.LotDetail(context.Background(), "lot-7")
	if err != nil {
		t.Fatalf("LotDetail after refresh: %v", err)
	}
	if lot.Name != "Lot" {
		t.Errorf("name = %q", lot.Name)
	}
	if detailCalls != 2 {
		t.Errorf("detail endpoint hit %d times, want 2", detailCalls)
	}
}

func TestMyAuctions_PagesThroughListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		writeEnvelope(w, http.StatusOK, "", []map[string]string{
			{"lotLelangId": "lot-7", "namaLotLelang": "Toyota Avanza 2019", "status": "berlangsung"},
		})
	}))
	defer srv.Close()

	ac := newAuthClient(t, srv.URL)
	client := auction.NewClient(srv.URL, srv.URL, ac, auction.NewClock(), srv.Client())

	entries, err := client.MyAuctions(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("MyAuctions: %v", err)
	}
	if len(entries) != 1 || entries[0].LotID != "lot-7" {
		t.Errorf("entries = %+v", entries)
	}
}
