package sim

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/metrics"
)

// participant is one registered bidder identity.
type participant struct {
	ID    string
	PIN   string
	Email string
}

// Server exposes the simulated marketplace over HTTP. One process serves
// the auth, catalog, and bidding surfaces that the real marketplace splits
// across three hosts, so a client only needs one base URL.
type Server struct {
	auction *Auction
	hub     *Hub

	// ClockSkew shifts the reported server time, to exercise the
	// client's clock sync. Delay adds artificial latency to the polling
	// and bidding endpoints for benchmarking.
	ClockSkew time.Duration
	Delay     time.Duration

	mu           sync.Mutex
	participants map[string]*participant // bearer token → identity
}

// NewServer creates a simulator around one auction lot.
func NewServer(a *Auction, hub *Hub) *Server {
	return &Server{
		auction:      a,
		hub:          hub,
		participants: make(map[string]*participant),
	}
}

// Now returns the simulated server time.
func (s *Server) Now() time.Time {
	return time.Now().Add(s.ClockSkew)
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auctionsim"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/token/refresh", s.handleRefresh)
		r.Get("/me", s.handleMe)
		r.Get("/servertime", s.handleServerTime)

		r.Get("/pelaksanaan/daftar-status-lelangs", s.handleListing)
		r.Get("/pelaksanaan/{lotID}/status-lelang", s.handleLotDetail)
		r.Post("/pelaksanaan/lelang/mulai-sesi", s.handleStartSession)
		r.Get("/pelaksanaan/lelang/{lotID}/riwayat", s.handleHistory)
		r.Post("/pelaksanaan/lelang/pengajuan-penawaran", s.handleSubmit)
	})
	return r
}

// --- Auth surface ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	token := uuid.New().String()
	s.mu.Lock()
	s.participants[token] = &participant{
		ID:    uuid.New().String(),
		PIN:   "000000",
		Email: req.Email,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"code":          http.StatusOK,
		"token":         token,
		"refresh_token": uuid.New().String(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, token := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	// Reissue the same token; the simulator has no expiry.
	writeJSON(w, http.StatusOK, map[string]any{
		"token":         token,
		"refresh_token": uuid.New().String(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeEnvelope(w, http.StatusOK, "", map[string]string{
		"id":    p.ID,
		"nama":  "Simulated Bidder",
		"email": p.Email,
	})
}

// identify resolves the bearer token to a participant, auto-registering
// unknown tokens so hand-rolled test tokens also work.
func (s *Server) identify(r *http.Request) (*participant, string) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ""
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return nil, ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[token]
	if !ok {
		p = &participant{ID: uuid.New().String(), PIN: "000000"}
		s.participants[token] = p
	}
	return p, token
}

// --- Time and catalog surface ---

func (s *Server) handleServerTime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]string{
			"time": s.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	if p, _ := s.identify(r); p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeEnvelope(w, http.StatusOK, "", []map[string]string{{
		"lotLelangId":   s.auction.ID(),
		"namaLotLelang": s.auction.Name(),
		"status":        "berlangsung",
	}})
}

func (s *Server) handleLotDetail(w http.ResponseWriter, r *http.Request) {
	p, _ := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if chi.URLParam(r, "lotID") != s.auction.ID() {
		writeEnvelope(w, http.StatusNotFound, "lot not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", map[string]any{
		"lotLelang": map[string]any{
			"namaLotLelang":    s.auction.Name(),
			"kelipatanBid":     s.auction.Increment(),
			"nilaiLimit":       s.auction.Limit(),
			"tglSelesaiLelang": s.auction.EndTime().UTC().Format(time.RFC3339),
		},
		"peserta": map[string]string{
			"pinBidding": p.PIN,
			"pesertaId":  p.ID,
		},
	})
}

// --- Bidding surface ---

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	p, _ := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		AuctionID string `json:"auctionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AuctionID != s.auction.ID() {
		writeEnvelope(w, http.StatusNotFound, "lot not found", nil)
		return
	}
	s.auction.StartSession(p.ID)
	writeEnvelope(w, http.StatusOK, "session started", nil)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.simulateDelay()
	p, _ := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if chi.URLParam(r, "lotID") != s.auction.ID() {
		writeEnvelope(w, http.StatusNotFound, "lot not found", nil)
		return
	}
	history := s.auction.History()
	items := make([]map[string]any, 0, len(history))
	for _, b := range history {
		items = append(items, map[string]any{
			"bidAmount":     b.Amount,
			"userAuctionId": b.ParticipantID,
			"bidTime":       b.At.UTC().Format(time.RFC3339Nano),
		})
	}
	writeEnvelope(w, http.StatusOK, "", items)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.simulateDelay()
	p, _ := s.identify(r)
	if p == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		AuctionID string          `json:"auctionId"`
		BidAmount decimal.Decimal `json:"bidAmount"`
		Passkey   string          `json:"passkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.AuctionID != s.auction.ID() {
		writeEnvelope(w, http.StatusNotFound, "lot not found", nil)
		return
	}
	if req.Passkey != p.PIN {
		writeEnvelope(w, http.StatusForbidden, "wrong bidding PIN", nil)
		return
	}

	rec, err := s.auction.PlaceBid(p.ID, req.BidAmount, s.Now())
	switch {
	case err == nil:
		slog.Info("bid accepted",
			"participant", p.ID,
			"amount", rec.Amount.String())
		s.broadcastBid(rec)
		writeEnvelope(w, http.StatusOK, "bid accepted", nil)
	case err == ErrBidTooLow:
		writeEnvelope(w, http.StatusConflict, "bid below required amount", nil)
	case err == ErrAuctionClosed:
		writeEnvelope(w, http.StatusConflict, "auction has ended", nil)
	case err == ErrNoSession:
		writeEnvelope(w, http.StatusForbidden, "bidding session not started", nil)
	default:
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func (s *Server) broadcastBid(rec BidRecord) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(BidEvent{
		Type:          "bid",
		LotID:         s.auction.ID(),
		ParticipantID: rec.ParticipantID,
		Amount:        rec.Amount.String(),
		At:            rec.At.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) simulateDelay() {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
}

// writeEnvelope writes the marketplace's {code, message, data} wrapper.
// The HTTP status is always 200; the application code carries the result,
// matching the real API's behavior.
func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
