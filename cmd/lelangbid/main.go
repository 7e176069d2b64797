// Command lelangbid is the marketplace bidding CLI. It wraps a one-shot
// login, profile and status checks, an interactive menu, and the autobid
// engine that races rival bidders on a live auction lot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/auction"
	"github.com/lelangbot/bid-engine/internal/auth"
	"github.com/lelangbot/bid-engine/internal/config"
	"github.com/lelangbot/bid-engine/internal/engine"
	"github.com/lelangbot/bid-engine/internal/metrics"
	"github.com/lelangbot/bid-engine/internal/model"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: lelangbid <command> [flags]

Commands:
  login        log in with marketplace credentials
  logout       remove the stored token
  me           show the authenticated profile
  list         list your auctions
  status       show one lot's bidding status
  servertime   show the synced server time
  autobid      run the autobid engine on a lot
  interactive  menu-driven session
`)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "login":
		err = cmdLogin(ctx, cfg, os.Args[2:])
	case "logout":
		err = auth.NewStore(cfg.TokenPath).Clear()
	case "me":
		err = cmdMe(ctx, cfg)
	case "list":
		err = cmdList(ctx, cfg)
	case "status":
		err = cmdStatus(ctx, cfg, os.Args[2:])
	case "servertime":
		err = cmdServerTime(ctx, cfg)
	case "autobid":
		err = cmdAutobid(ctx, cfg, os.Args[2:])
	case "interactive":
		err = cmdInteractive(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// newClients builds the auth client and marketplace client from config.
func newClients(cfg *config.Config) (*auth.Client, *auction.Client) {
	store := auth.NewStore(cfg.TokenPath)
	ac := auth.NewClient(cfg.AuthBaseURL, store, &http.Client{Timeout: cfg.RequestTimeout})
	client := auction.NewClient(cfg.APIBaseURL, cfg.BiddingBaseURL, ac, auction.NewClock(), nil)
	return ac, client
}

func cmdLogin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	if *email == "" || *password == "" {
		return fmt.Errorf("login: -email and -password are required")
	}
	ac, _ := newClients(cfg)
	if err := ac.Login(ctx, *email, *password); err != nil {
		return err
	}
	fmt.Println("logged in, token stored at", cfg.TokenPath)
	return nil
}

func cmdMe(ctx context.Context, cfg *config.Config) error {
	ac, _ := newClients(cfg)
	profile, err := ac.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s>\nid: %s\n", profile.Name, profile.Email, profile.ID)
	return nil
}

func cmdList(ctx context.Context, cfg *config.Config) error {
	_, client := newClients(cfg)
	entries, err := client.MyAuctions(ctx, 1, 20)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no auctions")
		return nil
	}
	for i, e := range entries {
		fmt.Printf("%2d. %-40s %s  [%s]\n", i+1, truncate(e.Name, 40), e.LotID, e.Status)
	}
	return nil
}

func cmdStatus(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	lotID := fs.String("lot", "", "auction lot id")
	fs.Parse(args)
	if *lotID == "" {
		return fmt.Errorf("status: -lot is required")
	}

	_, client := newClients(cfg)
	if err := client.SyncClock(ctx); err != nil {
		slog.Warn("server time sync failed, using local clock", "err", err)
	}
	lot, err := client.LotDetail(ctx, *lotID)
	if err != nil {
		return err
	}
	st, err := client.Bind(lot).FetchStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("lot:        %s (%s)\n", lot.Name, lot.ID)
	fmt.Printf("limit:      %s\n", formatRupiah(lot.LimitValue))
	fmt.Printf("increment:  %s\n", formatRupiah(lot.Increment))
	if st.HighestBidderID == "" {
		fmt.Println("highest:    no bids yet")
	} else {
		leader := "rival"
		if st.LeaderIsSelf(lot.ParticipantID) {
			leader = "you"
		}
		fmt.Printf("highest:    %s (%s)\n", formatRupiah(st.HighestBid), leader)
	}
	fmt.Printf("remaining:  %s\n", engine.FormatCountdown(st.Remaining))
	return nil
}

func cmdServerTime(ctx context.Context, cfg *config.Config) error {
	_, client := newClients(cfg)
	if err := client.SyncClock(ctx); err != nil {
		return err
	}
	fmt.Printf("server time: %s (offset %s)\n",
		client.Clock().Now().Format("2006-01-02 15:04:05.000"),
		client.Clock().Offset().Round(time.Millisecond))
	return nil
}

func cmdAutobid(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("autobid", flag.ExitOnError)
	lotID := fs.String("lot", "", "auction lot id")
	budget := fs.Int64("budget", 0, "maximum spend ceiling")
	fs.DurationVar(&cfg.PollingInterval, "interval", cfg.PollingInterval, "polling interval per worker")
	fs.IntVar(&cfg.Concurrency, "workers", cfg.Concurrency, "parallel polling workers")
	fs.DurationVar(&cfg.SafetyMargin, "margin", cfg.SafetyMargin, "last-second duplicate-bid safety margin")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "local metrics listener address")
	fs.Parse(args)

	if *lotID == "" {
		return fmt.Errorf("autobid: -lot is required")
	}
	if *budget <= 0 {
		return fmt.Errorf("autobid: -budget must be positive")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return runAutobid(ctx, cfg, *lotID, decimal.NewFromInt(*budget))
}

// runAutobid prepares the lot session and runs the engine to completion.
func runAutobid(ctx context.Context, cfg *config.Config, lotID string, budget decimal.Decimal) error {
	_, client := newClients(cfg)

	if err := client.SyncClock(ctx); err != nil {
		slog.Warn("server time sync failed, using local clock", "err", err)
	}
	lot, err := client.LotDetail(ctx, lotID)
	if err != nil {
		return fmt.Errorf("fetch lot detail: %w", err)
	}
	if lot.ParticipantID == "" {
		return fmt.Errorf("not registered as a participant on lot %s", lotID)
	}
	if err := client.StartSession(ctx, lotID); err != nil {
		return fmt.Errorf("start bidding session: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	session := engine.NewSession(client.Bind(lot), engine.SessionConfig{
		SelfID:       lot.ParticipantID,
		Budget:       budget,
		Interval:     cfg.PollingInterval,
		Timeout:      cfg.FetchTimeout(),
		Workers:      cfg.Concurrency,
		SafetyMargin: cfg.SafetyMargin,
	})
	session.OnStatus = printStatusLine(lot)

	slog.Info("autobid starting",
		"lot", lotID,
		"budget", budget.String(),
		"interval", cfg.PollingInterval,
		"workers", cfg.Concurrency)

	summary := session.Run(ctx)
	fmt.Println() // end the status line
	printSummary(summary)
	if summary.Reason == model.StopError {
		return summary.Err
	}
	return nil
}

// printStatusLine renders a single refreshing terminal line during the
// session.
func printStatusLine(lot *auction.Lot) func(engine.StatusView) {
	return func(v engine.StatusView) {
		if !v.HasStatus {
			fmt.Fprint(os.Stderr, "\rwaiting for first snapshot...")
			return
		}
		leader := "rival"
		if v.Snapshot.LeaderIsSelf(lot.ParticipantID) {
			leader = "you"
		}
		fmt.Fprintf(os.Stderr, "\r[%s] highest %s (%s)  committed %s  bids %d  polls %d   ",
			engine.FormatCountdown(v.Remaining),
			formatRupiah(v.Snapshot.HighestBid),
			leader,
			formatRupiah(v.Committed),
			v.Bids,
			v.Requests)
	}
}

func printSummary(s *model.Summary) {
	fmt.Println("=============== session summary ===============")
	fmt.Printf("stop reason:    %s\n", s.Reason)
	fmt.Printf("duration:       %s\n", s.Duration.Round(time.Second))
	fmt.Printf("polls:          %d\n", s.Requests)
	fmt.Printf("bids submitted: %d\n", s.BidsSubmitted)
	fmt.Printf("committed:      %s\n", formatRupiah(s.Committed))
	fmt.Printf("my last bid:    %s\n", formatRupiah(s.MyLastBid))
	if s.AvgLatency > 0 {
		fmt.Printf("avg latency:    %s\n", s.AvgLatency.Round(time.Millisecond))
	}
	if s.Err != nil {
		fmt.Printf("error:          %v\n", s.Err)
	}
}

// serveMetrics exposes /metrics and /health on a local listener for the
// duration of the session.
func serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lelangbid"}`))
	})
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Warn("metrics listener stopped", "err", err)
	}
}

// formatRupiah renders an amount with Indonesian thousand separators,
// e.g. Rp 1.050.000.
func formatRupiah(d decimal.Decimal) string {
	raw := d.Round(0).String()
	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	var parts []string
	for len(raw) > 3 {
		parts = append([]string{raw[len(raw)-3:]}, parts...)
		raw = raw[:len(raw)-3]
	}
	parts = append([]string{raw}, parts...)

	out := "Rp " + strings.Join(parts, ".")
	if neg {
		out = "-" + out
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
