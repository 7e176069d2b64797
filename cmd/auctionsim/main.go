// Command auctionsim runs a local marketplace simulator: one auction lot,
// an optional scripted rival bidder, and the same wire format the autobid
// client speaks. Point the CLI at it with LELANG_API_URL,
// LELANG_AUTH_URL, and LELANG_BIDDING_URL all set to
// http://localhost:<port>/api/v1.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/sim"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "listen address")
		lotID       = flag.String("lot", "lot-sim-1", "auction lot id")
		lotName     = flag.String("name", "Simulated Lot", "auction lot name")
		limit       = flag.Int64("limit", 500_000, "opening limit value")
		increment   = flag.Int64("increment", 50_000, "bid increment")
		duration    = flag.Duration("duration", 10*time.Minute, "time until the auction closes")
		rivalBudget = flag.Int64("rival-budget", 0, "rival bidder budget (0 disables the rival)")
		clockSkew   = flag.Duration("clock-skew", 0, "artificial server clock offset")
		delay       = flag.Duration("delay", 0, "artificial latency on polling and bidding endpoints")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	endTime := time.Now().Add(*clockSkew).Add(*duration)
	auction := sim.NewAuction(*lotID, *lotName,
		decimal.NewFromInt(*limit), decimal.NewFromInt(*increment), endTime)

	hub := sim.NewHub()
	go hub.Run()

	server := sim.NewServer(auction, hub)
	server.ClockSkew = *clockSkew
	server.Delay = *delay

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *rivalBudget > 0 {
		rival := sim.NewRival(auction, server, decimal.NewFromInt(*rivalBudget))
		go rival.Run(ctx)
		slog.Info("rival bidder enabled", "id", rival.ID(), "budget", *rivalBudget)
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auctionsim listening",
			"addr", *addr,
			"lot", *lotID,
			"ends_at", endTime.Format(time.RFC3339))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down auctionsim...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("auctionsim stopped")
}
