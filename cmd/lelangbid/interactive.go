package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lelangbot/bid-engine/internal/config"
)

// cmdInteractive runs the menu-driven session: a thin loop over the same
// client calls the one-shot commands use.
func cmdInteractive(ctx context.Context, cfg *config.Config) error {
	in := bufio.NewScanner(os.Stdin)

	for {
		fmt.Println("\n=============== lelangbid ===============")
		fmt.Println("1. profile")
		fmt.Println("2. my auctions")
		fmt.Println("3. lot status")
		fmt.Println("4. server time")
		fmt.Println("5. autobid")
		fmt.Println("0. quit")
		choice, ok := prompt(in, "choose")
		if !ok {
			return nil
		}

		var err error
		switch choice {
		case "0", "q":
			return nil
		case "1":
			err = cmdMe(ctx, cfg)
		case "2":
			err = cmdList(ctx, cfg)
		case "3":
			if lot, ok := prompt(in, "lot id"); ok && lot != "" {
				err = cmdStatus(ctx, cfg, []string{"-lot", lot})
			}
		case "4":
			err = cmdServerTime(ctx, cfg)
		case "5":
			err = interactiveAutobid(ctx, cfg, in)
		default:
			continue
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func interactiveAutobid(ctx context.Context, cfg *config.Config, in *bufio.Scanner) error {
	lotID, ok := prompt(in, "lot id")
	if !ok || lotID == "" {
		return nil
	}
	raw, ok := prompt(in, "max budget")
	if !ok {
		return nil
	}
	budget, err := strconv.ParseInt(strings.ReplaceAll(raw, ".", ""), 10, 64)
	if err != nil || budget <= 0 {
		return fmt.Errorf("invalid budget %q", raw)
	}

	fmt.Printf("autobid on %s, ceiling %s, interval %s, %d workers. confirm? [y/N] ",
		lotID, formatRupiah(decimal.NewFromInt(budget)), cfg.PollingInterval, cfg.Concurrency)
	confirm, ok := prompt(in, "")
	if !ok || !strings.EqualFold(confirm, "y") {
		fmt.Println("canceled")
		return nil
	}
	return runAutobid(ctx, cfg, lotID, decimal.NewFromInt(budget))
}

func prompt(in *bufio.Scanner, label string) (string, bool) {
	if label != "" {
		fmt.Printf("%s> ", label)
	}
	if !in.Scan() {
		return "", false
	}
	return strings.TrimSpace(in.Text()), true
}
