// Command pollbench measures status-poll latency against a marketplace
// endpoint (usually a local auctionsim). It compares single-threaded
// polling with the concurrent staggered pattern the autobid engine uses,
// reporting the latency distribution and effective detection interval for
// each.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

type result struct {
	label     string
	latencies []time.Duration
	elapsed   time.Duration
	errors    int
}

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "marketplace base URL")
		lotID    = flag.String("lot", "lot-sim-1", "auction lot id")
		token    = flag.String("token", "pollbench", "bearer token")
		requests = flag.Int("requests", 200, "requests per scenario")
		workers  = flag.Int("workers", 3, "workers for the concurrent scenario")
		interval = flag.Duration("interval", 20*time.Millisecond, "polling interval per worker")
	)
	flag.Parse()

	httpc := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	url := fmt.Sprintf("%s/api/v1/pelaksanaan/lelang/%s/riwayat", *baseURL, *lotID)

	fmt.Printf("target: %s\n", url)
	fmt.Printf("[1] single worker, %d requests...\n", *requests)
	single := runScenario(httpc, url, *token, "single", *requests, 1, *interval)

	fmt.Printf("[2] %d staggered workers, %d requests...\n", *workers, *requests)
	concurrent := runScenario(httpc, url, *token, "concurrent", *requests, *workers, *interval)

	report(single, 1, *interval)
	report(concurrent, *workers, *interval)
}

// runScenario polls with the same worker loop shape the engine uses:
// phase-staggered workers, each sleeping its own interval between
// requests.
func runScenario(httpc *http.Client, url, token, label string, total, workers int, interval time.Duration) result {
	var (
		mu        sync.Mutex
		latencies []time.Duration
		errors    int
	)
	perWorker := total / workers
	if perWorker == 0 {
		perWorker = 1
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			time.Sleep(time.Duration(worker) * interval / time.Duration(workers))
			for i := 0; i < perWorker; i++ {
				lat, err := poll(httpc, url, token)
				mu.Lock()
				if err != nil {
					errors++
				} else {
					latencies = append(latencies, lat)
				}
				mu.Unlock()
				time.Sleep(interval)
			}
		}(w)
	}
	wg.Wait()

	return result{
		label:     label,
		latencies: latencies,
		elapsed:   time.Since(start),
		errors:    errors,
	}
}

func poll(httpc *http.Client, url, token string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := httpc.Do(req)
	lat := time.Since(start)
	if err != nil {
		return lat, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lat, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return lat, nil
}

func report(r result, workers int, interval time.Duration) {
	fmt.Printf("\n--- %s ---\n", r.label)
	if len(r.latencies) == 0 {
		fmt.Println("no successful requests")
		if r.errors > 0 {
			fmt.Printf("errors: %d\n", r.errors)
		}
		os.Exit(1)
	}

	sorted := make([]time.Duration, len(r.latencies))
	copy(sorted, r.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	mean := sum / time.Duration(len(sorted))

	var variance float64
	for _, l := range sorted {
		d := float64(l - mean)
		variance += d * d
	}
	jitter := time.Duration(math.Sqrt(variance / float64(len(sorted))))

	fmt.Printf("requests:           %d (%d errors)\n", len(sorted), r.errors)
	fmt.Printf("throughput:         %.1f req/s\n", float64(len(sorted))/r.elapsed.Seconds())
	fmt.Printf("latency avg:        %s\n", mean.Round(time.Microsecond))
	fmt.Printf("latency min/max:    %s / %s\n",
		sorted[0].Round(time.Microsecond), sorted[len(sorted)-1].Round(time.Microsecond))
	fmt.Printf("latency p50/p95/p99: %s / %s / %s\n",
		percentile(sorted, 0.50).Round(time.Microsecond),
		percentile(sorted, 0.95).Round(time.Microsecond),
		percentile(sorted, 0.99).Round(time.Microsecond))
	fmt.Printf("jitter (stddev):    %s\n", jitter.Round(time.Microsecond))
	fmt.Printf("effective interval: %s (interval %s / %d workers)\n",
		(interval / time.Duration(workers)).Round(time.Microsecond), interval, workers)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
