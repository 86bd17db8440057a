package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	tokensCSV   string
	pinsCSV     string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64
	fail409       uint64 // lost CAS races / state conflicts
	fail4xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "list", "Workload type: list | reserve")
	flag.StringVar(&tokensCSV, "tokens", "", "Comma-separated bearer tokens, one per simulated user")
	flag.StringVar(&pinsCSV, "pins", "", "Comma-separated pin ids to contend on (reserve workload)")
}

func main() {
	flag.Parse()

	tokens := splitCSV(tokensCSV)
	pins := splitCSV(pinsCSV)
	if len(tokens) == 0 {
		log.Fatal("at least one -tokens entry is required")
	}
	if workload == "reserve" && len(pins) == 0 {
		log.Fatal("the reserve workload needs -pins")
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, tokens, pins)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, tokens, pins []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		token := tokens[rand.Intn(len(tokens))]

		var req *http.Request
		if workload == "reserve" {
			// All workers fight over a small pin set to measure how the
			// CAS on the pin row behaves under contention.
			pin := pins[rand.Intn(len(pins))]
			req, _ = http.NewRequest("POST", targetURL+"/api/v1/pins/"+pin+"/reserve", nil)
		} else {
			req, _ = http.NewRequest("GET", targetURL+"/api/v1/pins?lat=32.0809&lng=34.7806&radius=3", nil)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == 200:
			atomic.AddUint64(&success200, 1)
		case resp.StatusCode == 409:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f4xx := atomic.LoadUint64(&fail4xx)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := 0.0
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success":         s200,
		"aborts_conflict": f409,
		"abort_rate_pct":  abortRate,
		"rejected_4xx":    f4xx,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
