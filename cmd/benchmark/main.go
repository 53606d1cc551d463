// Benchmark drives the full application flow against a running vecina.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 1000
//	go run ./cmd/benchmark -csv applications.csv
//
// Each application is initiated, receives its POS half and its WhatsApp half,
// and is then polled for status. The tool reports throughput, latency and the
// category and review mix of the resulting assessments.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Application is one synthetic or CSV-sourced credit application.
type Application struct {
	StoreID         string
	Cedula          string
	Telefono        string
	KnowBuyer       int
	BuyFreq         int
	AvgPurchase     float64
	PsychOrganized  int
	PsychPlan       int
	DistanceKm      float64
	AddressVerified bool
}

type initiateResponse struct {
	Token string `json:"token"`
}

type statusResponse struct {
	Status string `json:"status"`
	Result *struct {
		Category      string  `json:"category"`
		CupoEstimated float64 `json:"cupo_estimated"`
	} `json:"result"`
	Review *struct {
		Status string `json:"status"`
	} `json:"review"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Completed   int64
	Failed      int64
	RateLimited int64
	Errors      int64
	Reviews     int64

	mu         sync.Mutex
	categories map[string]int
	latencies  []time.Duration
	cupoTotal  float64
}

func (m *Metrics) record(status *statusResponse, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, elapsed)
	if status.Result != nil {
		m.categories[status.Result.Category]++
		m.cupoTotal += status.Result.CupoEstimated
	}
}

func main() {
	csvPath := flag.String("csv", "", "CSV of applications (default: synthetic)")
	baseURL := flag.String("url", "http://localhost:8080", "vecina base URL")
	count := flag.Int("n", 1000, "number of synthetic applications")
	stores := flag.Int("stores", 50, "number of synthetic stores")
	workers := flag.Int("workers", 10, "number of concurrent workers")
	seed := flag.Uint64("seed", 42, "seed for synthetic data")
	verbose := flag.Bool("verbose", false, "print each application result")
	flag.Parse()

	fmt.Println("VECINA BENCHMARK - application flow")
	fmt.Printf("\nvecina URL:  %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: vecina not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure vecina is running:")
		fmt.Println("  go run ./cmd/vecina serve")
		os.Exit(1)
	}
	fmt.Println("vecina is healthy")

	var apps []Application
	if *csvPath != "" {
		var err error
		apps, err = readApplicationsCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		apps = generateApplications(*count, *stores, *seed)
	}
	fmt.Printf("Loaded %d applications\n", len(apps))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(apps, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generateApplications(n, stores int, seed uint64) []Application {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if stores <= 0 {
		stores = 1
	}

	apps := make([]Application, n)
	for i := range apps {
		apps[i] = Application{
			StoreID:         fmt.Sprintf("tienda-%03d", r.IntN(stores)),
			Cedula:          fmt.Sprintf("%010d", r.IntN(1_000_000_000)),
			Telefono:        fmt.Sprintf("+57300%07d", r.IntN(10_000_000)),
			KnowBuyer:       1 + r.IntN(5),
			BuyFreq:         1 + r.IntN(5),
			AvgPurchase:     float64(5_000 + r.IntN(150_000)),
			PsychOrganized:  1 + r.IntN(5),
			PsychPlan:       1 + r.IntN(5),
			DistanceKm:      r.ExpFloat64() * 5,
			AddressVerified: r.Float64() < 0.7,
		}
	}
	return apps
}

// readApplicationsCSV reads rows with the header
// store_id,cedula,telefono,know_buyer,buy_freq,avg_purchase,psych_organized,psych_plan,distance_km,address_verified
func readApplicationsCSV(path string) ([]Application, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"store_id", "cedula", "know_buyer", "buy_freq", "avg_purchase", "psych_organized", "psych_plan"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %s", name)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var apps []Application
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		know, _ := strconv.Atoi(field(record, "know_buyer"))
		freq, _ := strconv.Atoi(field(record, "buy_freq"))
		avg, _ := strconv.ParseFloat(field(record, "avg_purchase"), 64)
		org, _ := strconv.Atoi(field(record, "psych_organized"))
		plan, _ := strconv.Atoi(field(record, "psych_plan"))
		dist, _ := strconv.ParseFloat(field(record, "distance_km"), 64)
		verified, _ := strconv.ParseBool(field(record, "address_verified"))

		tel := field(record, "telefono")
		if tel == "" {
			tel = "+570000000000"
		}

		apps = append(apps, Application{
			StoreID:         field(record, "store_id"),
			Cedula:          field(record, "cedula"),
			Telefono:        tel,
			KnowBuyer:       know,
			BuyFreq:         freq,
			AvgPurchase:     avg,
			PsychOrganized:  org,
			PsychPlan:       plan,
			DistanceKm:      dist,
			AddressVerified: verified,
		})
	}
	return apps, nil
}

func runBenchmark(apps []Application, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{categories: make(map[string]int)}

	work := make(chan Application, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for app := range work {
				start := time.Now()
				status, err := runApplication(client, baseURL, app)
				elapsed := time.Since(start)

				switch {
				case err == errRateLimited:
					atomic.AddInt64(&metrics.RateLimited, 1)
					continue
				case err != nil:
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", app.StoreID, err)
					}
					continue
				}

				if status.Status == "completed" {
					atomic.AddInt64(&metrics.Completed, 1)
				} else {
					atomic.AddInt64(&metrics.Failed, 1)
				}
				if status.Review != nil && status.Review.Status == "REVIEW" {
					atomic.AddInt64(&metrics.Reviews, 1)
				}
				metrics.record(status, elapsed)

				if verbose && status.Result != nil {
					fmt.Printf("%-11s | know %d freq %d avg %9.0f dist %5.1f | %s %9.2f\n",
						app.StoreID, app.KnowBuyer, app.BuyFreq, app.AvgPurchase, app.DistanceKm,
						status.Result.Category, status.Result.CupoEstimated)
				}
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)
	wg.Wait()

	return metrics
}

var errRateLimited = fmt.Errorf("rate limited")

func runApplication(client *http.Client, baseURL string, app Application) (*statusResponse, error) {
	var initiated initiateResponse
	if err := post(client, baseURL+"/transactions/initiate", map[string]any{
		"store_id":     app.StoreID,
		"tendero_name": "benchmark",
	}, &initiated); err != nil {
		return nil, err
	}

	if err := post(client, baseURL+"/webhooks/pos", map[string]any{
		"token":            initiated.Token,
		"cedula_cliente":   app.Cedula,
		"nombre_cliente":   "Cliente " + app.Cedula,
		"know_buyer":       app.KnowBuyer,
		"buy_freq":         app.BuyFreq,
		"avg_purchase":     app.AvgPurchase,
		"distance_km":      app.DistanceKm,
		"address_verified": app.AddressVerified,
	}, nil); err != nil {
		return nil, fmt.Errorf("pos: %w", err)
	}

	if err := post(client, baseURL+"/webhooks/whatsapp", map[string]any{
		"token":           initiated.Token,
		"telefono":        app.Telefono,
		"psych_organized": app.PsychOrganized,
		"psych_plan":      app.PsychPlan,
	}, nil); err != nil {
		return nil, fmt.Errorf("whatsapp: %w", err)
	}

	resp, err := client.Get(baseURL + "/transactions/" + initiated.Token + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func post(client *http.Client, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	total := m.Completed + m.Failed
	fmt.Printf("\nFLOW\n")
	fmt.Printf("   Completed:     %d\n", m.Completed)
	fmt.Printf("   Failed:        %d\n", m.Failed)
	fmt.Printf("   Rate limited:  %d\n", m.RateLimited)
	fmt.Printf("   Errors:        %d\n", m.Errors)

	if total > 0 {
		fmt.Printf("\nASSESSMENTS\n")
		for _, cat := range []string{"A", "B", "C", "D", "E"} {
			n := m.categories[cat]
			fmt.Printf("   Category %s:    %6d (%5.2f%%)\n", cat, n, 100*float64(n)/float64(total))
		}
		fmt.Printf("   Avg cupo:      %.2f\n", m.cupoTotal/float64(total))
		fmt.Printf("   Review rate:   %.2f%%\n", 100*float64(m.Reviews)/float64(total))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		slices.Sort(m.latencies)
		var sum time.Duration
		for _, l := range m.latencies {
			sum += l
		}
		fmt.Printf("   Avg flow:        %v\n", (sum / time.Duration(len(m.latencies))).Round(time.Microsecond))
		fmt.Printf("   p95 flow:        %v\n", percentile(m.latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   Throughput:      %.2f applications/sec\n", float64(len(m.latencies))/duration.Seconds())
	}
	fmt.Println()
}
