package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// simulate drives concurrent bed contention against a running
// api-server: it registers a batch of patients, then races workers
// calling assign-best over the shared pool and reports how many won a
// bed, how many hit no_bed_available, and the latency distribution.
// Exactly one winner per bed is the property being exercised.

type simConfig struct {
	baseURL  string
	patients int
	workers  int
	bedType  string
}

type metrics struct {
	total     int64
	success   int64
	conflict  int64
	errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case err != nil || status >= 500:
		atomic.AddInt64(&m.errors, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	case status == http.StatusOK:
		atomic.AddInt64(&m.success, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) report() {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Printf("requests: total=%d success=%d no_bed=%d errors=%d\n",
		m.total, m.success, m.conflict, m.errors)

	if len(m.latencies) == 0 {
		return
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	p := func(q int) time.Duration {
		idx := len(sorted) * q / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	fmt.Printf("latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		sum/time.Duration(len(sorted)), sorted[0], sorted[len(sorted)-1], p(50), p(95))
}

func main() {
	cfg := simConfig{}
	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "api-server base URL")
	flag.IntVar(&cfg.patients, "patients", 40, "patients to register")
	flag.IntVar(&cfg.workers, "workers", 8, "concurrent assignment workers")
	flag.StringVar(&cfg.bedType, "bed-type", "ED", "bed type to contend for")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	log.Printf("registering %d patients", cfg.patients)
	ids := make([]string, 0, cfg.patients)
	for i := 0; i < cfg.patients; i++ {
		id, err := registerPatient(client, cfg.baseURL, rand.Intn(5)+1)
		if err != nil {
			log.Fatalf("register patient: %v", err)
		}
		ids = append(ids, id)
	}

	log.Printf("racing %d workers for %q beds", cfg.workers, cfg.bedType)
	m := &metrics{}
	work := make(chan string)
	var wg sync.WaitGroup

	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				start := time.Now()
				status, err := assignBest(client, cfg.baseURL, id, cfg.bedType)
				m.record(time.Since(start), status, err)
			}
		}()
	}

	for _, id := range ids {
		work <- id
	}
	close(work)
	wg.Wait()

	m.report()
}

func registerPatient(client *http.Client, baseURL string, esi int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"name":            fmt.Sprintf("Sim Patient %d", rand.Intn(100000)),
		"esi":             esi,
		"chief_complaint": "simulated complaint",
		"age":             rand.Intn(80) + 18,
		"gender":          "unspecified",
		"department":      "ED",
	})

	resp, err := client.Post(baseURL+"/api/patients", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func assignBest(client *http.Client, baseURL, patientID, bedType string) (int, error) {
	body, _ := json.Marshal(map[string]any{"bed_type": bedType})

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/patients/%s/bed/assign-best", baseURL, patientID),
		bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
