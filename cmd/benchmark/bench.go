package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/prism-router/internal/cli"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
	benchKey = "bench-key-12345"
)

var unaryResp = []byte(`{"id":"bench-123","model":"bench-model","choices":[{"message":{"content":"Hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1}}`)

const benchProviders = `{
  "text": [
    {"name": "flaky", "apiEndpoint": "http://localhost:%[1]d/flaky/v1/chat/completions", "keyEnvVariable": "BENCH_KEY", "priority": 10,
     "costPerPromptToken": 0.000001, "costPerCompletionToken": 0.000002},
    {"name": "steady", "apiEndpoint": "http://localhost:%[1]d/steady/v1/chat/completions", "keyEnvVariable": "BENCH_KEY", "priority": 5,
     "costPerPromptToken": 0.000001, "costPerCompletionToken": 0.000002}
  ]
}`

const benchConfig = `
server:
  env: production
  api_keys: ["%s"]
database:
  dsn: bench.db
rate_limit:
  requests_per_second: 0
router:
  max_retries: 1
  backoff:
    initial: 5ms
    max: 50ms
    jitter: 0
  default_chain: [flaky, steady]
providers_file: %s
log:
  level: error
  format: json
`

var mockCalls atomic.Int64

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	failRatio := flag.Float64("fail", 0.2, "Share of calls the flaky upstream answers with 429")
	dupRatio := flag.Float64("dup", 0, "Share of requests reusing an earlier id")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	flag.Parse()

	go startMockServer(*failRatio)

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	providersFile := "bench_providers.json"
	if err := os.WriteFile(providersFile, []byte(fmt.Sprintf(benchProviders, mockPort)), 0o644); err != nil {
		log.Fatalf("Failed to write providers: %v", err)
	}
	defer os.Remove(providersFile)

	configFile := "bench_config.yaml"
	if err := os.WriteFile(configFile, []byte(fmt.Sprintf(benchConfig, benchKey, providersFile)), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)

	fmt.Println("Starting application...")
	cmd := exec.Command("./bin/server")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CONFIG_FILE=%s", configFile),
		fmt.Sprintf("SERVER_PORT=%d", appPort),
		"BENCH_KEY=sk-bench",
		"NO_COLOR=1",
	)

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/health", appPort))

	done := make(chan struct{})
	go monitorResources(cmd.Process.Pid, done)

	routeURL := fmt.Sprintf("http://localhost:%d/api/route", appPort)
	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: Starting Chaos Monkey sidecar...")
		go startChaosMonkey(routeURL, min(max(*rate/10, 5), 50), done)
	}

	fmt.Printf("Running route benchmark: %s duration, %d req/s, %.0f%% upstream 429s\n", *duration, *rate, *failRatio*100)

	var idsMu sync.Mutex
	var ids []string
	targeter := func(t *vegeta.Target) error {
		id := uuid.NewString()
		idsMu.Lock()
		if len(ids) > 0 && rand.Float64() < *dupRatio {
			id = ids[rand.Intn(len(ids))]
		} else {
			ids = append(ids, id)
		}
		idsMu.Unlock()

		body, _ := json.Marshal(map[string]interface{}{
			"id":       id,
			"prompt":   "Hello",
			"priority": "normal",
			"userId":   "bench",
		})

		t.Method = http.MethodPost
		t.URL = routeURL
		t.Body = body
		t.Header = http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer " + benchKey},
		}
		return nil
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Printf("Upstream calls:  %d (%.2f per request)\n", mockCalls.Load(), float64(mockCalls.Load())/float64(max(metrics.Requests, 1)))
	fmt.Println("Status codes:")
	fmt.Println(cli.PrettyFormat(metrics.StatusCodes))
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if len(seen) == 5 {
				break
			}
			if !seen[msg] {
				fmt.Println(msg)
				seen[msg] = true
			}
		}
	}

	os.Remove("bench.db")
}

// startChaosMonkey sends route requests and abandons them after 1-200ms.
func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting Chaos Monkey with %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)

	for i := 0; i < concurrency; i++ {
		go func() {
			client := &http.Client{}
			for {
				select {
				case <-done:
					return
				default:
				}

				timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond
				ctx, cancel := context.WithTimeout(context.Background(), timeout)

				payload := fmt.Sprintf(`{"id": %q, "prompt": "Chaos Request"}`, uuid.NewString())
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+benchKey)

				if resp, err := client.Do(req); err == nil {
					resp.Body.Close()
				}
				cancel()

				time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
			}
		}()
	}
}

func startMockServer(failRatio float64) {
	mux := http.NewServeMux()

	mux.HandleFunc("/flaky/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		mockCalls.Add(1)
		if rand.Float64() < failRatio {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
			return
		}
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	mux.HandleFunc("/steady/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		mockCalls.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

func monitorResources(pid int, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (ps) ---")
	fmt.Printf("% -10s % -10s % -10s\n", "Time", "RSS(MB)", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "rss=,%cpu=").Output()
			if err != nil {
				continue
			}
			fields := strings.Fields(string(out))
			if len(fields) < 2 {
				continue
			}
			rss, _ := strconv.ParseFloat(fields[0], 64)
			cpu, _ := strconv.ParseFloat(fields[1], 64)

			fmt.Printf("% -10s % -10.2f % -10.2f\n", time.Now().Format("15:04:05"), rss/1024, cpu)
		}
	}
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}
