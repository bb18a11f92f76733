// Package loadtest drives a running gateway with chat-completion requests and
// summarises latency and throughput.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	KindLatency    = "latency"
	KindConcurrent = "concurrent"
	KindThroughput = "throughput"
)

var latencyPrompts = []string{
	"What is artificial intelligence?",
	"Explain machine learning in simple terms.",
	"Write a short poem about technology.",
	"What are the benefits of renewable energy?",
	"Describe the process of photosynthesis.",
}

// Result is the outcome of a single request.
type Result struct {
	Success    bool
	Latency    time.Duration
	Tokens     int
	StatusCode int
	Err        string
}

// TokensPerSecond uses whitespace-separated words as tokens.
func (r Result) TokensPerSecond() float64 {
	if r.Latency <= 0 {
		return 0
	}
	return float64(r.Tokens) / r.Latency.Seconds()
}

// Runner sends requests to one gateway. All runs share a RunID which is
// stamped on every request's X-Request-ID.
type Runner struct {
	BaseURL   string
	Model     string
	MaxTokens int
	// Pause between sequential requests of a throughput run.
	Pause time.Duration
	RunID string

	http *http.Client
	seq  int64
	mu   sync.Mutex
}

func NewRunner(baseURL string, timeout time.Duration) *Runner {
	return &Runner{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Model:     "gpt-oss-120b",
		MaxTokens: 100,
		Pause:     100 * time.Millisecond,
		RunID:     strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		http:      &http.Client{Timeout: timeout},
	}
}

func (r *Runner) nextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("lt_%s_%d", r.RunID, r.seq)
}

type completion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Do sends one buffered chat completion.
func (r *Runner) Do(ctx context.Context, prompt string) Result {
	body, _ := json.Marshal(map[string]any{
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"model":       r.Model,
		"max_tokens":  r.MaxTokens,
		"temperature": 0.7,
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", r.nextID())

	resp, err := r.http.Do(req)
	if err != nil {
		return Result{Latency: time.Since(start), Err: err.Error()}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, StatusCode: resp.StatusCode, Err: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Latency: latency, StatusCode: resp.StatusCode, Err: string(respBody)}
	}

	var c completion
	tokens := 0
	if json.Unmarshal(respBody, &c) == nil && len(c.Choices) > 0 {
		tokens = len(strings.Fields(c.Choices[0].Message.Content))
	}
	return Result{Success: true, Latency: latency, Tokens: tokens, StatusCode: resp.StatusCode}
}

// Latency sends n requests one after another. progress, if set, sees each
// result as it completes.
func (r *Runner) Latency(ctx context.Context, n int, progress func(i int, res Result)) Report {
	start := time.Now()
	results := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		prompt := fmt.Sprintf("%s (Request %d)", latencyPrompts[i%len(latencyPrompts)], i+1)
		res := r.Do(ctx, prompt)
		results = append(results, res)
		if progress != nil {
			progress(i+1, res)
		}
	}
	return r.summarize(KindLatency, results, time.Since(start))
}

// Concurrent runs workers in parallel, each sending perWorker sequential
// requests.
func (r *Runner) Concurrent(ctx context.Context, workers, perWorker int) (Report, error) {
	if workers < 1 || perWorker < 1 {
		return Report{}, fmt.Errorf("workers and per-worker requests must be positive")
	}

	results := make([]Result, workers*perWorker)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	start := time.Now()
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				prompt := fmt.Sprintf("Worker %d, Request %d: Explain quantum computing.", w, i+1)
				results[w*perWorker+i] = r.Do(gctx, prompt)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := r.summarize(KindConcurrent, results, time.Since(start))
	rep.Workers = workers
	return rep, nil
}

// Throughput sends sequential requests until d has elapsed.
func (r *Runner) Throughput(ctx context.Context, d time.Duration) Report {
	start := time.Now()
	deadline := start.Add(d)
	var results []Result
	for n := 1; time.Now().Before(deadline) && ctx.Err() == nil; n++ {
		prompt := fmt.Sprintf("Throughput test request %d: What is the meaning of life?", n)
		results = append(results, r.Do(ctx, prompt))
		if r.Pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.Pause):
			}
		}
	}
	return r.summarize(KindThroughput, results, time.Since(start))
}

// Report summarises one run.
type Report struct {
	Kind               string
	RunID              string
	TotalRequests      int
	Successful         int
	SuccessRate        float64
	Elapsed            time.Duration
	AvgLatency         time.Duration
	MedianLatency      time.Duration
	MinLatency         time.Duration
	MaxLatency         time.Duration
	TotalTokens        int
	AvgTokensPerSecond float64
	TokensPerSecond    float64
	RequestsPerSecond  float64
	Workers            int
	Error              string
}

func (r *Runner) summarize(kind string, results []Result, elapsed time.Duration) Report {
	rep := Summarize(kind, results, elapsed)
	rep.RunID = r.RunID
	return rep
}

// Summarize computes statistics over the successful results.
func Summarize(kind string, results []Result, elapsed time.Duration) Report {
	rep := Report{Kind: kind, TotalRequests: len(results), Elapsed: elapsed}

	var latencies []time.Duration
	var tpsSum float64
	for _, res := range results {
		if !res.Success {
			continue
		}
		latencies = append(latencies, res.Latency)
		rep.TotalTokens += res.Tokens
		tpsSum += res.TokensPerSecond()
	}
	rep.Successful = len(latencies)
	if rep.Successful == 0 {
		rep.Error = "All requests failed"
		return rep
	}

	rep.SuccessRate = float64(rep.Successful) / float64(rep.TotalRequests) * 100
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	rep.AvgLatency = sum / time.Duration(len(latencies))
	rep.MinLatency = latencies[0]
	rep.MaxLatency = latencies[len(latencies)-1]
	mid := len(latencies) / 2
	if len(latencies)%2 == 0 {
		rep.MedianLatency = (latencies[mid-1] + latencies[mid]) / 2
	} else {
		rep.MedianLatency = latencies[mid]
	}

	rep.AvgTokensPerSecond = tpsSum / float64(rep.Successful)
	if elapsed > 0 {
		rep.RequestsPerSecond = float64(rep.Successful) / elapsed.Seconds()
		rep.TokensPerSecond = float64(rep.TotalTokens) / elapsed.Seconds()
	}
	return rep
}

// Write prints a human readable report.
func (rep Report) Write(w io.Writer) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\n%s TEST RESULTS\n%s\n", rule, strings.ToUpper(rep.Kind), rule)
	if rep.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", rep.RunID)
	}
	fmt.Fprintf(w, "Total requests:    %d\n", rep.TotalRequests)
	fmt.Fprintf(w, "Successful:        %d\n", rep.Successful)
	if rep.Error != "" {
		fmt.Fprintf(w, "Error:             %s\n%s\n", rep.Error, rule)
		return
	}
	fmt.Fprintf(w, "Success rate:      %.1f%%\n", rep.SuccessRate)
	fmt.Fprintf(w, "Average latency:   %.2fs\n", rep.AvgLatency.Seconds())
	fmt.Fprintf(w, "Median latency:    %.2fs\n", rep.MedianLatency.Seconds())
	fmt.Fprintf(w, "Min latency:       %.2fs\n", rep.MinLatency.Seconds())
	fmt.Fprintf(w, "Max latency:       %.2fs\n", rep.MaxLatency.Seconds())
	fmt.Fprintf(w, "Avg tokens/sec:    %.1f\n", rep.AvgTokensPerSecond)
	if rep.Kind == KindThroughput {
		fmt.Fprintf(w, "Total tokens:      %d\n", rep.TotalTokens)
		fmt.Fprintf(w, "Tokens/sec:        %.1f\n", rep.TokensPerSecond)
	}
	if rep.Workers > 0 {
		fmt.Fprintf(w, "Workers:           %d\n", rep.Workers)
	}
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", rep.RequestsPerSecond)
	fmt.Fprintf(w, "Elapsed:           %.2fs\n", rep.Elapsed.Seconds())
	fmt.Fprintln(w, rule)
}
