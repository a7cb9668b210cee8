// Command loadtest drives the spoiler-gate pipeline in process: concurrent
// readers mark progress and re-read their group feed against one shared
// content service. It reports mark throughput and latency percentiles so a
// storage or locking regression shows up before a deploy.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nospoilers/backend/internal/clock"
	"github.com/nospoilers/backend/internal/content"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/vault"
)

const loadGroup = "load-group"

type runConfig struct {
	Marks          int
	Concurrency    int
	Episodes       int
	ReportInterval time.Duration
}

type runStats struct {
	Total      uint64
	Forward    uint64
	Idempotent uint64
	Failed     uint64

	TotalDuration time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	AvgLatency    time.Duration
	P95Latency    time.Duration
	P99Latency    time.Duration
	PerSecond     float64
}

func main() {
	marks := flag.Int("marks", 5000, "Total mark-and-read transactions")
	concurrency := flag.Int("concurrency", 50, "Concurrent readers")
	episodes := flag.Int("episodes", 12, "Episodes in the seeded show")
	reportInterval := flag.Duration("report", 5*time.Second, "Progress reporting interval")
	flag.Parse()

	cfg := runConfig{
		Marks:          *marks,
		Concurrency:    *concurrency,
		Episodes:       *episodes,
		ReportInterval: *reportInterval,
	}

	log.Printf("🚀 Spoiler-gate load test: %d marks, %d readers, %d episodes",
		cfg.Marks, cfg.Concurrency, cfg.Episodes)

	stats, err := run(cfg)
	if err != nil {
		log.Fatalf("Load test setup failed: %v", err)
	}

	printResults(stats)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

func run(cfg runConfig) (*runStats, error) {
	ctx := context.Background()

	svc, err := buildService()
	if err != nil {
		return nil, err
	}
	mediaID, unitIDs, err := seed(ctx, svc, cfg)
	if err != nil {
		return nil, err
	}

	stats := &runStats{MinLatency: time.Hour}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	reportCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go report(reportCtx, stats, cfg.ReportInterval)

	txnChan := make(chan int, cfg.Marks)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			userID := fmt.Sprintf("reader-%d", workerID)
			for txnID := range txnChan {
				unitID := unitIDs[txnID%len(unitIDs)]
				markAndRead(ctx, svc, userID, mediaID, unitID, stats, &latencies, &latenciesMu)
			}
		}(w)
	}

	for i := 0; i < cfg.Marks; i++ {
		txnChan <- i
	}
	close(txnChan)
	wg.Wait()

	stats.TotalDuration = time.Since(start)
	stats.PerSecond = float64(stats.Total) / stats.TotalDuration.Seconds()

	latenciesMu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = average(latencies)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
	}
	latenciesMu.Unlock()

	return stats, nil
}

// buildService assembles a content service over the in-memory vault. Its
// logger is discarded so per-mark log lines do not dominate the run.
func buildService() (*content.Service, error) {
	store, err := vault.New("loadtest-vault-secret", kv.NewMemory(), nil)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return content.NewService(content.Config{}, content.Deps{
		Vault:  store,
		Clock:  clock.System{},
		IDs:    clock.UUIDSource{},
		Logger: logger,
	})
}

// seed creates one show, selects it for the shared group, and gates one
// post behind every episode so each forward mark unlocks something.
func seed(ctx context.Context, svc *content.Service, cfg runConfig) (string, []string, error) {
	item, err := svc.CreateMediaItem(ctx, content.CreateMediaItemInput{
		Kind:  content.KindShow,
		Title: "Load Test Season",
	})
	if err != nil {
		return "", nil, err
	}

	unitIDs := make([]string, 0, cfg.Episodes)
	for i := 1; i <= cfg.Episodes; i++ {
		unit, err := svc.CreateMediaUnit(ctx, content.CreateMediaUnitInput{
			MediaItemID:  item.ID,
			ReleaseOrder: i,
			Season:       1,
			Episode:      i,
		})
		if err != nil {
			return "", nil, err
		}
		unitIDs = append(unitIDs, unit.ID)
	}

	if _, err := svc.SelectGroupMedia(ctx, content.SelectGroupMediaInput{
		GroupID:     loadGroup,
		MediaItemID: item.ID,
		IsActive:    true,
	}); err != nil {
		return "", nil, err
	}

	for i, unitID := range unitIDs {
		if _, err := svc.CreatePost(ctx, content.CreatePostInput{
			GroupID:        loadGroup,
			MediaItemID:    item.ID,
			AuthorID:       "critic",
			PreviewText:    "Someone reacted",
			Body:           fmt.Sprintf("Hot take on episode %d", i+1),
			RequiredUnitID: unitID,
		}); err != nil {
			return "", nil, err
		}
	}

	return item.ID, unitIDs, nil
}

// markAndRead is one transaction: advance progress to a unit, then read
// the gated feed the way a client would after marking.
func markAndRead(
	ctx context.Context,
	svc *content.Service,
	userID, mediaID, unitID string,
	stats *runStats,
	latencies *[]time.Duration,
	latenciesMu *sync.Mutex,
) {
	start := time.Now()
	result, err := svc.MarkAsRead(ctx, content.MarkAsReadInput{
		UserID:      userID,
		GroupID:     loadGroup,
		MediaItemID: mediaID,
		UnitID:      unitID,
	})
	if err == nil {
		_, err = svc.GetFeedForUser(ctx, userID, loadGroup, mediaID)
	}
	latency := time.Since(start)

	atomic.AddUint64(&stats.Total, 1)
	switch {
	case err != nil:
		atomic.AddUint64(&stats.Failed, 1)
	case result.Idempotent:
		atomic.AddUint64(&stats.Idempotent, 1)
	default:
		atomic.AddUint64(&stats.Forward, 1)
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	latenciesMu.Unlock()
}

func report(ctx context.Context, stats *runStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			total := atomic.LoadUint64(&stats.Total)
			forward := atomic.LoadUint64(&stats.Forward)
			idempotent := atomic.LoadUint64(&stats.Idempotent)
			failed := atomic.LoadUint64(&stats.Failed)
			log.Printf("progress: total=%d forward=%d idempotent=%d failed=%d",
				total, forward, idempotent, failed)
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *runStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	fmt.Println("\n" + separator)
	fmt.Println("📊 SPOILER-GATE LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Transactions:           %d\n", stats.Total)
	fmt.Printf("Forward marks:          %d\n", stats.Forward)
	fmt.Printf("Idempotent marks:       %d\n", stats.Idempotent)
	fmt.Printf("Failed:                 %d\n", stats.Failed)
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f marks/sec\n", stats.PerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", stats.MinLatency)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator)

	if stats.PerSecond >= 200 {
		fmt.Println("✅ PASS: Throughput meets target (>200 marks/sec)")
	} else {
		fmt.Println("❌ FAIL: Throughput below target (<200 marks/sec)")
	}
	if stats.P95Latency < 50*time.Millisecond {
		fmt.Println("✅ PASS: P95 latency meets target (<50ms)")
	} else {
		fmt.Println("⚠️  WARN: P95 latency above target (>50ms)")
	}
	if stats.Failed == 0 {
		fmt.Println("✅ PASS: No failed transactions")
	} else {
		fmt.Println("❌ FAIL: Some transactions failed")
	}
	fmt.Println(separator + "\n")
}

func average(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
