package docdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/types"
)

// seedWorkspace inserts a workspace with n requests spread over groups of ten.
func seedWorkspace(tb testing.TB, db *DB, wsID string, n int) {
	tb.Helper()
	ctx := context.Background()
	err := db.WithBatch(func() error {
		if _, err := db.Insert(ctx, newDoc(wsID, types.TypeWorkspace, "")); err != nil {
			return err
		}
		for g := 0; g*10 < n; g++ {
			groupID := fmt.Sprintf("fld_%s_%d", wsID, g)
			if _, err := db.Insert(ctx, newDoc(groupID, types.TypeRequestGroup, wsID)); err != nil {
				return err
			}
			for i := g * 10; i < n && i < (g+1)*10; i++ {
				req := newDoc(fmt.Sprintf("req_%s_%d", wsID, i), types.TypeRequest, groupID)
				req.Set("url", fmt.Sprintf("https://example.com/%d", i))
				if _, err := db.Insert(ctx, req); err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(tb, err)
}

type latencyStats struct {
	Min, P50, P95, Max time.Duration
	Queries            int
}

func computeLatencyStats(durations []time.Duration) latencyStats {
	if len(durations) == 0 {
		return latencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return latencyStats{
		Min:     sorted[0],
		P50:     sorted[len(sorted)*50/100],
		P95:     sorted[len(sorted)*95/100],
		Max:     sorted[len(sorted)-1],
		Queries: len(sorted),
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	ctx := context.Background()
	db := openTestDB(t)
	seedWorkspace(t, db, "wrk_load", 200)

	var (
		mu       sync.Mutex
		lastSeen = map[string]int{}
		outOfOrd int
	)
	db.Subscribe(func(records []ChangeRecord) {
		mu.Lock()
		defer mu.Unlock()
		for _, rec := range records {
			if rec.Doc.ID != "req_hot" {
				continue
			}
			n, _ := rec.Doc.Fields["n"].(int)
			if n < lastSeen[rec.Doc.ID] {
				outOfOrd++
			}
			lastSeen[rec.Doc.ID] = n
		}
	})

	const readers = 20
	const writes = 100
	var wg sync.WaitGroup
	errs := make(chan error, readers+1)
	durations := make(chan []time.Duration, readers)
	stop := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			var local []time.Duration
			defer func() { durations <- local }()
			for {
				select {
				case <-stop:
					return
				default:
				}
				start := time.Now()
				docs, err := db.WithDescendants(ctx, "wrk_load")
				local = append(local, time.Since(start))
				if err != nil {
					errs <- fmt.Errorf("reader %d: %w", reader, err)
					return
				}
				if len(docs) < 221 {
					errs <- fmt.Errorf("reader %d saw %d documents", reader, len(docs))
					return
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 1; n <= writes; n++ {
			doc := newDoc("req_hot", types.TypeRequest, "wrk_load")
			doc.Set("n", n)
			if _, err := db.Upsert(ctx, doc); err != nil {
				errs <- fmt.Errorf("write %d: %w", n, err)
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
	close(errs)
	close(durations)

	for err := range errs {
		t.Error(err)
	}
	var all []time.Duration
	for d := range durations {
		all = append(all, d...)
	}
	stats := computeLatencyStats(all)
	t.Logf("tree reads: %d, p50 %v, p95 %v, max %v", stats.Queries, stats.P50, stats.P95, stats.Max)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, outOfOrd, "change records must arrive in commit order")
	assert.Equal(t, writes, lastSeen["req_hot"])
}

func BenchmarkWithDescendants(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("docs=%d", n), func(b *testing.B) {
			db, err := Open(fmt.Sprintf("%s/bench.db", b.TempDir()))
			require.NoError(b, err)
			defer db.Close()
			seedWorkspace(b, db, "wrk_bench", n)

			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := db.WithDescendants(ctx, "wrk_bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkApplyBatch(b *testing.B) {
	db, err := Open(fmt.Sprintf("%s/bench.db", b.TempDir()))
	require.NoError(b, err)
	defer db.Close()
	seedWorkspace(b, db, "wrk_bench", 50)

	ctx := WithSyncOrigin(context.Background())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var batch Batch
		for j := 0; j < 10; j++ {
			doc := newDoc(fmt.Sprintf("req_wrk_bench_%d", j), types.TypeRequest, "wrk_bench")
			doc.Set("n", i)
			batch.Upserts = append(batch.Upserts, doc)
		}
		if err := db.ApplyBatch(ctx, batch); err != nil {
			b.Fatal(err)
		}
	}
}
