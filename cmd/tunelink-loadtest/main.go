// Command tunelink-loadtest measures attestation throughput against Redis
// (or an embedded miniredis when no address is given). It seeds a batch of
// stored attestations, then runs a validate phase and a store phase under
// concurrency and prints latency percentiles per phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tunelink/tunelink/proof"
	"github.com/tunelink/tunelink/proofstore"
)

type seededProof struct {
	att     *proof.Attestation
	payload map[string]any
}

func main() {
	var (
		seeds       = flag.Int("seeds", 10000, "number of attestations to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "tlp", "proof key prefix")
	)
	flag.Parse()

	if *seeds <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "seeds, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	signer, err := proof.NewSigner(proof.Config{Secret: []byte("loadtest-secret")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "signer init failed: %v\n", err)
		os.Exit(1)
	}
	store := proofstore.NewRedisStore(client, *prefix)

	seeded := make([]seededProof, *seeds)
	fmt.Printf("seeding %d attestations...\n", *seeds)
	startSeed := time.Now()
	for i := 0; i < *seeds; i++ {
		subject := fmt.Sprintf("fid:%d:spotify:user-%d", i%500, i%500)
		payload := map[string]any{
			"seq":    i,
			"tracks": []any{"a", "b", "c"},
		}
		att, err := signer.Generate(subject, "/api/top-tracks", payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate failed: %v\n", err)
			os.Exit(1)
		}
		if _, err := store.Store(ctx, att, payload); err != nil {
			fmt.Fprintf(os.Stderr, "seed store failed: %v\n", err)
			os.Exit(1)
		}
		seeded[i] = seededProof{att: att, payload: payload}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, signer, store, seeded, *ops, *concurrency)
	storeStats := runStorePhase(ctx, signer, store, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("store", storeStats)
}

// runValidatePhase retrieves random stored records and re-validates them
// against their persisted payloads.
func runValidatePhase(ctx context.Context, signer *proof.Signer, store *proofstore.RedisStore, seeded []seededProof, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(seeded))
				t0 := time.Now()
				record, err := store.Retrieve(ctx, seeded[idx].att.ID)
				if err == nil {
					err = signer.Validate(record.Attestation, record.ResponseData)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runStorePhase generates fresh attestations and persists them.
func runStorePhase(ctx context.Context, signer *proof.Signer, store *proofstore.RedisStore, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				subject := fmt.Sprintf("fid:%d:spotify:user-%d", i%500, i%500)
				payload := map[string]any{"seq": i, "worker": worker}
				att, err := signer.Generate(subject, "/api/top-artists", payload)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err = store.Store(ctx, att, payload)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
