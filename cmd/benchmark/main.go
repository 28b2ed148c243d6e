package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aigoflow/detection-service/pkg/client"
)

func main() {
	var (
		url         = flag.String("url", "http://localhost:8000", "detection service base URL")
		imagePath   = flag.String("image", "", "image file to send")
		conf        = flag.Float64("conf", 0.25, "confidence threshold")
		requests    = flag.Int("n", 50, "number of requests")
		concurrency = flag.Int("concurrency", 1, "parallel requests")
		batchSize   = flag.Int("batch", 0, "use /predict_batch with this many copies instead of /predict")
	)
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("missing -image")
	}
	data, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Fatalf("read image: %v", err)
	}

	c := client.NewHTTPClient(*url)
	ctx := context.Background()

	if err := c.Warmup(ctx); err != nil {
		log.Fatalf("warmup: %v", err)
	}
	health, err := c.Health(ctx)
	if err != nil || !health.Ready {
		log.Fatalf("service not ready (health=%+v, err=%v)", health, err)
	}

	fmt.Printf("Benchmarking %s: %d requests, concurrency %d\n", *url, *requests, *concurrency)

	latencies := make([]time.Duration, 0, *requests)
	var mu sync.Mutex
	var failures int

	start := time.Now()
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				t0 := time.Now()
				var err error
				if *batchSize > 0 {
					images := make(map[string][]byte, *batchSize)
					for i := 0; i < *batchSize; i++ {
						images[fmt.Sprintf("img_%d.jpg", i)] = data
					}
					_, err = c.PredictBatch(ctx, images, *conf)
				} else {
					_, err = c.Predict(ctx, "benchmark.jpg", data, *conf)
				}
				elapsed := time.Since(t0)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					latencies = append(latencies, elapsed)
				}
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	total := time.Since(start)

	if len(latencies) == 0 {
		log.Fatalf("all %d requests failed", *requests)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("ok=%d failed=%d total=%v throughput=%.1f req/s\n",
		len(latencies), failures, total.Round(time.Millisecond),
		float64(len(latencies))/total.Seconds())
	fmt.Printf("latency p50=%v p90=%v p99=%v max=%v\n",
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.90).Round(time.Millisecond),
		percentile(latencies, 0.99).Round(time.Millisecond),
		latencies[len(latencies)-1].Round(time.Millisecond))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
