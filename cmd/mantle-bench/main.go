// Command mantle-bench drives N regions, each on its own goroutine,
// through an increment/decrement workload against a shared
// object pool and reports throughput and finalization counts.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/behrlich/mantle"
	"github.com/behrlich/mantle/internal/domain"
	"github.com/behrlich/mantle/internal/logging"
	"github.com/behrlich/mantle/internal/object"
	"github.com/behrlich/mantle/internal/region"
)

// benchObject is the workload's managed heap type: just enough to
// satisfy mantle.Based, plus a finalize counter for sanity checking.
type benchObject struct {
	object.Object
}

func (o *benchObject) Base() *object.Object { return &o.Object }

// benchFinalizer counts finalized objects and groups into a shared
// mantle.Metrics instance.
type benchFinalizer struct {
	metrics *mantle.Metrics
}

func (f *benchFinalizer) Finalize(_ uint16, objects []*object.Object) {
	f.metrics.RecordFinalize(uint64(len(objects)), 1)
}

func main() {
	var (
		regionCount  = flag.Int("regions", runtime.NumCPU(), "number of regions, one per goroutine")
		poolSize     = flag.Int("pool", 4096, "number of objects each region cycles through")
		duration     = flag.Duration("duration", 10*time.Second, "how long to run the workload")
		cloneDepth   = flag.Int("clone-depth", 3, "number of clones taken before an object's refs are closed")
		noGrouper    = flag.Bool("no-grouper", false, "disable the per-controller operation grouper")
		cpuAffinity  = flag.String("cpu-affinity", "", "comma-separated CPU list to pin the domain thread to")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := mantle.DefaultConfig()
	cfg.OperationGrouperEnabled = !*noGrouper
	if *cpuAffinity != "" {
		cpus, err := parseCPUList(*cpuAffinity)
		if err != nil {
			log.Fatalf("invalid -cpu-affinity %q: %v", *cpuAffinity, err)
		}
		cfg.CPUAffinity = cpus
	}

	d, err := domain.New(domain.Options{
		CPUAffinity:             cfg.CPUAffinity,
		OperationGrouperEnabled: cfg.OperationGrouperEnabled,
	})
	if err != nil {
		logger.Error("failed to start domain", "error", err)
		os.Exit(1)
	}

	metrics := mantle.NewMetrics()
	finalizer := &benchFinalizer{metrics: metrics}

	logger.Info("starting workload", "regions", *regionCount, "pool", *poolSize, "duration", duration.String())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *regionCount; i++ {
		r, err := region.New(d, finalizer)
		if err != nil {
			logger.Error("failed to bind region", "index", i, "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go runWorker(i, r, *poolSize, *cloneDepth, metrics, stop, &wg)
	}

	// SIGUSR1 dumps every goroutine's stack, matching the teacher's
	// debug hook for diagnosing a stuck run.
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-time.After(*duration):
		logger.Info("duration elapsed, stopping")
	case <-sigCh:
		logger.Info("received shutdown signal")
	}

	close(stop)
	wg.Wait()

	if err := d.Stop(); err != nil {
		logger.Error("domain stopped with error", "error", err)
	}

	printReport(metrics.Snapshot())
}

// runWorker binds a pool of objects to its region and repeatedly
// clones and drops references to them until stop closes. Only the
// domain's background thread is pinned (internal/domain.Options.CPUAffinity);
// a region does no blocking work of its own and has nothing to gain
// from pinning the goroutine that drives it.
func runWorker(index int, r *region.Region, poolSize, cloneDepth int, metrics *mantle.Metrics, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Stop()

	rng := rand.New(rand.NewSource(int64(index) + time.Now().UnixNano()))

	refs := make([]mantle.Ref[*benchObject], poolSize)
	for i := range refs {
		obj := &benchObject{Object: *object.New(uint16(index))}
		refs[i] = mantle.BindRef(r, obj)
	}

	var increments, decrements uint64
	lastReport := time.Now()

	for {
		select {
		case <-stop:
			for i := range refs {
				refs[i].Close()
			}
			return
		default:
		}

		i := rng.Intn(poolSize)
		clones := make([]mantle.Ref[*benchObject], cloneDepth)
		for c := 0; c < cloneDepth; c++ {
			clones[c] = refs[i].Clone()
			increments++
		}
		for c := cloneDepth - 1; c >= 0; c-- {
			clones[c].Close()
			decrements++
		}

		const nonBlocking = true
		r.Step(nonBlocking)

		if elapsed := time.Since(lastReport); elapsed > 250*time.Millisecond {
			metrics.RecordCycle(uint64(elapsed.Nanoseconds()), increments, decrements)
			increments, decrements = 0, 0
			lastReport = time.Now()
		}
	}
}

func printReport(snap mantle.MetricsSnapshot) {
	fmt.Printf("\n=== mantle-bench report ===\n")
	fmt.Printf("increments:         %d\n", snap.IncrementOps)
	fmt.Printf("decrements:         %d\n", snap.DecrementOps)
	fmt.Printf("finalized objects:  %d\n", snap.FinalizedObjects)
	fmt.Printf("finalized groups:   %d\n", snap.FinalizedGroups)
	fmt.Printf("cycles recorded:    %d\n", snap.CycleCount)
	fmt.Printf("uptime:             %s\n", time.Duration(snap.UptimeNs))
	if snap.CyclesPerSecond > 0 {
		fmt.Printf("cycles/sec:         %.1f\n", snap.CyclesPerSecond)
	}
}

func parseCPUList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	cpus := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		cpus = append(cpus, n)
	}
	return cpus, nil
}
