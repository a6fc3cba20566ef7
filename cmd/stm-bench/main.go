package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cobaltdb/stm/pkg/stm"
	"github.com/cobaltdb/stm/pkg/stmtrace"
)

var (
	flagHelp    bool
	flagMode    string
	flagThreads int
	flagIters   int
	flagTrace   bool
)

func init() {
	flag.BoolVar(&flagHelp, "help", false, "Show help")
	flag.BoolVar(&flagHelp, "h", false, "Show help (short)")
	flag.StringVar(&flagMode, "mode", "encounter", "Transaction mode to benchmark: encounter, commit")
	flag.IntVar(&flagThreads, "threads", 8, "Number of concurrent goroutines")
	flag.IntVar(&flagIters, "iters", 10000, "Increments per goroutine")
	flag.BoolVar(&flagTrace, "trace", false, "Record and print a msgpack-encoded trace summary")
}

func main() {
	flag.Parse()

	if flagHelp {
		printHelp()
		os.Exit(0)
	}

	runBenchmark()
}

func printHelp() {
	fmt.Println("stm-bench - measure commit/abort throughput under contention")
	fmt.Println()
	flag.PrintDefaults()
}

func runBenchmark() {
	tbl := stm.NewTable(stm.DefaultNumLocks)
	counter := stm.NewIntVar(0)

	var rec *stmtrace.Recorder
	if flagTrace {
		rec = stmtrace.NewRecorder()
	}

	var aborts, commits int64
	var mu sync.Mutex

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(flagThreads)
	for i := 0; i < flagThreads; i++ {
		go func() {
			defer wg.Done()
			for k := 0; k < flagIters; k++ {
				localAborts := runOnce(tbl, counter, rec)
				mu.Lock()
				aborts += int64(localAborts)
				commits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("mode=%s threads=%d iters=%d\n", flagMode, flagThreads, flagIters)
	fmt.Printf("commits=%d aborts=%d elapsed=%s commits/sec=%.0f\n",
		commits, aborts, elapsed, float64(commits)/elapsed.Seconds())
	fmt.Printf("final counter=%d (want %d)\n", counter.Snapshot(), flagThreads*flagIters)

	if rec != nil {
		data, err := rec.Encode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "trace encode failed: %v\n", err)
			return
		}
		fmt.Printf("trace: %d events, %d msgpack bytes\n", len(rec.Events()), len(data))
	}

	fp, err := stmtrace.Fingerprint(map[string]uint64{"counter": uint64(counter.Snapshot())})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fingerprint failed: %v\n", err)
		return
	}
	fmt.Printf("fingerprint=%x\n", fp)
}

// runOnce retries a single increment until it commits, returning how many
// aborts it took.
func runOnce(tbl *stm.Table, counter *stm.IntVar, rec *stmtrace.Recorder) int {
	aborts := 0
	for {
		switch flagMode {
		case "commit":
			tx := stm.NewCommitTx(tbl)
			if rec != nil {
				tx.SetObserver(rec)
			}
			tx.Begin()
			v, err := tx.ReadI(counter)
			if err == nil {
				err = tx.WriteI(counter, v+1)
			}
			if err != nil {
				tx.Abort(err)
				aborts++
				continue
			}
			if ok, err := tx.Commit(); err != nil || !ok {
				tx.Abort(err)
				aborts++
				continue
			}
			return aborts
		default:
			tx := stm.NewEncounterTx(tbl)
			if rec != nil {
				tx.SetObserver(rec)
			}
			tx.Begin()
			v, err := tx.ReadI(counter)
			if err == nil {
				err = tx.WriteI(counter, v+1)
			}
			if err != nil {
				tx.Abort(err)
				aborts++
				continue
			}
			if ok, err := tx.Commit(); err != nil || !ok {
				tx.Abort(err)
				aborts++
				continue
			}
			return aborts
		}
	}
}
