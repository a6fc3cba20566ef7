package main

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/cobaltdb/stm/pkg/stm"
)

var (
	flagHelp bool
	flagMode string
)

func init() {
	flag.BoolVar(&flagHelp, "help", false, "Show help")
	flag.BoolVar(&flagHelp, "h", false, "Show help (short)")
	flag.StringVar(&flagMode, "mode", "both", "Which transaction mode to demo: encounter, commit, both")
}

func main() {
	flag.Parse()

	if flagHelp {
		printHelp()
		os.Exit(0)
	}

	if flagMode == "encounter" || flagMode == "both" {
		runEncounterDemo()
	}
	if flagMode == "commit" || flagMode == "both" {
		runCommitDemo()
	}
}

func printHelp() {
	fmt.Println("stm-demo - walk through both STM transaction modes")
	fmt.Println()
	flag.PrintDefaults()
}

func runEncounterDemo() {
	fmt.Println("1. Encounter-mode transfer...")

	tbl := stm.NewTable(stm.DefaultNumLocks)
	a := stm.NewWordVar(100)
	b := stm.NewWordVar(0)

	retryEncounter(tbl, func(tx *stm.EncounterTx) error {
		va, err := tx.ReadW(a)
		if err != nil {
			return err
		}
		vb, err := tx.ReadW(b)
		if err != nil {
			return err
		}
		if err := tx.WriteW(a, va-10); err != nil {
			return err
		}
		return tx.WriteW(b, vb+10)
	})

	fmt.Printf("   a=%d b=%d\n\n", a.Snapshot(), b.Snapshot())
}

func runCommitDemo() {
	fmt.Println("2. Commit-mode counter under contention...")

	const threads = 8
	const itersPerThread = 1000

	tbl := stm.NewTable(stm.DefaultNumLocks)
	counter := stm.NewIntVar(0)

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			for k := 0; k < itersPerThread; k++ {
				retryCommit(tbl, func(tx *stm.CommitTx) error {
					v, err := tx.ReadI(counter)
					if err != nil {
						return err
					}
					return tx.WriteI(counter, v+1)
				})
			}
		}()
	}
	wg.Wait()

	fmt.Printf("   counter=%d (want %d)\n", counter.Snapshot(), threads*itersPerThread)
}

func retryEncounter(tbl *stm.Table, body func(tx *stm.EncounterTx) error) {
	for {
		tx := stm.NewEncounterTx(tbl)
		tx.Begin()
		if err := body(tx); err != nil {
			tx.Abort(err)
			continue
		}
		ok, err := tx.Commit()
		if err != nil {
			tx.Abort(err)
			continue
		}
		if ok {
			return
		}
	}
}

func retryCommit(tbl *stm.Table, body func(tx *stm.CommitTx) error) {
	for {
		tx := stm.NewCommitTx(tbl)
		tx.Begin()
		if err := body(tx); err != nil {
			tx.Abort(err)
			continue
		}
		ok, err := tx.Commit()
		if err != nil {
			tx.Abort(err)
			continue
		}
		if ok {
			return
		}
	}
}
