package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/javi11/streamloader/internal/audiofile"
)

var (
	benchConcurrency int
	benchReadChunk   int
)

var benchCmd = &cobra.Command{
	Use:   "bench <source-file>",
	Short: "Open N concurrent streaming reads of a simulated remote file and report aggregate throughput",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("streamloaderctl bench: read source: %w", err)
		}

		var totalBytes atomic.Int64
		started := time.Now()

		pl := concpool.New().WithErrors().WithMaxGoroutines(benchConcurrency)
		for i := 0; i < benchConcurrency; i++ {
			pl.Go(func() error {
				return runOneBenchPass(data, &totalBytes)
			})
		}

		if err := pl.Wait(); err != nil {
			return fmt.Errorf("streamloaderctl bench: %w", err)
		}

		elapsed := time.Since(started)
		bytesPerSec := float64(totalBytes.Load()) / elapsed.Seconds()
		fmt.Printf("passes=%d total_bytes=%d elapsed=%s throughput=%.0f B/s\n",
			benchConcurrency, totalBytes.Load(), elapsed, bytesPerSec)
		return nil
	},
}

func runOneBenchPass(data []byte, totalBytes *atomic.Int64) error {
	fake, fid := newFakeSessionFromConfig(data)

	af, err := audiofile.Open(context.Background(), fake, fid, sessionRate(), true,
		audiofile.WithFS(afero.NewMemMapFs()),
		audiofile.WithTuning(cfg.Tuning.ToTuning()),
		audiofile.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer af.Close()

	buf := make([]byte, benchReadChunk)
	for {
		n, err := af.Read(buf)
		totalBytes.Add(int64(n))
		if err != nil {
			if n == 0 {
				break
			}
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func init() {
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 4, "number of concurrent simulated readers")
	benchCmd.Flags().IntVar(&benchReadChunk, "read-chunk", 64*1024, "bytes read per Read() call during the pass")
	rootCmd.AddCommand(benchCmd)
}
