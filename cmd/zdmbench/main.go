// Command zdmbench is a small demonstration/benchmark binary that exercises
// the zdm downloader against one or more mirror URLs, reporting a live
// progress bar and final throughput. It is not a general-purpose front end
// (that is out of scope); it plays the same role in this repository that
// tools/benchmarks/parallelget plays in the teacher's.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/spainion/zdm/pkg/zdm"
)

var (
	pieceSize   int64
	concurrency int
	timeout     time.Duration
	userAgent   string
)

var rootCmd = &cobra.Command{
	Use:   "zdmbench <dest> <url> [mirror-url...]",
	Short: "Download a file with zdm, reporting live progress and final throughput",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runDownload,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().Int64Var(&pieceSize, "piece-size", zdm.DefaultPieceSize, "piece size in bytes")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", zdm.DefaultConcurrency, "number of concurrent piece fetchers")
	rootCmd.Flags().DurationVar(&timeout, "timeout", zdm.DefaultTimeout, "per-request HTTP timeout")
	rootCmd.Flags().StringVar(&userAgent, "user-agent", "zdmbench/1", "User-Agent header sent on every request")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	dest, urls := args[0], args[1:]

	progress := mpb.New(mpb.WithWidth(40))
	var bar *mpb.Bar

	d, err := zdm.New(urls, dest,
		zdm.WithPieceSize(pieceSize),
		zdm.WithConcurrency(concurrency),
		zdm.WithTimeout(timeout),
		zdm.WithUserAgent(userAgent),
		zdm.WithOnProgress(func(done, total int) {
			if bar == nil {
				bar = progress.AddBar(int64(total),
					mpb.PrependDecorators(decor.Name("zdmbench")),
					mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
				)
			}
			bar.SetCurrent(int64(done))
		}),
	)
	if err != nil {
		return fmt.Errorf("construct downloader: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	start := time.Now()
	if err := d.Download(ctx); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	progress.Wait()
	elapsed := time.Since(start)

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("stat destination: %w", err)
	}

	rate := float64(info.Size()) / elapsed.Seconds()
	fmt.Printf("downloaded %s in %v (%s/s)\n",
		units.HumanSize(float64(info.Size())), elapsed.Round(time.Millisecond), units.HumanSize(rate))

	return nil
}
