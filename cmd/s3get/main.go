// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Command s3get downloads a single object from S3 with concurrent
// ranged requests.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kelindar/s3get"
)

func main() {
	var (
		output      string
		partSizeMB  int
		concurrency int
		endpoint    string
		version     string
		quiet       bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "s3get <bucket> <key>",
		Short: "Accelerated S3 object download",
		Long: "s3get retrieves one object with many concurrent ranged requests,\n" +
			"reassembling the bytes in order into a local file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			defer logger.Sync()

			bucket, key := args[0], args[1]
			if output == "" {
				output = path.Base(key)
			}

			dl, err := s3get.New(s3get.Object{
				Bucket:  bucket,
				Key:     key,
				Version: version,
			}, s3get.Options{
				PartSize:    int64(partSizeMB) << 20,
				Concurrency: concurrency,
				Endpoint:    endpoint,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				dl.Abort(ctx.Err())
			}()

			var size, parts, done atomic.Int64
			dl.On(s3get.EventObjectDownloading, func(ev s3get.EventInfo) {
				size.Store(ev.Size)
				parts.Store(int64(ev.Parts))
				if !quiet {
					fmt.Fprintf(os.Stderr, "downloading %s (%s, %d parts)\n",
						key, humanize.IBytes(uint64(ev.Size)), ev.Parts)
				}
			})
			dl.On(s3get.EventPartDone, func(s3get.EventInfo) {
				done.Add(1)
			})

			start := time.Now()
			progress := make(chan struct{})
			if !quiet {
				go reportProgress(dl, &parts, &done, progress)
			}

			err = dl.File(ctx, output)
			close(progress)
			if err != nil {
				return err
			}
			if !quiet {
				elapsed := time.Since(start)
				rate := float64(size.Load()) / elapsed.Seconds()
				fmt.Fprintf(os.Stderr, "wrote %s in %s (%s/s)\n",
					humanize.IBytes(uint64(size.Load())), elapsed.Round(time.Millisecond),
					humanize.IBytes(uint64(rate)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to the key's base name)")
	cmd.Flags().IntVar(&partSizeMB, "part-size", 8, "part size in MiB; 0 uses the object's native parts")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 64, "simultaneous part requests")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint hostname override")
	cmd.Flags().StringVar(&version, "version-id", "", "object version to download")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "per-part debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "s3get:", err)
		os.Exit(1)
	}
}

// reportProgress prints a coarse transfer line twice a second until
// the download finishes.
func reportProgress(dl *s3get.Download, parts, done *atomic.Int64, quit <-chan struct{}) {
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			total := parts.Load()
			if total == 0 {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r%d/%d parts, %d in flight   ",
				done.Load(), total, dl.PartsDownloading())
		}
	}
}
