package main

import (
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atx-organizing/district-cli/internal/pipeline"
	"github.com/atx-organizing/district-cli/internal/roster"
)

var (
	augmentInput       string
	augmentOutput      string
	augmentFormat      string
	augmentEncoding    string
	augmentSheet       string
	augmentLimit       int
	augmentConcurrency int
	augmentInterval    float64
	augmentDryRun      bool
	augmentNoCorrect   bool
)

var augmentCmd = &cobra.Command{
	Use:   "augment",
	Short: "Augment a membership roster with council districts",
	Long: `Reads a membership file, looks up the council district for each member's
address, and writes the roster back out with geocoded_address and
city_council_district columns appended.

Rows that already carry a district pass through untouched, so interrupted
runs can be resumed by feeding the output back in.

Examples:
  # Dry run: parse the roster and report row counts, no lookups
  district-cli augment --input members.csv --dry-run

  # Full run with a 10-second politeness interval
  district-cli augment --input members.csv --output members-districts.csv --interval 10

  # First 5 rows of an XLSX export
  district-cli augment --input members.xlsx --limit 5`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ros, err := roster.Read(augmentInput, roster.ReadOptions{
			Format:   augmentFormat,
			Encoding: augmentEncoding,
			Sheet:    augmentSheet,
		})
		if err != nil {
			return eris.Wrap(err, "augment: read roster")
		}

		members := ros.Members
		if augmentLimit > 0 && augmentLimit < len(members) {
			members = members[:augmentLimit]
		}

		if augmentDryRun {
			zap.L().Info("dry run",
				zap.Int("members", len(members)),
				zap.Int("unparseable", len(ros.Skipped)),
				zap.Strings("columns", ros.Header),
			)
			return nil
		}

		env, err := initLookup(ctx)
		if err != nil {
			return eris.Wrap(err, "augment: init lookup")
		}
		defer env.Close()

		opts := []pipeline.Option{
			pipeline.WithRecorder(env.Store),
			pipeline.WithConcurrency(pickInt(augmentConcurrency, cfg.Pipeline.Concurrency)),
			pipeline.WithInterval(secondsToDuration(pickFloat(augmentInterval, cfg.Pipeline.IntervalSecs))),
		}
		if env.Corrector != nil && !augmentNoCorrect {
			opts = append(opts, pipeline.WithCorrector(env.Corrector))
		}

		p := pipeline.New(env.Lookup, opts...)

		augmented, summary, err := p.Run(ctx, augmentInput, members)
		if err != nil {
			return eris.Wrap(err, "augment: run")
		}

		outPath := augmentOutput
		if outPath == "" {
			outPath = defaultOutputPath(augmentInput)
		}

		if err := roster.Write(outPath, roster.OutputHeader(ros.Header), augmented); err != nil {
			return eris.Wrap(err, "augment: write roster")
		}

		zap.L().Info("roster written",
			zap.String("path", outPath),
			zap.String("run_id", summary.RunID),
			zap.Int("rows", len(augmented)),
		)
		return nil
	},
}

func init() {
	augmentCmd.Flags().StringVar(&augmentInput, "input", "", "path to roster file, CSV or XLSX (required)")
	augmentCmd.Flags().StringVar(&augmentOutput, "output", "", "output CSV path (default: <input>-districts.csv)")
	augmentCmd.Flags().StringVar(&augmentFormat, "format", "", "input format: csv or xlsx (default: by extension)")
	augmentCmd.Flags().StringVar(&augmentEncoding, "encoding", "", "input charset, e.g. windows-1252 (default: UTF-8)")
	augmentCmd.Flags().StringVar(&augmentSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	augmentCmd.Flags().IntVar(&augmentLimit, "limit", 0, "max rows to process (0 = all)")
	augmentCmd.Flags().IntVar(&augmentConcurrency, "concurrency", 0, "worker count (default from config)")
	augmentCmd.Flags().Float64Var(&augmentInterval, "interval", 0, "seconds between lookups (default from config)")
	augmentCmd.Flags().BoolVar(&augmentDryRun, "dry-run", false, "parse the roster and report counts, skip lookups")
	augmentCmd.Flags().BoolVar(&augmentNoCorrect, "no-correct", false, "skip the address-correction stage even when enabled")
	_ = augmentCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(augmentCmd)
}

// defaultOutputPath derives the output name from the input name, always as
// CSV regardless of input format.
func defaultOutputPath(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "-districts.csv"
}

func pickInt(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func pickFloat(flag, fallback float64) float64 {
	if flag > 0 {
		return flag
	}
	return fallback
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
