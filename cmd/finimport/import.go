package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/output"
	"github.com/rumor-ml/commons.systems/finimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

type importFlags struct {
	commit       bool
	override     bool
	format       string
	account      string
	output       string
	transactions bool
	noProgress   bool
}

func newImportCmd(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <file|dir>...",
		Short: "Preview or commit a batch of statement files",
		Long: `Parses every statement file under the given paths as one batch.

Without --commit nothing is written; the report shows what would be new and
what is a duplicate. With --commit each file that parses is stored with its
own import session, even when other files in the batch fail.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.commit, "commit", false, "persist new transactions and record import sessions")
	cmd.Flags().BoolVar(&f.override, "override", false, "forward duplicates as well as new transactions")
	cmd.Flags().StringVar(&f.format, "format", "", "format key for every file (default: auto-detect)")
	cmd.Flags().StringVar(&f.account, "account", "", "account source for every file")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the JSON report to this file (default: stdout)")
	cmd.Flags().BoolVar(&f.transactions, "transactions", false, "include forwarded transactions in the report")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, args []string, f importFlags) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	ui.Header("Importing Statements")
	ui.Step(1, 3, "Scanning")
	inputs, err := collectInputs(args, f.format, f.account, a.cfg.Import.DefaultAccount)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Found %d statement files", len(inputs)))

	e, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			slog.Error("Failed to close backend", "error", err)
		}
	}()

	var opts []pipeline.Option
	if !f.noProgress {
		bar := newProgressBar(stderr, len(inputs))
		opts = append(opts, pipeline.WithProgress(func(ev pipeline.ProgressEvent) {
			bar.Describe(ev.Filename)
			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		}))
	}
	p := e.pipeline(a, opts...)

	mode := "Previewing"
	if f.commit {
		mode = "Committing"
	}
	ui.Step(2, 3, mode)

	run := p.Preview
	if f.commit {
		run = p.Commit
	}
	res, err := run(ctx, inputs, pipeline.Options{Override: f.override})
	if err != nil {
		return err
	}

	ui.Step(3, 3, "Summary")
	printSummary(res)

	if f.output != "" {
		err = output.WriteReportToFile(res, output.WriteOptions{FilePath: f.output, IncludeTransactions: f.transactions})
	} else {
		var report *output.Report
		if report, err = output.NewReport(res, f.transactions, time.Now()); err == nil {
			err = output.WriteReport(report, cmd.OutOrStdout())
		}
	}
	if err != nil {
		return err
	}
	if f.output != "" {
		ui.Info("Report written to " + f.output)
	}

	if res.ImportedFiles() == 0 {
		return fmt.Errorf("no file in the batch could be imported")
	}
	return nil
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func printSummary(res *pipeline.BatchResult) {
	resp := res.Response()
	for _, fr := range resp.Files {
		if fr.Error != "" {
			ui.Error(fmt.Sprintf("%s: %s (%s)", fr.Filename, fr.Error, fr.ErrorCode))
			continue
		}
		line := fmt.Sprintf("%s: %s, %d transactions, %d new", fr.Filename, ui.BlueText(fr.DetectedFormat), fr.TransactionCount, fr.NewCount)
		if dups := fr.DuplicateCount + fr.CrossFileDuplicateCount; dups > 0 {
			line += ", " + ui.YellowText(fmt.Sprintf("%d duplicates", dups))
		}
		ui.Success(line)
		if len(fr.SkippedRows) > 0 {
			var parts []string
			for reason, n := range fr.SkippedRows {
				parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
			}
			sort.Strings(parts)
			ui.Warning(fmt.Sprintf("  skipped rows: %s", strings.Join(parts, " ")))
		}
		if fr.CrossAccountCandidates > 0 {
			ui.Info(fmt.Sprintf("  %d possible transfers from another account", fr.CrossAccountCandidates))
		}
	}

	ui.KeyValue("files imported", fmt.Sprintf("%d/%d", resp.ImportedFiles, resp.TotalFiles))
	ui.KeyValue("transactions", resp.TotalTransactions)
	ui.KeyValue("duplicates", resp.TotalDuplicates)
	ui.KeyValue("new amount", resp.TotalAmount)
	if resp.BatchID != "" {
		ui.KeyValue("batch", resp.BatchID)
	}
}
