package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/phobologic/apidrift/internal/batch"
	"github.com/phobologic/apidrift/internal/config"
	"github.com/phobologic/apidrift/internal/diff"
	"github.com/phobologic/apidrift/internal/extract"
	"github.com/phobologic/apidrift/internal/harness"
	"github.com/phobologic/apidrift/internal/model"
	"github.com/phobologic/apidrift/internal/ranking"
	"github.com/phobologic/apidrift/internal/toon"
)

// extractInput is the worker's ExtractFunc and the in-process path.
func extractInput(ctx context.Context, in harness.Input, logger *slog.Logger) (*model.Collection, error) {
	return extract.Run(ctx, in.Release, in.Root, in.Modules, extract.Options{
		MaxFileSize: in.MaxFileSize,
		Ignore:      in.Ignore,
		Logger:      logger,
	})
}

// inProcess satisfies batch.Extractor without spawning workers.
type inProcess struct {
	logger *slog.Logger
}

func (p inProcess) RunIsolated(ctx context.Context, in harness.Input) (*harness.Result, error) {
	c, err := extractInput(ctx, in, p.logger)
	if err != nil {
		return nil, err
	}
	return &harness.Result{Collection: c}, nil
}

func (a *app) runner() (*harness.Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating worker executable: %w", err)
	}
	return &harness.Runner{
		Command:        []string{exe, "worker"},
		Env:            []string{config.EnvPrefix + "LOG_LEVEL=" + a.cfg.Log.Level},
		MaxRetries:     a.cfg.Retries,
		AttemptTimeout: a.cfg.AttemptTimeout,
		BackoffMax:     a.cfg.BackoffMax,
		MaxOutput:      a.cfg.MaxOutput,
		MemoryLimit:    a.cfg.MemoryLimit,
		Logger:         a.logger,
	}, nil
}

func (a *app) extractor(local bool) (batch.Extractor, error) {
	if local {
		return inProcess{logger: a.logger}, nil
	}
	return a.runner()
}

func (a *app) input(root, release string, modules []string) (harness.Input, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return harness.Input{}, fmt.Errorf("resolving root: %w", err)
	}
	in := harness.Input{
		Root:        abs,
		Modules:     modules,
		MaxFileSize: a.cfg.MaxFileSize,
		Ignore:      a.cfg.Ignore,
	}
	if release != "" {
		if in.Release, err = model.ParseRelease(release); err != nil {
			return harness.Input{}, err
		}
	}
	return in, nil
}

func (a *app) collect(ctx context.Context, ex batch.Extractor, in harness.Input) (*model.Collection, error) {
	res, err := ex.RunIsolated(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.Log != "" {
		a.logger.Debug("worker output", "release", in.Release.String(), "log", res.Log)
	}
	return res.Collection, nil
}

func (a *app) differ(disable []string) (*diff.Engine, error) {
	names := append(append([]string{}, a.cfg.DisabledRules...), disable...)
	registry, err := diff.DefaultRegistry().Without(names...)
	if err != nil {
		return nil, err
	}
	return diff.NewEngine(registry, a.logger), nil
}

// output opens path for writing, or returns stdout when path is empty.
func (a *app) output(path string) (io.Writer, func() error, error) {
	if path == "" {
		return a.stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkFormat(format string) error {
	switch format {
	case "toon", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (want toon or json)", format)
}

func (a *app) extractCmd() *cobra.Command {
	var (
		release string
		modules []string
		local   bool
		format  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "extract ROOT",
		Short: "Extract the API of the package importable from ROOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			in, err := a.input(args[0], release, modules)
			if err != nil {
				return err
			}
			ex, err := a.extractor(local)
			if err != nil {
				return err
			}
			c, err := a.collect(cmd.Context(), ex, in)
			if err != nil {
				return err
			}

			w, closeOut, err := a.output(outPath)
			if err != nil {
				return err
			}
			if format == "toon" {
				_, err = fmt.Fprintln(w, toon.EncodeCollection(c))
			} else {
				err = writeJSON(w, c)
			}
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&release, "release", "", "release as project@version (default from distribution metadata)")
	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "top-level module to extract (repeatable; default auto-detect)")
	cmd.Flags().BoolVar(&local, "in-process", false, "extract in this process instead of an isolated worker")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or toon")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// diffView holds the flags that shape a difference for output.
type diffView struct {
	minRank    string
	maxEntries int
	symbol     string
	format     string
	disable    []string
}

func (v *diffView) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&v.minRank, "min-rank", "compatible", "hide entries ranked below this: compatible, low, medium or high")
	cmd.Flags().IntVarP(&v.maxEntries, "max-entries", "n", 0, "show at most this many entries, highest ranked first")
	cmd.Flags().StringVarP(&v.symbol, "symbol", "s", "", "only show entries whose id contains this (case-insensitive)")
	cmd.Flags().StringVarP(&v.format, "format", "f", "toon", "output format: toon or json")
	cmd.Flags().StringSliceVar(&v.disable, "disable", nil, "rule to skip (repeatable)")
}

func (v *diffView) check() (model.Rank, error) {
	if err := checkFormat(v.format); err != nil {
		return 0, err
	}
	return model.ParseRank(v.minRank)
}

func (v *diffView) write(w io.Writer, d *model.Difference, minRank model.Rank) error {
	if v.symbol != "" {
		d = ranking.FilterBySymbol(d, v.symbol)
	}
	d = ranking.SelectEntries(d, minRank, v.maxEntries)
	if v.format == "json" {
		return writeJSON(w, d)
	}
	_, err := fmt.Fprintln(w, toon.Encode(d))
	return err
}

func readCollection(path string) (*model.Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c model.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &c, nil
}

func (a *app) diffCmd() *cobra.Command {
	var view diffView
	cmd := &cobra.Command{
		Use:   "diff OLD.json NEW.json",
		Short: "Compare two extracted collections",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minRank, err := view.check()
			if err != nil {
				return err
			}
			engine, err := a.differ(view.disable)
			if err != nil {
				return err
			}
			old, err := readCollection(args[0])
			if err != nil {
				return err
			}
			new, err := readCollection(args[1])
			if err != nil {
				return err
			}
			d, err := engine.Diff(cmd.Context(), old, new)
			if err != nil {
				return err
			}
			return view.write(a.stdout, d, minRank)
		},
	}
	view.register(cmd)
	return cmd
}

func (a *app) compareCmd() *cobra.Command {
	var (
		view       diffView
		oldRelease string
		newRelease string
		modules    []string
		local      bool
	)
	cmd := &cobra.Command{
		Use:   "compare OLD_ROOT NEW_ROOT",
		Short: "Extract two releases and compare them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minRank, err := view.check()
			if err != nil {
				return err
			}
			engine, err := a.differ(view.disable)
			if err != nil {
				return err
			}
			oldIn, err := a.input(args[0], oldRelease, modules)
			if err != nil {
				return err
			}
			newIn, err := a.input(args[1], newRelease, modules)
			if err != nil {
				return err
			}
			ex, err := a.extractor(local)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			old, err := a.collect(ctx, ex, oldIn)
			if err != nil {
				return fmt.Errorf("old release: %w", err)
			}
			new, err := a.collect(ctx, ex, newIn)
			if err != nil {
				return fmt.Errorf("new release: %w", err)
			}
			d, err := engine.Diff(ctx, old, new)
			if err != nil {
				return err
			}
			return view.write(a.stdout, d, minRank)
		},
	}
	view.register(cmd)
	cmd.Flags().StringVar(&oldRelease, "old-release", "", "old release as project@version")
	cmd.Flags().StringVar(&newRelease, "new-release", "", "new release as project@version")
	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "top-level module to extract (repeatable; default auto-detect)")
	cmd.Flags().BoolVar(&local, "in-process", false, "extract in this process instead of isolated workers")
	return cmd
}

type jobJSON struct {
	Index      int               `json:"index"`
	Name       string            `json:"name,omitempty"`
	OK         bool              `json:"ok"`
	Message    string            `json:"message"`
	Difference *model.Difference `json:"difference,omitempty"`
}

func (a *app) batchCmd() *cobra.Command {
	var (
		format     string
		metricsOut string
		local      bool
		disable    []string
	)
	cmd := &cobra.Command{
		Use:   "batch JOBS.yaml",
		Short: "Compare many release pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			jobs, err := batch.LoadJobs(args[0])
			if err != nil {
				return err
			}
			for i := range jobs {
				for _, in := range []*harness.Input{&jobs[i].Old, &jobs[i].New} {
					if in.MaxFileSize == 0 {
						in.MaxFileSize = a.cfg.MaxFileSize
					}
					if in.Ignore == nil {
						in.Ignore = a.cfg.Ignore
					}
				}
			}
			engine, err := a.differ(disable)
			if err != nil {
				return err
			}
			ex, err := a.extractor(local)
			if err != nil {
				return err
			}

			p := &batch.Pipeline{
				Extractor:  ex,
				Differ:     engine,
				Workers:    a.cfg.Workers,
				JobTimeout: a.cfg.JobTimeout,
				CacheSize:  a.cfg.CacheSize,
				Logger:     a.logger,
			}
			summary := p.Run(cmd.Context(), jobs)

			if format == "json" {
				out := make([]jobJSON, len(summary.Results))
				for i, r := range summary.Results {
					out[i] = jobJSON{Index: r.Index, Name: r.Job.Name, OK: r.OK, Message: r.Message, Difference: r.Difference}
				}
				err = writeJSON(a.stdout, out)
			} else {
				_, err = fmt.Fprintln(a.stdout, toon.EncodeSummary(summary))
			}
			if err != nil {
				return err
			}

			if metricsOut != "" {
				if err := prometheus.WriteToTextfile(metricsOut, prometheus.DefaultGatherer); err != nil {
					return fmt.Errorf("writing metrics: %w", err)
				}
			}
			if summary.Success < summary.Total {
				return fmt.Errorf("%d of %d jobs failed", summary.Total-summary.Success, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "toon", "output format: toon or json")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&local, "in-process", false, "extract in this process instead of isolated workers")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "rule to skip (repeatable)")
	return cmd
}

func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve one extraction request on stdin (used internally)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return harness.Serve(cmd.Context(), cmd.InOrStdin(), a.stdout, extractInput)
		},
	}
}
