package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/phobologic/apidrift/internal/discover"
	"github.com/phobologic/apidrift/internal/lang"
	"github.com/phobologic/apidrift/internal/model"
	"github.com/phobologic/apidrift/internal/parse"
)

// DefaultMaxFileSize is the size above which source files are skipped.
const DefaultMaxFileSize = 1_000_000 // 1 MB

// Options tunes Run.
type Options struct {
	// MaxFileSize skips larger source files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// Ignore holds extra gitignore-style patterns.
	Ignore []string
	Logger *slog.Logger
}

// Run extracts the API of the package rooted at root. tops names the
// top-level modules; when empty they are read from the distribution
// metadata or the directory layout. A zero release is filled from the
// distribution metadata when present.
func Run(ctx context.Context, release model.Release, root string, tops []string, opts Options) (*model.Collection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	if len(tops) == 0 {
		if tops, err = discover.TopModules(root); err != nil {
			return nil, fmt.Errorf("finding top-level modules: %w", err)
		}
		if len(tops) == 0 {
			return nil, fmt.Errorf("no top-level modules found under %s", root)
		}
	}
	if release.IsZero() {
		if meta, ok := discover.Metadata(root); ok {
			release = meta
		}
	}

	modules, err := discover.Modules(root, tops, discover.Options{Ignore: opts.Ignore})
	if err != nil {
		return nil, fmt.Errorf("discovering modules: %w", err)
	}
	modules = filterBySize(root, modules, opts.MaxFileSize, logger)

	parsed, err := parseModules(ctx, root, modules, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("parsed modules", "release", release.String(), "modules", len(parsed))

	return NewEngine(NewSource(parsed), logger).Extract(ctx, release, tops)
}

func filterBySize(root string, modules []discover.Module, maxSize int64, logger *slog.Logger) []discover.Module {
	var kept []discover.Module
	for _, m := range modules {
		if m.Namespace {
			kept = append(kept, m)
			continue
		}
		fi, err := os.Stat(filepath.Join(root, m.Path))
		if err != nil {
			kept = append(kept, m) // reading it will report the problem
			continue
		}
		if fi.Size() > maxSize {
			logger.Warn("skipped large module", "module", m.Name, "path", m.Path, "limit", maxSize)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// parseModules reads and parses modules concurrently, one parser per
// worker. Unreadable modules are logged and dropped; results keep the
// input order.
func parseModules(ctx context.Context, root string, modules []discover.Module, logger *slog.Logger) ([]*parse.Module, error) {
	if len(modules) == 0 {
		return nil, nil
	}
	numWorkers := min(runtime.GOMAXPROCS(0), len(modules))

	work := make(chan int, len(modules))
	parsed := make([]*parse.Module, len(modules))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parser := lang.Python().NewParser()
			defer parser.Close()

			for idx := range work {
				if ctx.Err() != nil {
					continue
				}
				m := modules[idx]
				if m.Namespace {
					parsed[idx] = &parse.Module{
						Name:        m.Name,
						Path:        m.Path,
						IsPackage:   true,
						Annotations: map[string]string{},
					}
					continue
				}
				source, err := os.ReadFile(filepath.Join(root, m.Path))
				if err != nil {
					logger.Warn("failed to read module", "module", m.Name, "error", err)
					continue
				}
				pm, err := parse.Parse(ctx, parser, source, m.Name, m.Path, m.IsPackage)
				if err != nil {
					logger.Warn("failed to parse module", "module", m.Name, "error", err)
					continue
				}
				parsed[idx] = pm
			}
		}()
	}

	for i := range modules {
		work <- i
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*parse.Module
	for _, pm := range parsed {
		if pm != nil {
			out = append(out, pm)
		}
	}
	return out, nil
}
