package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/apidrift/internal/config"
)

const (
	sentinelStart = "<!-- apidrift:start -->"
	sentinelEnd   = "<!-- apidrift:end -->"
)

// initCmd implements `apidrift init`, which writes the default configuration
// and, optionally, an apidrift usage section in an agent instructions file.
func (a *app) initCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
		agents string
	)
	cmd := &cobra.Command{
		Use:   "init [CONFIG]",
		Short: "Write the default configuration file",
		Long: `Write the default configuration to CONFIG (default ` + config.DefaultFile + `).
An existing file is left alone unless --force is given.

With --agents FILE, also write an apidrift usage section to FILE (for example
AGENTS.md). The section is wrapped in sentinel comments so it can be updated
in place on later runs without touching surrounding content.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) > 0 {
				path = args[0]
			}
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}

			if dryRun {
				if _, err := a.stdout.Write(data); err != nil {
					return err
				}
			} else if err := writeConfig(path, data, force); err != nil {
				return err
			} else {
				_, _ = fmt.Fprintf(a.stderr, "wrote default configuration to %s\n", path)
			}

			if agents == "" {
				return nil
			}
			existing, err := os.ReadFile(agents)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("reading %s: %w", agents, err)
			}
			updated := applySection(string(existing), generateSection())
			if dryRun {
				_, err := fmt.Fprint(a.stdout, updated)
				return err
			}
			if err := os.WriteFile(agents, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", agents, err)
			}
			_, _ = fmt.Fprintf(a.stderr, "wrote apidrift section to %s\n", agents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying files")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cmd.Flags().StringVar(&agents, "agents", "", "also write a usage section to this agent instructions file")
	return cmd
}

func writeConfig(path string, data []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// generateSection returns the sentinel-wrapped apidrift usage block.
func generateSection() string {
	body := `## apidrift: API compatibility checks

Run ` + "`apidrift`" + ` before releasing a Python package, or when upgrading a
dependency, to see which API changes may break callers.

**Run it:**
` + "```" + `bash
apidrift compare old/ new/ --old-release pkg@1.0 --new-release pkg@1.1
apidrift compare old/ new/ --min-rank medium        # hide compatible and low changes
apidrift compare old/ new/ -s Client                # only entries mentioning Client
apidrift extract src/ -o pkg-1.1.json               # save a model for later diffs
apidrift diff pkg-1.0.json pkg-1.1.json -n 20       # top 20 changes by rank
` + "```" + `

**Reading the output:** ` + "`level`" + ` is the highest rank found. Ranks are
` + "`Compatible`" + `, ` + "`Low`" + `, ` + "`Medium`" + ` and ` + "`High`" + `; anything above
Compatible may break a caller. The ` + "`entries`" + ` table lists each change with
the ids it touches.

**All flags:** ` + "`apidrift --help`" + ``

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if content == "" {
		return section + "\n"
	}
	return content + "\n" + section + "\n"
}
