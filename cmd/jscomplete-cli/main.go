package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shehackedyou/jscomplete"
)

// Set at build time
var version = "dev"

// cliState is shared by every subcommand once the root pre-run completed.
type cliState struct {
	logLevel string
	engine   *jscomplete.Engine
	logger   *slog.Logger
}

func main() {
	state := &cliState{}
	root := newRootCmd(state)
	err := root.Execute()
	if state.engine != nil {
		if closeErr := state.engine.Close(); closeErr != nil {
			slog.Error("Error closing engine", "error", closeErr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(state *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:           "jscomplete-cli",
		Short:         "Type-inferred JavaScript completion from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.init()
		},
	}
	root.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "Log level (debug, info, warn, error) - overrides config")

	root.AddCommand(
		newCompleteCmd(state),
		newTypeCmd(state),
		newSummaryCmd(state),
		newIndexCmd(state),
		newDiagnosticsCmd(state),
		newConfigCmd(state),
	)
	return root
}

// init loads the configuration, builds the engine and installs the final logger.
func (s *cliState) init() error {
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	engine, initErr := jscomplete.NewEngine(tempLogger)
	if initErr != nil && !errors.Is(initErr, jscomplete.ErrConfig) {
		tempLogger.Error("Fatal error initializing jscomplete engine", "error", initErr)
		return initErr
	}
	if engine == nil {
		return errors.New("engine initialization returned nil unexpectedly")
	}
	s.engine = engine

	chosen := engine.GetCurrentConfig().LogLevel
	if s.logLevel != "" {
		chosen = s.logLevel
	}
	level, err := jscomplete.ParseLogLevel(chosen)
	if err != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosen, "error", err)
		level = slog.LevelInfo
	}
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(s.logger)

	if initErr != nil {
		s.logger.Warn("Engine initialized with configuration warnings", "error", initErr)
	}
	return nil
}

// ============================================================================
// Position Flags
// ============================================================================

// positionFlags locates the cursor either by byte offset or by 1-based line and byte column.
type positionFlags struct {
	offset int
	line   int
	col    int
}

func (p *positionFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.offset, "offset", -1, "Byte offset of the cursor (0-based)")
	cmd.Flags().IntVar(&p.line, "line", 0, "Line number (1-based)")
	cmd.Flags().IntVar(&p.col, "col", 0, "Column number (1-based, bytes)")
	cmd.MarkFlagsMutuallyExclusive("offset", "line")
	cmd.MarkFlagsRequiredTogether("line", "col")
}

func (p *positionFlags) resolve(content []byte) (int, error) {
	if p.offset >= 0 {
		if p.offset > len(content) {
			return 0, fmt.Errorf("offset %d is beyond the end of the file (%d bytes)", p.offset, len(content))
		}
		return p.offset, nil
	}
	if p.line <= 0 || p.col <= 0 {
		return 0, errors.New("either --offset or --line and --col are required")
	}
	return lineColToOffset(content, p.line, p.col)
}

// lineColToOffset converts a 1-based line and byte column to a byte offset.
func lineColToOffset(content []byte, line, col int) (int, error) {
	start := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(content[start:], '\n')
		if i < 0 {
			return 0, fmt.Errorf("line %d not found (file has %d lines)", line, l)
		}
		start += i + 1
	}
	end := len(content)
	if i := bytes.IndexByte(content[start:], '\n'); i >= 0 {
		end = start + i
	}
	offset := start + col - 1
	if offset > end {
		return 0, fmt.Errorf("column %d is beyond the end of line %d", col, line)
	}
	return offset, nil
}

func readSource(path string) (string, []byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, fmt.Errorf("cannot read %s: %w", abs, err)
	}
	return abs, content, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ============================================================================
// Commands
// ============================================================================

func newCompleteCmd(state *cliState) *cobra.Command {
	var (
		pos     positionFlags
		prefix  string
		asJSON  bool
		noIndex bool
	)
	cmd := &cobra.Command{
		Use:   "complete <file>",
		Short: "Print completion proposals at a cursor position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, content, err := readSource(args[0])
			if err != nil {
				return err
			}
			offset, err := pos.resolve(content)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = jscomplete.IdentifierPrefix(content, offset)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if !noIndex && state.engine.Indexer() != nil {
				if _, err := state.engine.IndexFile(ctx, absPath); err != nil {
					state.logger.Warn("Dependency indexing reported errors", "error", err)
				}
			}

			state.logger.Debug("Computing proposals", "path", absPath, "offset", offset, "prefix", prefix)
			proposals, err := state.engine.ComputeFileProposals(ctx, absPath, prefix, content, jscomplete.Selection{Offset: offset})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, struct {
					Kind      string                 `json:"kind"`
					Proposals []jscomplete.Candidate `json:"proposals"`
				}{proposals.Kind.String(), proposals.Candidates})
			}
			for _, c := range proposals.Candidates {
				fmt.Fprintf(out, "%s\t%s\n", c.Text, c.Description)
			}
			return nil
		},
	}
	pos.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "", "Typed prefix (default: identifier characters before the cursor)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print proposals as JSON")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Skip indexing the file's dependencies first")
	return cmd
}

func newTypeCmd(state *cliState) *cobra.Command {
	var pos positionFlags
	cmd := &cobra.Command{
		Use:   "type <file>",
		Short: "Print the inferred type of the identifier at a cursor position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, content, err := readSource(args[0])
			if err != nil {
				return err
			}
			offset, err := pos.resolve(content)
			if err != nil {
				return err
			}
			info, err := state.engine.TypeAt(cmd.Context(), absPath, content, offset)
			if err != nil {
				return err
			}
			if info == nil {
				return errors.New("no identifier at the given position")
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
	pos.register(cmd)
	return cmd
}

func newSummaryCmd(state *cliState) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "summary <file>",
		Short: "Print the global names a dependency source contributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, content, err := readSource(args[0])
			if err != nil {
				return err
			}
			summary, err := state.engine.ComputeSummary(cmd.Context(), content, absPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return writeJSON(out, summary)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(summary)
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: json or yaml")
	return cmd
}

func newIndexCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "index <file>",
		Short: "Fetch and summarise the dependencies listed in the file's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if state.engine.Indexer() == nil {
				return errors.New("dependency summaries are disabled (use_summaries is false)")
			}
			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			spinner := jscomplete.NewSpinner()
			spinner.Start("Indexing dependencies...")
			report, err := state.engine.IndexFile(cmd.Context(), absPath)
			spinner.Stop()

			if report.Manifest == "" {
				jscomplete.PrettyPrint(jscomplete.ColorYellow, "No dependency manifest found\n")
			} else {
				jscomplete.PrettyPrint(jscomplete.ColorGreen, fmt.Sprintf("Indexed %d, unchanged %d, failed %d (%s)\n",
					len(report.Indexed), len(report.Unchanged), len(report.Failed), report.Duration.Round(time.Millisecond)))
			}
			return err
		},
	}
}

func newDiagnosticsCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Report syntax errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absPath, content, err := readSource(args[0])
			if err != nil {
				return err
			}
			diags, err := state.engine.Diagnostics(cmd.Context(), content)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diags {
				fmt.Fprintf(out, "%s:%d:%d: %s\n", absPath, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Message)
			}
			if len(diags) > 0 {
				return fmt.Errorf("%d syntax error(s)", len(diags))
			}
			return nil
		},
	}
}

func newConfigCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), state.engine.GetCurrentConfig())
		},
	}
}
