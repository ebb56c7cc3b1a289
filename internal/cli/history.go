package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kustodia/verify-bytecode/internal/storage"
	"github.com/kustodia/verify-bytecode/internal/verification/domain"
)

// ErrHistoryDisabled is returned by the history command without a DSN
var ErrHistoryDisabled = errors.New("run history is not configured (set HISTORY_DSN or --history)")

// historyEntry is the report shape of a recorded run
type historyEntry struct {
	ID             string    `json:"runId" yaml:"runId"`
	Contract       string    `json:"contract" yaml:"contract"`
	Address        string    `json:"address" yaml:"address"`
	Source         string    `json:"source" yaml:"source"`
	SolcVersion    string    `json:"solcVersion,omitempty" yaml:"solcVersion,omitempty"`
	IgnoreMetadata bool      `json:"ignoreMetadata" yaml:"ignoreMetadata"`
	Match          bool      `json:"match" yaml:"match"`
	MatchType      string    `json:"matchType" yaml:"matchType"`
	OnChainLength  int       `json:"onChainLength" yaml:"onChainLength"`
	LocalLength    int       `json:"localLength" yaml:"localLength"`
	MismatchOffset *int      `json:"mismatchOffset,omitempty" yaml:"mismatchOffset,omitempty"`
	Warnings       []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	DurationMS     int64     `json:"durationMs" yaml:"durationMs"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
}

func newHistoryEntry(run storage.Run) historyEntry {
	return historyEntry{
		ID:             run.ID,
		Contract:       run.Contract,
		Address:        run.Address,
		Source:         run.Source,
		SolcVersion:    run.SolcVersion,
		IgnoreMetadata: run.IgnoreMetadata,
		Match:          run.Match,
		MatchType:      run.MatchType,
		OnChainLength:  run.OnChainLength,
		LocalLength:    run.LocalLength,
		MismatchOffset: run.MismatchOffset,
		Warnings:       run.Warnings,
		DurationMS:     run.DurationMS,
		CreatedAt:      run.CreatedAt.UTC(),
	}
}

func createHistoryCmd(opts *options) *cobra.Command {
	var limit int
	var contract string
	var address string
	var failedOnly bool
	var output string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verification runs",
		Long: `List verification runs recorded with --history or HISTORY_DSN, newest first.

EXAMPLES:
  # Last 20 runs
  verify-bytecode history --history .verify/history.db

  # Failed runs for one contract as JSON
  verify-bytecode history --contract KustodiaEscrow --failed -o json

  # One run in full
  verify-bytecode history show 3f2a9c1e-...
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > storage.MaxLimit {
				return fmt.Errorf("--limit must be between 1 and %d, got %d", storage.MaxLimit, limit)
			}
			f, err := parseFormat(output)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.History.DSN == "" {
				return ErrHistoryDisabled
			}
			logger := setupLogger(cfg, cmd.ErrOrStderr())

			filter := storage.RunFilter{Contract: contract, Address: address}
			if failedOnly {
				matched := false
				filter.Match = &matched
			}

			return runHistory(cmd.Context(), cmd.OutOrStdout(), cfg.History.DSN, logger, filter, limit, f)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", storage.DefaultLimit, "maximum number of runs to show")
	cmd.Flags().StringVar(&contract, "contract", "", "only runs for this contract")
	cmd.Flags().StringVar(&address, "address", "", "only runs for this address")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only runs that did not match")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")

	cmd.AddCommand(createHistoryShowCmd(opts))

	return cmd
}

func createHistoryShowCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded verification run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(output)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.History.DSN == "" {
				return ErrHistoryDisabled
			}
			logger := setupLogger(cfg, cmd.ErrOrStderr())

			return runHistoryShow(cmd.Context(), cmd.OutOrStdout(), cfg.History.DSN, logger, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")

	return cmd
}

func runHistoryShow(ctx context.Context, w io.Writer, dsn string, logger *slog.Logger, id string, f format) error {
	store, err := openHistory(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("run %s: %w", id, err)
		}
		return fmt.Errorf("reading run %s: %w", id, err)
	}
	e := newHistoryEntry(*run)

	switch f {
	case formatJSON:
		data, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		return yaml.NewEncoder(w).Encode(e)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", e.ID)
	fmt.Fprintf(tw, "Time:\t%s\n", e.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Contract:\t%s\n", e.Contract)
	fmt.Fprintf(tw, "Address:\t%s\n", e.Address)
	fmt.Fprintf(tw, "Source:\t%s\n", e.Source)
	if e.SolcVersion != "" {
		fmt.Fprintf(tw, "Solc:\t%s\n", e.SolcVersion)
	}
	fmt.Fprintf(tw, "Result:\t%s\n", e.MatchType)
	fmt.Fprintf(tw, "Lengths:\t%d on-chain, %d local\n", e.OnChainLength, e.LocalLength)
	if e.MismatchOffset != nil {
		fmt.Fprintf(tw, "First difference:\toffset %d\n", *e.MismatchOffset)
	}
	for _, warning := range e.Warnings {
		fmt.Fprintf(tw, "Warning:\t%s\n", warning)
	}
	return tw.Flush()
}

func runHistory(ctx context.Context, w io.Writer, dsn string, logger *slog.Logger, filter storage.RunFilter, limit int, f format) error {
	store, err := openHistory(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.ListRuns(ctx, filter, storage.PaginationParams{Limit: limit})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	entries := make([]historyEntry, 0, len(result.Data))
	for _, run := range result.Data {
		entries = append(entries, newHistoryEntry(run))
	}

	switch f {
	case formatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		return yaml.NewEncoder(w).Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTIME\tCONTRACT\tADDRESS\tRESULT\tOFFSET\tSOURCE")
	for _, e := range entries {
		// Truncate ID for display
		idDisplay := e.ID
		if len(idDisplay) > 8 {
			idDisplay = idDisplay[:8]
		}
		offset := "-"
		if e.MismatchOffset != nil {
			offset = strconv.Itoa(*e.MismatchOffset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			idDisplay, e.CreatedAt.Format(time.DateTime), e.Contract, e.Address, e.MatchType, offset, e.Source)
	}
	tw.Flush()

	if result.HasMore {
		fmt.Fprintf(w, "\n(showing %d runs, more available)\n", len(entries))
	}
	return nil
}

// recordRun appends a verification result to the run history and returns
// the previous run for the same contract and address, or nil for the first.
func recordRun(ctx context.Context, dsn string, logger *slog.Logger, result *domain.VerifyResult) (*storage.Run, error) {
	store, err := openHistory(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	previous, err := store.LatestRun(ctx, result.Contract, result.Address)
	if errors.Is(err, storage.ErrNotFound) {
		previous = nil
	} else if err != nil {
		return nil, fmt.Errorf("reading previous run: %w", err)
	}

	run := &storage.Run{
		ID:             result.RunID,
		Contract:       result.Contract,
		Address:        result.Address,
		Source:         result.Source,
		BuildInfoPath:  result.BuildInfoPath,
		SourcePath:     result.SourcePath,
		SolcVersion:    result.SolcVersion,
		IgnoreMetadata: result.IgnoreMetadata,
		Match:          result.Match,
		MatchType:      result.MatchType,
		OnChainLength:  result.OnChainLength,
		LocalLength:    result.LocalLength,
		Warnings:       result.Warnings,
		DurationMS:     result.Duration.Milliseconds(),
		CreatedAt:      result.StartedAt,
	}
	if result.Mismatch != nil {
		offset := result.Mismatch.Offset
		run.MismatchOffset = &offset
	}

	if err := store.RecordRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	logger.Debug("run recorded", "run_id", run.ID)
	return previous, nil
}

// printPreviousRun tells the operator how the last recorded run went
func printPreviousRun(w io.Writer, result *domain.VerifyResult, previous *storage.Run) {
	if previous == nil {
		fmt.Fprintf(w, "📜 First recorded run for %s at %s\n", result.Contract, result.Address)
		return
	}
	id := previous.ID
	if len(id) > 8 {
		id = id[:8]
	}
	fmt.Fprintf(w, "📜 Previous run: %s on %s (run %s)\n",
		previous.MatchType, previous.CreatedAt.UTC().Format(time.DateTime), id)
}

func openHistory(ctx context.Context, dsn string, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.New(dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating run history: %w", err)
	}
	return store, nil
}
