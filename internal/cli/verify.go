package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kustodia/verify-bytecode/internal/chains"
	"github.com/kustodia/verify-bytecode/internal/chains/evm"
	"github.com/kustodia/verify-bytecode/internal/config"
	"github.com/kustodia/verify-bytecode/internal/explorer"
	"github.com/kustodia/verify-bytecode/internal/middleware/logging"
	"github.com/kustodia/verify-bytecode/internal/observability/metrics"
	"github.com/kustodia/verify-bytecode/internal/verification/domain"
)

func runVerify(cmd *cobra.Command, opts *options) error {
	format, err := parseFormat(opts.output)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg, cmd.ErrOrStderr())

	// Nothing touches the network before this check
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Progress goes to stderr when stdout carries a structured report
	progressOut := cmd.OutOrStdout()
	if format != formatText {
		progressOut = cmd.ErrOrStderr()
	}

	source := newBytecodeSource(cfg, logger)

	fmt.Fprintf(progressOut, "🔍 Verifying %s\n", cfg.Target.ContractName)
	fmt.Fprintf(progressOut, "   Address:    %s\n", cfg.Target.Address)
	fmt.Fprintf(progressOut, "   Build info: %s\n", cfg.Target.BuildInfoPath)
	fmt.Fprintf(progressOut, "   Source:     %s\n", describeSource(cfg))
	if opts.ignoreMetadata {
		fmt.Fprintln(progressOut, "   Metadata:   ignored (trailing 43 bytes stripped)")
	}
	if opts.resolveProxy {
		fmt.Fprintln(progressOut, "   Proxy:      resolving EIP-1967 implementation")
	}
	fmt.Fprintln(progressOut)

	svc := domain.NewService(source, logger, domain.WithProgress(progressPrinter(progressOut)))

	result, err := svc.Verify(cmd.Context(), domain.VerifyRequest{
		Address:        cfg.Target.Address,
		BuildInfoPath:  cfg.Target.BuildInfoPath,
		ContractName:   cfg.Target.ContractName,
		IgnoreMetadata: opts.ignoreMetadata,
		ResolveProxy:   opts.resolveProxy,
	})
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), format, result); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if cfg.Metrics.PushgatewayURL != "" {
		recorder := metrics.NewRecorder()
		recorder.Observe(metrics.Run{
			Contract:       result.Contract,
			Address:        result.Address,
			Source:         result.Source,
			IgnoreMetadata: result.IgnoreMetadata,
			Match:          result.Match,
			MatchType:      result.MatchType,
			OnChainLength:  result.OnChainLength,
			LocalLength:    result.LocalLength,
			Duration:       result.Duration,
		})
		if err := recorder.Push(cmd.Context(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, result.Contract); err != nil {
			logger.Warn("metrics push failed", "error", err)
		} else {
			logger.Debug("metrics pushed", "url", cfg.Metrics.PushgatewayURL, "job", cfg.Metrics.Job)
		}
	}

	if cfg.History.DSN != "" {
		previous, err := recordRun(cmd.Context(), cfg.History.DSN, logger, result)
		if err != nil {
			logger.Warn("recording run failed", "error", err)
		} else {
			printPreviousRun(progressOut, result, previous)
		}
	}

	if !result.Match && opts.failOnMismatch {
		return ErrMismatch
	}
	return nil
}

// newBytecodeSource picks the node when an RPC URL is configured, the explorer otherwise
func newBytecodeSource(cfg *config.Config, logger *slog.Logger) chains.BytecodeSource {
	httpClient := &http.Client{Transport: logging.Transport(logger, nil)}

	if !cfg.UsesExplorer() {
		return evm.NewRPCSource(cfg.RPC.URL, evm.WithRPCHTTPClient(httpClient))
	}
	return explorer.New(cfg.Explorer.APIKey,
		explorer.WithHTTPClient(httpClient),
		explorer.WithBaseURL(cfg.Explorer.URL),
		explorer.WithTimeout(time.Duration(cfg.Explorer.Timeout)*time.Second),
		explorer.WithRateLimit(cfg.Explorer.RPS),
	)
}

func describeSource(cfg *config.Config) string {
	if !cfg.UsesExplorer() {
		return "rpc " + cfg.RPC.URL
	}
	return "explorer " + cfg.Explorer.URL
}

func progressPrinter(w io.Writer) domain.ProgressFunc {
	return func(stage domain.Stage, message string) {
		var icon string
		switch stage {
		case domain.StageResolve:
			icon = "🔗"
		case domain.StageFetch:
			icon = "🌐"
		case domain.StageExtract:
			icon = "📦"
		case domain.StageNormalize:
			icon = "✂️ "
		case domain.StageCompare:
			icon = "⚖️ "
		}
		fmt.Fprintf(w, "%s %s...\n", icon, message)
	}
}
