package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kustodia/verify-bytecode/internal/config"
)

// options holds the global and verification flags
type options struct {
	configFile string
	envFile    string

	address        string
	buildInfo      string
	contract       string
	apiKey         string
	rpcURL         string
	pushgatewayURL string
	historyDSN     string

	ignoreMetadata bool
	resolveProxy   bool
	failOnMismatch bool
	output         string
}

// Execute runs the CLI
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd(version).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "verify-bytecode",
		Short: "Compare deployed contract bytecode with a local build",
		Long: `verify-bytecode fetches the runtime bytecode deployed at a contract address
from Arbiscan (or a JSON-RPC node) and compares it with the deployed bytecode
of a contract in a local Solidity build-info file.

CONFIGURATION (highest precedence first):
  flags, environment, .env file, verify.toml, built-in defaults

  ESCROW_CONTRACT_ADDRESS  contract address (default ` + config.DefaultContractAddress + `)
  BUILD_INFO_PATH          build-info JSON (default ` + config.DefaultBuildInfoPath + `)
  CONTRACT_NAME            contract name (default ` + config.DefaultContractName + `)
  ARBISCAN_API_KEY         explorer API key (required unless --rpc is set)
  HISTORY_DSN              record runs in SQLite or PostgreSQL (optional)

EXAMPLES:
  # Verify using the environment / .env configuration
  verify-bytecode

  # Ignore the compiler metadata trailer
  verify-bytecode --ignore-metadata

  # The address is an EIP-1967 proxy; verify its implementation
  verify-bytecode --resolve-proxy

  # Read code from a node instead of Arbiscan, fail CI on mismatch
  verify-bytecode --rpc https://arb1.arbitrum.io/rpc --fail-on-mismatch

  # Machine-readable report
  verify-bytecode --output json

  # Record the run and list previous ones
  verify-bytecode --history .verify/history.db
  verify-bytecode history --history .verify/history.db
`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "project config file (default: verify.toml or .verify.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", `dotenv file to load (default: .env, "-" to disable)`)
	rootCmd.PersistentFlags().StringVar(&opts.historyDSN, "history", "", "record runs in this SQLite file or postgres:// database (overrides HISTORY_DSN)")

	// Verification flags
	flags := rootCmd.Flags()
	flags.BoolVar(&opts.ignoreMetadata, "ignore-metadata", false, "strip the trailing 43-byte metadata hash before comparing")
	flags.BoolVar(&opts.resolveProxy, "resolve-proxy", false, "treat the address as an EIP-1967 proxy and verify its implementation")
	flags.StringVar(&opts.address, "address", "", "contract address (overrides ESCROW_CONTRACT_ADDRESS)")
	flags.StringVar(&opts.buildInfo, "build-info", "", "build-info JSON path (overrides BUILD_INFO_PATH)")
	flags.StringVar(&opts.contract, "contract", "", "contract name (overrides CONTRACT_NAME)")
	flags.StringVar(&opts.apiKey, "api-key", "", "explorer API key (overrides ARBISCAN_API_KEY)")
	flags.StringVar(&opts.rpcURL, "rpc", "", "read bytecode from this JSON-RPC node instead of the explorer")
	flags.StringVar(&opts.pushgatewayURL, "pushgateway", "", "push result metrics to this Prometheus Pushgateway")
	flags.StringVarP(&opts.output, "output", "o", "text", "report format: text, json or yaml")
	flags.BoolVar(&opts.failOnMismatch, "fail-on-mismatch", false, "exit with status 2 when the bytecode does not match")

	rootCmd.AddCommand(createConfigCmd(opts))
	rootCmd.AddCommand(createHistoryCmd(opts))

	return rootCmd
}

// loadConfig resolves configuration and applies flag overrides
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: opts.configFile,
		EnvFile:    opts.envFile,
	})
	if err != nil {
		return nil, err
	}

	if opts.address != "" {
		cfg.Target.Address = opts.address
	}
	if opts.buildInfo != "" {
		cfg.Target.BuildInfoPath = opts.buildInfo
	}
	if opts.contract != "" {
		cfg.Target.ContractName = opts.contract
	}
	if opts.apiKey != "" {
		cfg.Explorer.APIKey = opts.apiKey
	}
	if opts.rpcURL != "" {
		cfg.RPC.URL = opts.rpcURL
	}
	if opts.pushgatewayURL != "" {
		cfg.Metrics.PushgatewayURL = opts.pushgatewayURL
	}
	if opts.historyDSN != "" {
		cfg.History.DSN = opts.historyDSN
	}

	return cfg, nil
}
