package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kustodia/verify-bytecode/internal/config"
)

func createConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd(opts))
	cmd.AddCommand(createConfigShowCmd(opts))

	return cmd
}

func createConfigInitCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a verify.toml configuration file in the current directory.

The file holds the verification target and explorer settings. The API key
is never written to it; keep ARBISCAN_API_KEY in the environment or .env.

EXAMPLES:
  # Create config with the default target
  verify-bytecode config init

  # Create config for a specific contract
  verify-bytecode config init --address 0x... --contract MyContract

  # Overwrite existing config
  verify-bytecode config init --force
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), opts, force)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "contract address")
	cmd.Flags().StringVar(&opts.buildInfo, "build-info", "", "build-info JSON path")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "contract name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the effective configuration and where it came from.

EXAMPLES:
  verify-bytecode config show
  verify-bytecode config show --env-file ci.env
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), opts)
		},
	}
}

func runConfigInit(w io.Writer, opts *options, force bool) error {
	configPath := opts.configFile
	if configPath == "" {
		configPath = config.ProjectConfigFiles[0]
	}

	if !force {
		candidates := config.ProjectConfigFiles
		if opts.configFile != "" {
			candidates = []string{opts.configFile}
		}
		for _, cfgFile := range candidates {
			if _, err := os.Stat(cfgFile); err == nil {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", cfgFile)
			}
		}
	}

	address := or(opts.address, config.DefaultContractAddress)
	buildInfo := or(opts.buildInfo, config.DefaultBuildInfoPath)
	contract := or(opts.contract, config.DefaultContractName)

	content := fmt.Sprintf(`# verify-bytecode project configuration
# Environment variables and flags override these values.
# ARBISCAN_API_KEY is read from the environment or .env only.

address = "%s"
build_info_path = "%s"
contract_name = "%s"

# Read code from a JSON-RPC node instead of the explorer
# rpc = "https://arb1.arbitrum.io/rpc"

[explorer]
url = "%s"
timeout = %d
rps = %g

[logging]
level = "warn"
format = "text"

# [metrics]
# pushgateway_url = "http://localhost:9091"
# job = "%s"
`, address, buildInfo, contract,
		config.DefaultExplorerURL, config.DefaultExplorerTimeout, config.DefaultExplorerRPS,
		config.DefaultPushgatewayJob)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Address:    %s\n", address)
	fmt.Fprintf(w, "  Build info: %s\n", buildInfo)
	fmt.Fprintf(w, "  Contract:   %s\n", contract)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Put ARBISCAN_API_KEY in .env or the environment")
	fmt.Fprintln(w, "  2. Run 'verify-bytecode' to compare the deployed bytecode")

	return nil
}

func runConfigShow(w io.Writer, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Fprintln(w, "Configuration sources (in order of precedence):")
	fmt.Fprintln(w, "  flags, environment, files, built-in defaults")
	if len(cfg.Sources) == 0 {
		fmt.Fprintln(w, "  Files: (none found)")
	} else {
		for _, source := range cfg.Sources {
			fmt.Fprintf(w, "  File:  %s\n", source)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "  Address:    %s\n", cfg.Target.Address)
	fmt.Fprintf(w, "  Build info: %s\n", cfg.Target.BuildInfoPath)
	fmt.Fprintf(w, "  Contract:   %s\n", cfg.Target.ContractName)
	if cfg.UsesExplorer() {
		fmt.Fprintf(w, "  Explorer:   %s (timeout %ds, %g req/s)\n", cfg.Explorer.URL, cfg.Explorer.Timeout, cfg.Explorer.RPS)
	} else {
		fmt.Fprintf(w, "  RPC:        %s\n", cfg.RPC.URL)
	}
	if cfg.Explorer.APIKey != "" {
		fmt.Fprintf(w, "  API Key:    %s\n", maskAPIKey(cfg.Explorer.APIKey))
	} else {
		fmt.Fprintln(w, "  API Key:    (not set)")
	}
	fmt.Fprintf(w, "  Logging:    %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Metrics.PushgatewayURL != "" {
		fmt.Fprintf(w, "  Metrics:    %s (job %s)\n", cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)
	}

	return nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
