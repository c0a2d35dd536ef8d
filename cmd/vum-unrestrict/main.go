package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vum-unrestrict/internal/config"
	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/filter"
	"vum-unrestrict/internal/inventory"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/prompt"
	"vum-unrestrict/internal/report"
	"vum-unrestrict/internal/run"
	"vum-unrestrict/internal/target"
	"vum-unrestrict/internal/vsphere"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg *config.Config

	// CLI flags
	controlPlane    string
	targets         string
	targetFile      string
	inventoryFile   string
	filterExpr      string
	username        string
	minCPVersion    string
	minVCVersion    string
	pollInterval    time.Duration
	connectAttempts int
	timeout         time.Duration
	insecure        bool
	caCert          string
	reportMode      string
	reportFile      string
	quiet           bool
	dryRun          bool
	logLevel        string
	logFormat       string
	showProgress    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(int(errclass.CodeFor(err)))
	}
}

var rootCmd = &cobra.Command{
	Use:   "vum-unrestrict",
	Short: "Lift VUM baseline restrictions across a VCF fleet of vCenters",
	Long: `vum-unrestrict connects to every vCenter in a VMware Cloud Foundation
fleet and runs the hardware-compatibility discovery that lifts the VUM
(vSphere Update Manager) baseline restriction on clusters with
heterogeneous hardware.

In orchestrated mode it authenticates to SDDC Manager, discovers the
vCenter of every workload domain, and resolves stored credentials for
each one. In direct mode it processes the vCenters named on the command
line, prompting for credentials.

Every target ends the run in exactly one state, collected into a
consolidated report: Unrestricted, Restricted, N/A (release too old),
Failed, or Not updated.

Examples:
  # Orchestrated: discover and process every workload domain vCenter
  vum-unrestrict --control-plane sddc-manager.corp.example

  # Direct: process two vCenters, prompting for credentials
  vum-unrestrict --targets "vc01.corp.example,administrator@vsphere.local@vc02.corp.example"

  # Direct from a file, exporting the report as YAML
  vum-unrestrict --target-file vcenters.txt --report yaml --report-file report.yaml

  # Restrict an orchestrated run to one workload domain
  vum-unrestrict --control-plane sddc-manager.corp.example --filter "realm:wld-01"

  # Dry run to see the plan without connecting
  vum-unrestrict --targets vc01.corp.example --dry-run`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration from all sources
		configManager := config.NewManager()
		loadedCfg, err := configManager.Load()
		if err != nil {
			return errclass.NewConfigurationError(fmt.Sprintf("failed to load configuration: %v", err), err)
		}
		cfg = loadedCfg

		// Override config with CLI flags if provided
		if err := overrideConfigWithFlags(cmd); err != nil {
			return err
		}

		// Validate that we have at least one target source
		if cfg.ControlPlane == "" && cfg.Targets == "" && cfg.TargetFile == "" && cfg.Inventory == "" {
			return errclass.NewParameterError(
				"must specify --control-plane, --targets, --target-file, or --inventory", nil)
		}
		if cfg.ControlPlane != "" && (cfg.Targets != "" || cfg.TargetFile != "" || cfg.Inventory != "") {
			return errclass.NewParameterError(
				"--control-plane cannot be combined with directly named targets", nil)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(os.Stdout)
	},
}

func init() {
	// Add version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vum-unrestrict %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Add all CLI flags
	rootCmd.Flags().StringVar(&controlPlane, "control-plane", "", "SDDC Manager FQDN for orchestrated discovery")
	rootCmd.Flags().StringVar(&targets, "targets", "", "Comma-separated list of vCenter specifications (user@fqdn)")
	rootCmd.Flags().StringVar(&targetFile, "target-file", "", "Path to file containing vCenter specifications (one per line)")
	rootCmd.Flags().StringVar(&inventoryFile, "inventory", "", "Load vCenter targets from a YAML inventory file")
	rootCmd.Flags().StringVar(&filterExpr, "filter", "", "Filter targets using expression (e.g., 'name:vc01 realm:wld-01')")
	rootCmd.Flags().StringVar(&username, "username", "", "Default login username for prompts")
	rootCmd.Flags().StringVar(&minCPVersion, "min-cp-version", "5.2", "Minimum supported SDDC Manager release")
	rootCmd.Flags().StringVar(&minVCVersion, "min-vc-version", "9.0", "Minimum supported vCenter release")
	rootCmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Interval between discovery task status polls")
	rootCmd.Flags().IntVar(&connectAttempts, "connect-attempts", 3, "Login attempts per endpoint before giving up")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "Per-request HTTP timeout")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	rootCmd.Flags().StringVar(&caCert, "cacert", "", "Path to a PEM CA bundle for endpoint verification")
	rootCmd.Flags().StringVar(&reportMode, "report", "table", "Report format (table, yaml, both)")
	rootCmd.Flags().StringVar(&reportFile, "report-file", "", "Write the YAML report to this path")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show execution plan without connecting")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (json, text)")
	rootCmd.Flags().BoolVar(&showProgress, "progress", true, "Show per-target progress during polling")
}

func overrideConfigWithFlags(cmd *cobra.Command) error {
	// Override configuration with CLI flags if they were explicitly set
	if cmd.Flags().Changed("control-plane") {
		cfg.ControlPlane = controlPlane
	}
	if cmd.Flags().Changed("targets") {
		cfg.Targets = targets
	}
	if cmd.Flags().Changed("target-file") {
		cfg.TargetFile = targetFile
	}
	if cmd.Flags().Changed("inventory") {
		cfg.Inventory = inventoryFile
	}
	if cmd.Flags().Changed("filter") {
		cfg.Filter = filterExpr
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = username
	}
	if cmd.Flags().Changed("min-cp-version") {
		cfg.MinCPVersion = minCPVersion
	}
	if cmd.Flags().Changed("min-vc-version") {
		cfg.MinVCVersion = minVCVersion
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = pollInterval
	}
	if cmd.Flags().Changed("connect-attempts") {
		cfg.ConnectAttempts = connectAttempts
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = timeout
	}
	if cmd.Flags().Changed("insecure") {
		cfg.Insecure = insecure
	}
	if cmd.Flags().Changed("cacert") {
		cfg.CACert = caCert
	}
	if cmd.Flags().Changed("report") {
		cfg.Report = reportMode
	}
	if cmd.Flags().Changed("report-file") {
		cfg.ReportFile = reportFile
	}
	if cmd.Flags().Changed("quiet") {
		cfg.Quiet = quiet
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if cmd.Flags().Changed("progress") {
		cfg.ShowProgress = showProgress
	}

	// Validate the final configuration
	configManager := config.NewManager()
	if err := configManager.Validate(cfg); err != nil {
		return errclass.NewConfigurationError(fmt.Sprintf("configuration validation failed: %v", err), err)
	}

	return nil
}

// parseDirectTargets builds the direct-mode target list from whichever
// source the configuration names
func parseDirectTargets(logger *logging.Logger) ([]target.Target, error) {
	parser := target.NewParser()
	var targets []target.Target
	var err error
	var source string

	if cfg.Inventory != "" {
		source = fmt.Sprintf("inventory file: %s", cfg.Inventory)
		inv, invErr := inventory.LoadInventoryFromFile(cfg.Inventory)
		if invErr != nil {
			logger.LogConfigError(source, invErr)
			return nil, errclass.NewParameterError(fmt.Sprintf("failed to load inventory: %v", invErr), invErr)
		}
		targets, err = inv.LoadTargets()
		if err != nil {
			logger.LogConfigError(source, err)
			return nil, errclass.NewParameterError(fmt.Sprintf("failed to parse inventory targets: %v", err), err)
		}
	} else if cfg.Targets != "" {
		source = "CLI targets parameter"
		targets, err = parser.ParseEndpoints(cfg.Targets)
		if err != nil {
			logger.LogConfigError(source, err)
			return nil, errclass.NewParameterError(fmt.Sprintf("failed to parse targets: %v", err), err)
		}
	} else {
		source = fmt.Sprintf("target file: %s", cfg.TargetFile)
		targets, err = parser.ParseEndpointFile(cfg.TargetFile)
		if err != nil {
			logger.LogConfigError(source, err)
			return nil, errclass.NewParameterError(fmt.Sprintf("failed to parse target file: %v", err), err)
		}
	}

	if len(targets) == 0 {
		return nil, errclass.NewNotFoundError(fmt.Sprintf("no valid targets found in %s", source), nil)
	}

	logger.LogDiscovery(source, len(targets))
	return targets, nil
}

// parseFilters parses the filter expression, if any
func parseFilters() ([]filter.Filter, error) {
	if cfg.Filter == "" {
		return nil, nil
	}
	filters, err := filter.ParseFilterExpression(cfg.Filter)
	if err != nil {
		return nil, errclass.NewParameterError(fmt.Sprintf("failed to parse filter expression: %v", err), err)
	}
	return filters, nil
}

// checkPreconditions verifies the local environment before any connection
// is attempted.
func checkPreconditions() error {
	if cfg.CACert != "" {
		if _, err := os.ReadFile(cfg.CACert); err != nil {
			return errclass.NewPreconditionError(fmt.Sprintf("CA bundle %s is not readable: %v", cfg.CACert, err), err)
		}
	}
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return errclass.NewPreconditionError(fmt.Sprintf("report directory %s does not exist", dir), err)
		}
	}
	return nil
}

// staticCredentialFromEnv builds a credential from the configured password
// environment variable, for non-interactive runs.
func staticCredentialFromEnv() *credential.Credential {
	if cfg.Username == "" || cfg.PasswordEnv == "" {
		return nil
	}
	secret, ok := os.LookupEnv(cfg.PasswordEnv)
	if !ok {
		return nil
	}
	return &credential.Credential{Username: cfg.Username, Secret: []byte(secret)}
}

func executeRun(writer io.Writer) error {
	// Set up logging with proper error handling
	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	if logger == nil {
		return errclass.NewConfigurationError("failed to initialize logger", nil)
	}
	logger.LogConfigLoad("CLI flags and configuration files")

	if err := checkPreconditions(); err != nil {
		return err
	}

	filters, err := parseFilters()
	if err != nil {
		return err
	}

	mode := run.ModeOrchestrated
	var directTargets []target.Target
	if cfg.ControlPlane == "" {
		mode = run.ModeDirect
		directTargets, err = parseDirectTargets(logger)
		if err != nil {
			return err
		}
	}

	// Handle dry-run mode
	if cfg.DryRun {
		return performDryRun(mode, directTargets, writer)
	}

	clientOpts := vsphere.Options{
		Timeout:  cfg.Timeout,
		Insecure: cfg.Insecure,
		CACert:   cfg.CACert,
		Logger:   logger,
	}

	var cp run.ControlPlaneAPI
	if mode == run.ModeOrchestrated {
		cpClient, err := vsphere.NewControlPlaneClient(clientOpts)
		if err != nil {
			return errclass.NewConfigurationError(fmt.Sprintf("failed to initialize control plane client: %v", err), err)
		}
		cp = cpClient
	}
	tg, err := vsphere.NewTargetClient(clientOpts)
	if err != nil {
		return errclass.NewConfigurationError(fmt.Sprintf("failed to initialize vCenter client: %v", err), err)
	}

	// Set up context with proper cancellation handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown handling for SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal, canceling operations", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigChan)

	runID := uuid.NewString()
	runner := run.NewRunner(run.Options{
		Mode:                   mode,
		RunID:                  runID,
		ControlPlane:           cfg.ControlPlane,
		Targets:                directTargets,
		Filters:                filters,
		MinControlPlaneVersion: cfg.MinCPVersion,
		MinTargetVersion:       cfg.MinVCVersion,
		PollInterval:           cfg.PollInterval,
		ShowProgress:           cfg.ShowProgress && !cfg.Quiet,
		ConnectAttempts:        cfg.ConnectAttempts,
		DefaultUsername:        cfg.Username,
		StaticCredential:       staticCredentialFromEnv(),
		Writer:                 writer,
	}, logger, prompt.New(), cp, tg)

	agg, runErr := runner.Run(ctx)

	// Render whatever was recorded, even after a failed run
	if agg.Len() > 0 {
		if err := renderReport(agg, runID, writer); err != nil {
			logger.Error("Failed to render report", "error", err.Error())
		}
	}

	return runErr
}

// renderReport writes the consolidated report to the terminal and, when
// configured, exports the YAML document to a file.
func renderReport(agg *report.Aggregator, runID string, writer io.Writer) error {
	var mode report.OutputMode
	switch cfg.Report {
	case "table":
		mode = report.TableMode
	case "yaml":
		mode = report.YAMLMode
	case "both":
		mode = report.BothMode
	default:
		return errclass.NewParameterError(fmt.Sprintf("invalid report mode: %s", cfg.Report), nil)
	}

	if !cfg.Quiet {
		formatter := report.NewFormatter(mode, writer, runID)
		if err := formatter.Render(agg); err != nil {
			return err
		}
	}

	if cfg.ReportFile != "" {
		f, err := os.Create(cfg.ReportFile)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		fileFormatter := report.NewFormatter(report.YAMLMode, f, runID)
		if err := fileFormatter.Render(agg); err != nil {
			return err
		}
	}
	return nil
}

func performDryRun(mode run.Mode, targets []target.Target, writer io.Writer) error {
	fmt.Fprintln(writer, "vum-unrestrict Dry Run - Execution Plan")
	fmt.Fprintln(writer, "=======================================")
	fmt.Fprintln(writer)

	fmt.Fprintln(writer, "Configuration:")
	fmt.Fprintf(writer, "  Mode: %s\n", mode)
	if mode == run.ModeOrchestrated {
		fmt.Fprintf(writer, "  Control Plane: %s\n", cfg.ControlPlane)
		fmt.Fprintf(writer, "  Minimum SDDC Manager Release: %s\n", cfg.MinCPVersion)
	} else {
		fmt.Fprintf(writer, "  Total Targets: %d\n", len(targets))
	}
	fmt.Fprintf(writer, "  Minimum vCenter Release: %s\n", cfg.MinVCVersion)
	fmt.Fprintf(writer, "  Poll Interval: %v\n", cfg.PollInterval)
	fmt.Fprintf(writer, "  Connection Attempts: %d\n", cfg.ConnectAttempts)
	fmt.Fprintf(writer, "  Request Timeout: %v\n", cfg.Timeout)
	fmt.Fprintf(writer, "  TLS Verification: %t\n", !cfg.Insecure)
	fmt.Fprintf(writer, "  Report Format: %s\n", cfg.Report)
	if cfg.ReportFile != "" {
		fmt.Fprintf(writer, "  Report File: %s\n", cfg.ReportFile)
	}
	if cfg.Filter != "" {
		fmt.Fprintf(writer, "  Filter: %s\n", cfg.Filter)
	}
	fmt.Fprintln(writer)

	if len(targets) > 0 {
		fmt.Fprintf(writer, "Target Details:\n")
		for i, t := range targets {
			fmt.Fprintf(writer, "  %d. %s\n", i+1, t.Original)
			user := t.Username
			if user == "" {
				user = cfg.Username
			}
			if user == "" {
				user = "(prompted)"
			}
			fmt.Fprintf(writer, "     → User: %s\n", user)
		}
		fmt.Fprintln(writer)
	}

	fmt.Fprintf(writer, "Execution Flow:\n")
	step := 1
	if mode == run.ModeOrchestrated {
		fmt.Fprintf(writer, "  %d. Authenticate to SDDC Manager %s and check its release\n", step, cfg.ControlPlane)
		step++
		fmt.Fprintf(writer, "  %d. Discover the vCenter of every workload domain\n", step)
		step++
		fmt.Fprintf(writer, "  %d. Resolve stored credentials for each vCenter\n", step)
		step++
	}
	fmt.Fprintf(writer, "  %d. Connect to each vCenter in turn and check its release against %s\n", step, cfg.MinVCVersion)
	step++
	fmt.Fprintf(writer, "  %d. Invoke hardware-compatibility discovery and poll every %v until done\n", step, cfg.PollInterval)
	step++
	fmt.Fprintf(writer, "  %d. Render the consolidated per-target report\n", step)
	fmt.Fprintln(writer)

	fmt.Fprintf(writer, "Note: This is a dry run. No connections will be established.\n")
	fmt.Fprintf(writer, "To execute for real, remove the --dry-run flag.\n")

	return nil
}
