package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/jitsim/sim/compiler"
	"github.com/inference-sim/jitsim/sim/engine"
)

var (
	scenarioPath string // Scenario file (.yaml or .toml)
	catalogPath  string // Catalog of model sources for `models`
	seed         int64  // Overrides the scenario seed when set
	traceLevel   string // Overrides the scenario trace level when set
	logLevel     string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "jitsim",
	Short: "Just-in-time virtual instance collections for a simulation engine",
}

// runCmd executes a scenario file against the in-memory engine
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}
		sc, err := LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("Failed to load scenario: %v", err)
		}
		if cmd.Flags().Changed("seed") {
			sc.Session.Seed = seed
		}
		if cmd.Flags().Changed("trace-level") {
			sc.Session.TraceLevel = traceLevel
			if err := sc.Session.Validate(); err != nil {
				logrus.Fatalf("Invalid --trace-level: %v", err)
			}
		}

		runner, err := NewRunner(sc, cmd.OutOrStdout())
		if err != nil {
			logrus.Fatalf("Failed to start session: %v", err)
		}
		if err := runner.Run(context.Background()); err != nil {
			logrus.Fatalf("Scenario failed: %v", err)
		}
		logrus.Info("Scenario complete.")
	},
}

// modelsCmd lists the models a session could create
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List builtin and catalog models",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		var cat *compiler.Catalog
		if catalogPath != "" {
			var err error
			if cat, err = compiler.LoadCatalog(catalogPath); err != nil {
				logrus.Fatalf("Failed to load catalog: %v", err)
			}
		}
		printModels(cmd, cat)
	},
}

func printModels(cmd *cobra.Command, cat *compiler.Catalog) {
	out := cmd.OutOrStdout()
	builtin := color.New(color.FgGreen)
	source := color.New(color.FgYellow)
	for _, m := range engine.Builtins() {
		builtin.Fprintf(out, "%-20s", m.Name)
		fmt.Fprintf(out, " builtin   %s\n", m.Kind)
	}
	if cat == nil {
		return
	}
	for _, name := range cat.Names() {
		src, _ := cat.Lookup(name)
		origin := "compiled"
		if src.Library != "" {
			origin = "library:" + src.Library
		}
		source.Fprintf(out, "%-20s", name)
		fmt.Fprintf(out, " %s\n", origin)
	}
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario file (.yaml or .toml)")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Seed for deferred values (overrides the scenario)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Trace verbosity: none, ranges (overrides the scenario)")

	modelsCmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog file of model sources")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modelsCmd)
}
