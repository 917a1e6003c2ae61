package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/dessim/sim"
	"github.com/inference-sim/dessim/sim/flowline"
	"github.com/inference-sim/dessim/sim/trace"
)

var (
	configPath string  // Scenario YAML file
	seed       int64   // Seed overriding the scenario seed
	horizon    float64 // Simulated time limit overriding the scenario horizon
	logLevel   string  // Log verbosity level
	traceDB    string  // SQLite file receiving the run trace
	traceLevel string  // Trace verbosity: none, processes, events
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dessim",
	Short: "Process-oriented discrete-event simulator",
}

// runOptions are the resolved inputs of one `run` invocation.
type runOptions struct {
	scenario   Scenario
	traceDB    string
	traceLevel trace.TraceLevel
}

// runCmd runs a flow-line scenario
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a flow-line scenario",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		opts, err := resolveOptions(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := runScenario(opts, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// resolveOptions loads the scenario and applies flag overrides. Flags only
// override the file when they were set explicitly.
func resolveOptions(cmd *cobra.Command) (runOptions, error) {
	sc := defaultScenario()
	if configPath != "" {
		loaded, err := LoadScenario(configPath)
		if err != nil {
			return runOptions{}, err
		}
		sc = loaded
	}
	if cmd.Flags().Changed("seed") {
		sc.Seed = seed
	}
	if cmd.Flags().Changed("horizon") {
		sc.Horizon = horizon
	}
	if err := sc.Validate(); err != nil {
		return runOptions{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if !trace.IsValidTraceLevel(traceLevel) {
		return runOptions{}, fmt.Errorf("invalid trace level %q (valid: none, processes, events)", traceLevel)
	}
	lvl := trace.TraceLevel(traceLevel)
	if traceDB != "" && (lvl == "" || lvl == trace.TraceLevelNone) {
		lvl = trace.TraceLevelProcesses
	}
	return runOptions{scenario: sc, traceDB: traceDB, traceLevel: lvl}, nil
}

// runScenario builds the model, optionally attaches a SQLite trace, runs it
// and prints the report to out.
func runScenario(opts runOptions, out io.Writer) error {
	sc := opts.scenario
	logrus.Infof("Starting scenario %s with %d jobs, %d stations, seed=%d, horizon=%g",
		sc.Name, sc.Jobs, len(sc.Stations), sc.Seed, sc.Horizon)

	model, err := flowline.New(sc.Config, sim.NewSimulationKey(sc.Seed))
	if err != nil {
		return err
	}

	var rec *trace.SQLiteRecorder
	var tap *trace.Tap
	if opts.traceDB != "" {
		store, err := trace.OpenStore(opts.traceDB)
		if err != nil {
			return err
		}
		defer store.Close()
		rec, err = store.NewRun(sc.Name, sc.Seed)
		if err != nil {
			return err
		}
		tap = trace.Attach(model.Simulator(), rec, opts.traceLevel)
	}

	startTime := time.Now()
	report, err := model.Run()
	if err != nil {
		return err
	}
	wall := time.Since(startTime)

	if rec != nil {
		if err := rec.Flush(); err != nil {
			return err
		}
		if err := tap.Err(); err != nil {
			return fmt.Errorf("trace incomplete: %w", err)
		}
		logrus.Infof("Trace of run %s written to %s", rec.RunID(), opts.traceDB)
	}

	printReport(out, sc.Name, report, wall)
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerRunFlags binds the `run` flags of cmd to the package flag variables.
func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML file (default: built-in three-station line)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Seed for all random streams, overrides the scenario seed")
	cmd.Flags().Float64Var(&horizon, "horizon", 0, "Simulated time limit, 0 runs until all jobs are done")
	cmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	cmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite file to record the run trace into")
	cmd.Flags().StringVar(&traceLevel, "trace", "none", "Trace level (none, processes, events)")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
