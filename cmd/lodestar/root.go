package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/ui"
)

var (
	jsonOutput  bool
	schemaFlag  bool
	explainFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "lodestar",
	Short: "Coordinate many agents against one shared task spec",
	Long: `Lodestar coordinates many agents working against one shared task spec:
a committed YAML plane for tasks and project metadata, and a local
SQLite plane for agents, leases, messages, and the event log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"suppress decorative output; print the envelope as a single JSON object on stdout")
	rootCmd.PersistentFlags().BoolVar(&schemaFlag, "schema", false,
		"print the JSON Schema for this operation's output and exit")
	rootCmd.PersistentFlags().BoolVar(&explainFlag, "explain", false,
		"print a static doc string for this operation and exit")

	rootCmd.AddGroup(
		&cobra.Group{ID: "repo", Title: "Repository:"},
		&cobra.Group{ID: "agent", Title: "Agents:"},
		&cobra.Group{ID: "task", Title: "Tasks:"},
		&cobra.Group{ID: "message", Title: "Messaging:"},
		&cobra.Group{ID: "events", Title: "Events & export:"},
		&cobra.Group{ID: "serve", Title: "Service mode:"},
	)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	exitCode = 0
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// exitCode is what Execute returns when a command finishes without
// emitting; emit/emitErr never set it, they exit the process. Cobra's
// RunE contract wants an error, not an exit code, but the envelope
// model (spec.md §6.4) needs three failure buckets, not one — so
// command bodies call os.Exit directly via emit/emitErr and this
// value is only ever observed by Execute on the (never reached in
// practice) success path where RunE returns nil without emitting.
var exitCode int

// openCoordinator resolves the repository anchor (honoring
// LODESTAR_REPO) and opens the coordinator over it.
func openCoordinator(ctx context.Context) (*coordinator.Coordinator, error) {
	return coordinator.Open(ctx, ".", config.LockTimeout(), config.BusyTimeout())
}

// runOp is the common harness around every coordinator operation:
// --explain and --schema short-circuit before the repo is touched;
// otherwise it opens the coordinator, runs fn, and prints either the
// raw JSON envelope (--json) or a decorative rendering, exiting with
// spec.md §6.4's closed exit-code set.
func runOp[T any](opName, explain string, fn func(ctx context.Context, c *coordinator.Coordinator) (T, []envelope.Intent, []string, error), render func(T)) {
	if explainFlag {
		fmt.Println(explain)
		os.Exit(0)
	}
	if schemaFlag {
		printSchema(opName)
		os.Exit(0)
	}

	ctx := context.Background()
	c, err := openCoordinator(ctx)
	if err != nil {
		emitErr[T](err)
	}
	defer c.Close()

	data, next, warnings, err := fn(ctx, c)
	if err != nil {
		emitErr[T](err)
	}

	env := envelope.Ok(data, envelope.WithNext[T](next...), envelope.WithWarnings[T](warnings...))
	emit(env, render)
}

func printSchema(opName string) {
	s, ok := envelope.Lookup(opName)
	if !ok {
		fmt.Fprintf(os.Stderr, "no schema registered for %q\n", opName)
		os.Exit(1)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func emit[T any](env envelope.Envelope[T], render func(T)) {
	if jsonOutput {
		printEnvelope(env)
	} else if render != nil {
		render(env.Data)
		for _, w := range env.Warnings {
			fmt.Fprintln(os.Stderr, warnStyle.Render("warning: "+w))
		}
	} else {
		printEnvelope(env)
	}
	os.Exit(0)
}

func emitErr[T any](err error) {
	env := envelope.Err[T](err)
	if jsonOutput {
		printEnvelope(env)
	} else {
		fmt.Fprintln(os.Stderr, errStyle.Render(fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)))
	}
	os.Exit(exitCodeFor(env.Error))
}

func printEnvelope[T any](env envelope.Envelope[T]) {
	b, err := json.Marshal(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func exitCodeFor(e *engineerr.Error) int {
	if e == nil {
		return 1
	}
	switch e.Code {
	case engineerr.LockTimeout, engineerr.RuntimeBusy, engineerr.RuntimeCorrupt:
		return 3
	case engineerr.NotInitialized, engineerr.SpecMalformed, engineerr.SpecInvariantViolation,
		engineerr.TaskNotFound, engineerr.TaskNotClaimable, engineerr.TaskAlreadyClaimed,
		engineerr.TaskLeaseNotHeld, engineerr.TaskStateConflict, engineerr.AgentNotRegistered,
		engineerr.AgentAlreadyExists, engineerr.MessageTooLarge, engineerr.MessageRecipientInvalid,
		engineerr.InvalidInput:
		return 2
	default:
		return 1
	}
}

var (
	warnStyle = lipgloss.NewStyle().Foreground(ui.ColorWarn)
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(ui.ColorWarn)
)

func width() int {
	return ui.GetWidth()
}
