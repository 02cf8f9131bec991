package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	serveradapter "github.com/markumedium/loading-server/internal/adapters/server"
	"github.com/spf13/cobra"
)

// version stores a package-level helper value.
var version = "dev"

// program represents program data used by this package.
type program interface {
	Run() (tea.Model, error)
}

// programFactory stores a package-level helper value.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if args == nil {
		args = []string{}
	}

	state := newCLIState(stdout, stderr)
	defer func() {
		if closeErr := state.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(stderr, "warning: close runtime: %v\n", closeErr)
		}
	}()

	root := newRootCommand(state)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(os.Stdin)
	return fang.Execute(ctx, root, fang.WithVersion(version), fang.WithoutManpage())
}

// newRootCommand builds the command tree; running it bare opens the board.
func newRootCommand(state *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:   "yard",
		Short: "Track vehicles through the loading yard",
		Long: "yard records each vehicle's trip through the yard cycle " +
			"(at yard → loading → ready to depart → departed), alerts on long loading, " +
			"and reports time spent in each state per day.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "board", state.runBoard)
		},
	}
	state.bindGlobalFlags(root)

	root.AddCommand(
		newPathsCommand(state),
		newServeCommand(state),
		newVehicleCommand(state),
		newTransitionCommand(state),
		newRolloverCommand(state),
		newReportCommand(state),
		newHistoryCommand(state),
		newExportCommand(state),
		newImportCommand(state),
		newBoardCommand(state),
	)
	return root
}
