package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/markumedium/loading-server/internal/adapters/server/common"
	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/tui"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newPathsCommand prints resolved file locations without opening storage.
func newPathsCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := state.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", state.opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", state.opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "env: %s\n", paths.EnvPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "history_dir: %s\n", paths.HistoryDir)
			return nil
		},
	}
}

// newVehicleCommand groups registry maintenance.
func newVehicleCommand(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vehicle",
		Aliases: []string{"vehicles"},
		Short:   "Manage the vehicle registry",
	}

	var asJSON bool
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered vehicles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "vehicle list", func(ctx context.Context, rt *appRuntime) error {
				vehicles, err := yardAdapter(rt).ListVehicles(ctx, status)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), vehicles)
				}
				return writeVehicleTable(cmd.OutOrStdout(), vehicles)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "only list vehicles in this status")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var model, plate string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a vehicle at the yard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "vehicle add", func(ctx context.Context, rt *appRuntime) error {
				vehicle, err := yardAdapter(rt).RegisterVehicle(ctx, common.RegisterVehicleRequest{Model: model, LicensePlate: plate})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), vehicle)
			})
		},
	}
	add.Flags().StringVar(&model, "model", "", "vehicle model")
	add.Flags().StringVar(&plate, "plate", "", "license plate")
	_ = add.MarkFlagRequired("model")
	_ = add.MarkFlagRequired("plate")

	var newModel, newPlate string
	update := &cobra.Command{
		Use:   "update <vehicle-id>",
		Short: "Change a vehicle's model or plate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.runCommand(cmd, "vehicle update", func(ctx context.Context, rt *appRuntime) error {
				vehicle, err := yardAdapter(rt).UpdateVehicle(ctx, common.UpdateVehicleRequest{
					ID:           args[0],
					Model:        newModel,
					LicensePlate: newPlate,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), vehicle)
			})
		},
	}
	update.Flags().StringVar(&newModel, "model", "", "vehicle model")
	update.Flags().StringVar(&newPlate, "plate", "", "license plate")

	remove := &cobra.Command{
		Use:     "remove <vehicle-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a vehicle; its history stays",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.runCommand(cmd, "vehicle remove", func(ctx context.Context, rt *appRuntime) error {
				if err := yardAdapter(rt).RemoveVehicle(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return err
			})
		},
	}

	cmd.AddCommand(list, add, update, remove)
	return cmd
}

// newTransitionCommand moves one vehicle to the next status.
func newTransitionCommand(state *cliState) *cobra.Command {
	var (
		at     string
		weight float64
	)
	cmd := &cobra.Command{
		Use:   "transition <vehicle-id> <status>",
		Short: "Move a vehicle to its next status",
		Long: "Statuses: " + strings.Join(common.SupportedStatuses(), ", ") + ". " +
			"Only the next status in the cycle is accepted.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.runCommand(cmd, "transition", func(ctx context.Context, rt *appRuntime) error {
				req := common.TransitionRequest{VehicleID: args[0], Status: args[1], Timestamp: at}
				if cmd.Flags().Changed("weight") {
					w := weight
					req.Weight = &w
				}
				res, err := yardAdapter(rt).Transition(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "event time, e.g. \"2026-03-02 08:15:00\" (defaults to now)")
	cmd.Flags().Float64Var(&weight, "weight", 0, "loaded weight recorded on ready_to_depart")
	return cmd
}

// newRolloverCommand runs the end-of-shift reset locally.
func newRolloverCommand(state *cliState) *cobra.Command {
	var (
		cascade bool
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Return every vehicle to the yard and start its next cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "rollover", func(ctx context.Context, rt *appRuntime) error {
				parsed, err := app.ParseRolloverMode(mode)
				if err != nil {
					return err
				}
				if cascade {
					parsed = app.RolloverCascade
				}
				res, err := rt.svc.Rollover(ctx, parsed)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), common.RolloverResponse{
					Mode:      string(res.Mode),
					Day:       res.Day,
					Timestamp: res.Timestamp,
					Vehicles:  res.Vehicles,
					Events:    res.Events,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "record every skipped status on the way back")
	cmd.Flags().StringVar(&mode, "mode", string(app.RolloverSingleJump), "rollover mode (single_jump|cascade)")
	return cmd
}

// reportFlags selects one day or a range.
type reportFlags struct {
	date  string
	start string
	end   string
}

func (f *reportFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "day as YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&f.start, "start", "", "first day of a range")
	cmd.Flags().StringVar(&f.end, "end", "", "last day of a range")
	cmd.MarkFlagsMutuallyExclusive("date", "start")
	cmd.MarkFlagsMutuallyExclusive("date", "end")
	cmd.MarkFlagsRequiredTogether("start", "end")
}

func (f reportFlags) request() common.ReportRequest {
	return common.ReportRequest{Date: f.date, Start: f.start, End: f.end}
}

// newReportCommand prints the duration tables.
func newReportCommand(state *cliState) *cobra.Command {
	var (
		sel    reportFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the duration report for a day or range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "report", func(ctx context.Context, rt *appRuntime) error {
				reports, err := yardAdapter(rt).Reports(ctx, sel.request())
				if err != nil {
					return err
				}
				switch strings.ToLower(strings.TrimSpace(format)) {
				case "json":
					encoded, err := json.MarshalIndent(reports, "", "  ")
					if err != nil {
						return fmt.Errorf("encode report json: %w", err)
					}
					return writeFileOrStdout(cmd.OutOrStdout(), out, append(encoded, '\n'))
				case "markdown", "md", "":
					parts := make([]string, 0, len(reports))
					for _, report := range reports {
						parts = append(parts, report.Markdown)
					}
					markdown := strings.Join(parts, "\n---\n\n")
					if out == "" || out == "-" {
						return writeMarkdown(cmd.OutOrStdout(), markdown)
					}
					return writeFileOrStdout(cmd.OutOrStdout(), out, []byte(markdown))
				default:
					return fmt.Errorf("unsupported report format %q", format)
				}
			})
		},
	}
	sel.bind(cmd)
	cmd.Flags().StringVar(&format, "format", "markdown", "output format (markdown|json)")
	cmd.Flags().StringVar(&out, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

// newHistoryCommand prints raw stored events.
func newHistoryCommand(state *cliState) *cobra.Command {
	var sel reportFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored status events for a day or range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "history", func(ctx context.Context, rt *appRuntime) error {
				days, err := yardAdapter(rt).History(ctx, sel.request())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), days)
			})
		},
	}
	sel.bind(cmd)
	return cmd
}

// newExportCommand writes a snapshot of the registry and every partition.
func newExportCommand(state *cliState) *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export registry and history as a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "export", func(ctx context.Context, rt *appRuntime) error {
				snap, err := rt.svc.ExportSnapshot(ctx)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				encoded, err := encodeSnapshot(snap, snapshotFormat(format, out))
				if err != nil {
					return err
				}
				return writeFileOrStdout(cmd.OutOrStdout(), out, encoded)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "", "snapshot format (json|yaml); defaults from --out extension")
	return cmd
}

// newImportCommand merges a snapshot into storage.
func newImportCommand(state *cliState) *cobra.Command {
	var (
		in     string
		format string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a snapshot; existing events are not duplicated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "import", func(ctx context.Context, rt *appRuntime) error {
				var (
					content []byte
					err     error
				)
				if in == "-" {
					content, err = io.ReadAll(cmd.InOrStdin())
				} else {
					content, err = os.ReadFile(in)
				}
				if err != nil {
					return fmt.Errorf("read import file: %w", err)
				}
				snap, err := decodeSnapshot(content, snapshotFormat(format, in))
				if err != nil {
					return err
				}
				if err := rt.svc.ImportSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d vehicles, %d days\n", len(snap.Vehicles), len(snap.Partitions))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input snapshot file ('-' for stdin)")
	cmd.Flags().StringVar(&format, "format", "", "snapshot format (json|yaml); defaults from --in extension")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// newBoardCommand opens the live terminal board.
func newBoardCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the live yard board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.runCommand(cmd, "board", state.runBoard)
		},
	}
}

// runBoard runs the TUI program loop.
func (s *cliState) runBoard(_ context.Context, rt *appRuntime) error {
	m := tui.NewModel(rt.svc, tui.WithTitle(s.opts.appName))
	rt.logger.Info("starting tui program loop")
	if _, err := programFactory(m).Run(); err != nil {
		rt.logger.Error("tui program terminated with error", "err", err)
		return fmt.Errorf("run tui program: %w", err)
	}
	return nil
}

func yardAdapter(rt *appRuntime) *common.AppServiceAdapter {
	return common.NewAppServiceAdapter(rt.svc, rt.cfg.Rollover.Secret)
}

// snapshotFormat picks the explicit format or infers it from path.
func snapshotFormat(format, path string) string {
	if f := strings.ToLower(strings.TrimSpace(format)); f != "" {
		return f
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func encodeSnapshot(snap app.Snapshot, format string) ([]byte, error) {
	switch format {
	case "json":
		encoded, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode snapshot json: %w", err)
		}
		return append(encoded, '\n'), nil
	case "yaml", "yml":
		encoded, err := yaml.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot yaml: %w", err)
		}
		return encoded, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
}

func decodeSnapshot(content []byte, format string) (app.Snapshot, error) {
	var snap app.Snapshot
	switch format {
	case "json":
		if err := json.Unmarshal(content, &snap); err != nil {
			return app.Snapshot{}, fmt.Errorf("decode snapshot json: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(content, &snap); err != nil {
			return app.Snapshot{}, fmt.Errorf("decode snapshot yaml: %w", err)
		}
	default:
		return app.Snapshot{}, fmt.Errorf("unsupported snapshot format %q", format)
	}
	return snap, nil
}

func writeJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = w.Write(append(encoded, '\n'))
	return err
}

func writeVehicleTable(w io.Writer, vehicles []common.Vehicle) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tMODEL\tPLATE\tSTATUS\tCYCLE")
	for _, v := range vehicles {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", v.ID, v.Model, v.LicensePlate, v.StatusLabel, v.Cycle)
	}
	return tw.Flush()
}

// writeMarkdown styles markdown for terminals and writes it raw elsewhere.
func writeMarkdown(w io.Writer, markdown string) error {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(120),
		)
		if err == nil {
			if rendered, err := renderer.Render(markdown); err == nil {
				markdown = rendered
			}
		}
	}
	_, err := io.WriteString(w, markdown)
	return err
}
