package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/accesstable"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/service"
)

var commandNames = []struct {
	use   string
	short string
	op    link.Opcode
}{
	{"check", "Check that units answer", link.OpCheck},
	{"auto", "Return units to card-controlled mode", link.OpAuto},
	{"on", "Force units on", link.OpEnable},
	{"off", "Force units off", link.OpDisable},
	{"single-activation", "Require one card to activate", link.OpSingleActivation},
	{"double-activation", "Require two cards to activate", link.OpDoubleActivation},
	{"clear-memory", "Erase every stored card", link.OpClearMemory},
}

func singleCommands(f *flags) []*cobra.Command {
	out := make([]*cobra.Command, 0, len(commandNames))
	for _, c := range commandNames {
		op := c.op
		out = append(out, &cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.SilenceUsage = true
				return withApp(cmd, f, func(a *app) error {
					results, err := a.svc.Command(cmd.Context(), f.name, op)
					if err != nil {
						return err
					}
					tw := newTable(cmd.OutOrStdout(), "UNIT", "LINK", "UNIT OK", "CONDITION", "ATTEMPTS")
					failed := 0
					for _, r := range results {
						row(tw, r.Unit.Name, r.Result.LinkOK, r.Result.UnitOK, r.Result.Condition, r.Result.Attempts)
						if !r.Result.UnitOK {
							failed++
						}
					}
					tw.Flush()
					return failedUnits(failed)
				})
			},
		})
	}
	return out
}

func newCheckMemory(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-memory",
		Short: "Report card table usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return withApp(cmd, f, func(a *app) error {
				results, err := a.svc.CheckMemory(cmd.Context(), f.name)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout(), "UNIT", "USED", "CAPACITY", "NEAR FULL", "CONDITION")
				failed := 0
				for _, r := range results {
					row(tw, r.Unit.Name, r.Memory.Used, r.Memory.Capacity, r.NearFull, r.Result.Condition)
					if !r.Result.UnitOK {
						failed++
					}
				}
				tw.Flush()
				return failedUnits(failed)
			})
		},
	}
}

func newGetLog(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "get-log",
		Short: "Drain and store unit event logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return withApp(cmd, f, func(a *app) error {
				results, persistErr := a.svc.DumpLog(cmd.Context(), f.name)
				if results == nil {
					return persistErr
				}
				tw := newTable(cmd.OutOrStdout(), "UNIT", "AT", "EVENT", "CARD")
				failed := 0
				for _, r := range results {
					for _, e := range r.Drain.Entries {
						row(tw, r.Unit.Name, e.At.Format("2006-01-02 15:04:05"), e.Event, e.Card)
					}
					if !r.Drain.Complete {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: drain incomplete (%s)\n", r.Unit.Name, r.Drain.Last.Condition)
					}
				}
				tw.Flush()
				if persistErr != nil {
					return persistErr
				}
				return failedUnits(failed)
			})
		},
	}
}

func newUpdate(f *flags) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Push the access table to units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return withApp(cmd, f, func(a *app) error {
				if path == "" {
					path = a.cfg.AccessTablePath
				}
				table, err := accesstable.ReadFile(path)
				if err != nil {
					return err
				}
				results, err := a.svc.UpdateTable(cmd.Context(), f.name, table)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout(), "UNIT", "SENT", "NEW", "MODIFIED", "UNCHANGED", "RESULT")
				failed := 0
				for _, r := range results {
					up := r.Update
					result := "ok"
					switch {
					case up.MemoryFull:
						result = "memory_full"
						failed++
					case !up.Complete:
						result = fmt.Sprintf("failed at row %d: %s", up.FailedRow, up.Last.Condition)
						failed++
					}
					row(tw, r.Unit.Name, up.EntriesSent, up.NewCards, up.ModifiedAuth, up.NoUpdate, result)
				}
				tw.Flush()
				return failedUnits(failed)
			})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "access table CSV (defaults to access_table from the config)")
	return cmd
}

func withApp(cmd *cobra.Command, f *flags, fn func(*app) error) error {
	a, err := openApp(cmd.Context(), f)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

var _ service.TableSource = accesstable.Table{}

func failedUnits(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d unit(s) did not complete", n)
}

func newTable(w io.Writer, cols ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	return tw
}

func row(tw *tabwriter.Writer, vals ...any) {
	for i, v := range vals {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, v)
	}
	fmt.Fprintln(tw)
}
