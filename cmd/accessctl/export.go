package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/accesstable"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/config"
)

// newExportTable writes the columns of the configured units to a new CSV.
// It touches neither the radio nor the database.
func newExportTable(f *flags) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "export-table",
		Short: "Write the access table columns of the addressed units to a CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.Load(f.config)
			if err != nil {
				return err
			}
			if in == "" {
				in = cfg.AccessTablePath
			}

			var units []string
			if strings.EqualFold(f.name, config.AllUnits) {
				for _, u := range cfg.Units {
					units = append(units, u.Name)
				}
			} else {
				u, ok := cfg.Unit(f.name)
				if !ok {
					return fmt.Errorf("unit %q is not configured", f.name)
				}
				units = []string{u.Name}
			}

			table, err := accesstable.ReadFile(in)
			if err != nil {
				return err
			}
			sub, err := table.Select(units...)
			if err != nil {
				return err
			}
			if err := accesstable.WriteFile(out, sub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d members for %d unit(s) to %s\n", len(sub.Members), len(sub.Units), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "file", "f", "", "access table CSV (defaults to access_table from the config)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "destination CSV")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
