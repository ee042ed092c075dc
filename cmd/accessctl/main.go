// Command accessctl drives the workshop commutators over the radio link and
// serves the operator HTTP API.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/config"
)

type flags struct {
	config   string
	name     string
	simulate bool
}

func main() {
	if err := newRoot(filepath.Base(os.Args[0])).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRoot(executable string) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   executable,
		Short: "Commutator link controller",
		Args:  cobra.NoArgs,
		// Errors are printed once by main.
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.config, "config", "c", os.Getenv("LINKSERVER_CONFIG"), "path to the TOML configuration")
	cmd.PersistentFlags().StringVarP(&f.name, "name", "n", config.AllUnits, "unit to address, or \"all\"")
	cmd.PersistentFlags().BoolVar(&f.simulate, "simulate", false, "use simulated units and in-memory stores instead of the serial bridge")

	cmd.AddCommand(singleCommands(&f)...)
	cmd.AddCommand(
		newCheckMemory(&f),
		newGetLog(&f),
		newUpdate(&f),
		newExportTable(&f),
		newServe(&f),
	)
	return cmd
}
