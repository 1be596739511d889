package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &globalFlags{}
	deps := commandDeps{out: out, globals: globals}

	cmd := &cobra.Command{
		Use:           "sisaih",
		Short:         "Gerenciamento da base de auditoria de AIHs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	cmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "Path to the TOML config file")
	cmd.PersistentFlags().StringVar(&globals.DBPath, "db", "", "Path to the database file (overrides config)")
	cmd.PersistentFlags().BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&globals.Quiet, "quiet", false, "Suppress informational output")

	cmd.AddCommand(newVersionCommand(out, build))
	cmd.AddCommand(newInitCommand(deps))
	cmd.AddCommand(newBackupCommand(deps))
	cmd.AddCommand(newPurgeCommand(deps))
	cmd.AddCommand(newStatsCommand(deps))
	cmd.AddCommand(newCacheCommand(deps))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(build)
			}

			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version as JSON")
	return cmd
}
