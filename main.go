// snapaid is the patient-triage backend: case intake, classification,
// triage storage and emergency alerts for doctors.
//
// Usage:
//
//	snapaid serve [--config=config.json] [--db=sqlite3]
//	snapaid migrate
//	snapaid token issue <user_id>
//	snapaid token revoke <token> | --user=<user_id>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	dbType     string
}

var rootCmd = &cobra.Command{
	Use:   "snapaid",
	Short: "Patient triage backend",
	Long:  "SnapAid stores patient cases, classifies them into triage labels\nand emails doctors when a case is flagged as an emergency.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", os.Getenv("SNAPAID_CONFIG"), "path to config.json (env SNAPAID_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.dbType, "db", envOr("SNAPAID_DB", "sqlite3"), "database driver: sqlite3, mysql or postgres (env SNAPAID_DB)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
