package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK           = 0
	exitFailure      = 1
	exitUploadFailed = 2
)

var (
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "dbbackup",
	Short: "Back up a MariaDB database to local disk and S3",
	Long: `dbbackup dumps one MariaDB database, compresses the dump, keeps it in a
local archive directory, uploads it to an S3 bucket and prunes both archives
to the configured number of backups.

Run without arguments to perform a single backup. Configuration comes from
the environment and an optional .env file beside the executable.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", "", "env file path (default: .env beside the executable)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// exitError carries the process exit code for a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			// usage errors; run failures are already logged
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(exitCode(err))
}
