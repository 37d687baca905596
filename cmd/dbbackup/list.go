package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/newthinker/dbbackup/internal/config"
	"github.com/newthinker/dbbackup/internal/core"
	"github.com/newthinker/dbbackup/internal/retention"
	"github.com/newthinker/dbbackup/internal/storage/archive"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local and remote backups, newest first",
	Long: `List prints both archives newest first. Entries the next retention pass
would delete are marked with "prune".`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(resolvedEnvFile())
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	local, remote, err := stores(cmd.Context(), cfg)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	out := cmd.OutOrStdout()
	locations := []struct {
		store    archive.Storage
		location string
	}{
		{local, local.Dir()},
		{remote, "s3://" + remote.Bucket() + "/" + remote.Key("")},
	}

	var failed error
	for _, l := range locations {
		entries, err := l.store.List(cmd.Context())
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n\n", l.store.Name(), l.location, err)
			failed = err
			continue
		}
		printListing(out, l.store.Name(), l.location, entries, cfg.Retention.Count)
	}

	if failed != nil {
		return &exitError{code: exitFailure, err: failed}
	}
	return nil
}

func printListing(out io.Writer, store, location string, entries []core.ArchiveEntry, keep int) {
	retention.Sort(entries)
	prune := map[string]bool{}
	for _, id := range retention.SelectForDeletion(entries, keep) {
		prune[id] = true
	}

	fmt.Fprintf(out, "%s %s (%d archives, keeping %d)\n", store, location, len(entries), keep)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		mark := ""
		if prune[e.ID] {
			mark = "prune"
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", e.ID, e.ModTime.UTC().Format(time.RFC3339), e.Size, mark)
	}
	w.Flush()
	fmt.Fprintln(out)
}
