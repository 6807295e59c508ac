package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain cached results",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached results",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Reconcile the manifest against stored artifacts",
	Args:  cobra.NoArgs,
	RunE:  runCacheVerify,
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <fingerprint>...",
	Short: "Remove cached results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheRm,
}

var cacheErrorsCmd = &cobra.Command{
	Use:   "errors <fingerprint>",
	Short: "Print the error log of a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheErrors,
}

var errorLogName string

func init() {
	cacheErrorsCmd.Flags().StringVar(&errorLogName, "log", "sparql_errors", "Log name, e.g. sparql_errors, geometry_errors, decode_errors")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheVerifyCmd)
	cacheCmd.AddCommand(cacheRmCmd)
	cacheCmd.AddCommand(cacheErrorsCmd)
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	artifacts, err := a.Cache().List(ctx)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Println("No cached results.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tROLE\tROWS\tSIZE\tCREATED")
	for _, art := range artifacts {
		if e := art.Entry; e != nil {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", art.Fingerprint, e.Role,
				humanize.Comma(e.RowCount), humanize.Bytes(uint64(e.SizeBytes)), humanize.Time(e.CreatedAt))
			continue
		}
		fmt.Fprintf(w, "%s\t-\t-\t-\tuntracked\n", art.Fingerprint)
	}
	return w.Flush()
}

func runCacheVerify(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := a.Cache().Verify(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("checked %d manifest entries and %d stored artifacts\n",
		report.TotalManifestEntries, report.TotalStorageObjects)
	for _, d := range report.DanglingEntries {
		fmt.Printf("dangling  %s (missing %s)\n", d.Fingerprint, d.ObjectPath)
	}
	for _, o := range report.OrphanedObjects {
		fmt.Printf("orphaned  %s\n", o)
	}
	if report.HasIssues() {
		return fmt.Errorf("cache is inconsistent: %d dangling, %d orphaned",
			len(report.DanglingEntries), len(report.OrphanedObjects))
	}
	fmt.Println("ok")
	return nil
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, fp := range args {
		if err := a.Cache().Delete(ctx, fp); err != nil {
			return fmt.Errorf("%s: %w", fp, err)
		}
		fmt.Printf("removed %s\n", fp)
	}
	return nil
}

func runCacheErrors(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, _, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	lines, err := a.ErrorLogs().Load(args[0], errorLogName)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Fprintf(os.Stderr, "no entries in %s\n", a.ErrorLogs().Path(args[0], errorLogName))
		return nil
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
