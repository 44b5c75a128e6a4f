package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/store"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show database totals",
	Long: `Display aggregate counts from the database:
- Devices, split into active, skipped and inactive
- Sessions and the range of collection dates
- Segments and their combined size`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(ctx, newLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := db.Counts(ctx)
	if err != nil {
		return err
	}
	printCounts(cmd.OutOrStdout(), counts)
	return nil
}

func printCounts(out io.Writer, c store.Counts) {
	fmt.Fprintln(out, "=== Database ===")
	fmt.Fprintf(out, "Devices:   %d (active %d, skip scan %d, inactive %d)\n",
		c.Devices, c.ActiveDevices, c.SkippedDevices, c.InactiveDevices)
	fmt.Fprintf(out, "Sessions:  %s\n", humanize.Comma(int64(c.Sessions)))
	if c.FirstDate != "" {
		fmt.Fprintf(out, "Dates:     %s ~ %s\n", c.FirstDate, c.LastDate)
	}
	fmt.Fprintf(out, "Segments:  %s\n", humanize.Comma(int64(c.Segments)))
	fmt.Fprintf(out, "Size:      %s\n", humanize.IBytes(uint64(c.TotalBytes)))
}
