package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
	"github.com/franz/fpvscan/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check sessions against the segment rules",
	Long: `Check every session in range against the segment rules:
- segment numbers start at 0 and are contiguous
- every segment but the last is 1100-1300 MB (down + front)
- the last segment is below 1210 MB

With --fix, segments whose front size is 0 get the size of the front
object re-read from storage before checking. The command reports problems
but always exits 0 once the check has run.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var issueLabels = map[verify.Kind]string{
	verify.KindOrder:        "Segment does not start at 0",
	verify.KindGap:          "Segment numbers not contiguous",
	verify.KindSize:         "Non-last segment size out of range",
	verify.KindLastTooLarge: "Last segment too large",
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	addDateFlags(verifyCmd)
	verifyCmd.Flags().String("device-id", "", "check only this device")
	verifyCmd.Flags().Bool("fix", false, "repair missing front sizes from storage")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	dates, err := dateRange(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	fix, _ := cmd.Flags().GetBool("fix")
	cfg := &verify.Config{Store: db, Logger: logger}
	if fix {
		objects, err := openObjects(logger)
		if err != nil {
			return err
		}
		cfg.Objects = objects
	}

	rep, err := verify.New(cfg).Run(ctx, verify.Options{
		Filter: store.SessionFilter{
			DeviceID:  flagString(cmd, "device-id"),
			StartDate: dates.StartString(),
			EndDate:   dates.EndString(),
		},
		Fix: fix,
	})
	if err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}

	printVerifyReport(cmd.OutOrStdout(), rep)
	if len(rep.Invalid) == 0 {
		util.Success(logger, "all sessions passed", "sessions", rep.Sessions)
	}
	return nil
}

func printVerifyReport(out io.Writer, rep *verify.Report) {
	for _, s := range rep.Invalid {
		fmt.Fprintf(out, "✗ %s (%d segments)\n", s.SessionID, len(s.Segments))
		for _, is := range s.Issues {
			fmt.Fprintf(out, "   - %s\n", is.Detail)
		}
		for _, seg := range s.Segments {
			mark := "✓"
			if !seg.OK {
				mark = "✗"
			}
			fmt.Fprintf(out, "     %s segment %d: %.2f MB\n", mark, seg.Number, seg.MB)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "=== Summary ===")
	fmt.Fprintf(out, "Sessions checked: %d\n", rep.Sessions)
	if rep.Sessions > 0 {
		fmt.Fprintf(out, "Passed:           %d (%.1f%%)\n", rep.Valid, percent(rep.Valid, rep.Sessions))
		fmt.Fprintf(out, "Failed:           %d (%.1f%%)\n", len(rep.Invalid), percent(len(rep.Invalid), rep.Sessions))
	}
	for _, k := range verify.Kinds {
		if n := rep.Counts[k]; n > 0 {
			fmt.Fprintf(out, "  %s: %d\n", issueLabels[k], n)
		}
	}
	if rep.Fixed > 0 {
		fmt.Fprintf(out, "Front sizes fixed: %d\n", rep.Fixed)
	}
}

func percent(n, total int) float64 {
	return float64(n) / float64(total) * 100
}
