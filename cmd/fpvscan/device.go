package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "List, register and configure recording devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices and their scan switches",
	Args:  cobra.NoArgs,
	RunE:  runDeviceList,
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <device-id>...",
	Short: "Register devices with default settings",
	Long: `Register devices with default settings (600 MB per 10 minutes, active,
scanned). Devices that already exist are left unchanged.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDeviceAdd,
}

var deviceSetCmd = &cobra.Command{
	Use:   "set <device-id>",
	Short: "Change a device's throughput or scan switches",
	Long: `Change a device's settings. Only the flags given are changed; a missing
device is created with defaults first.

  --skip-scan=true  excludes the device from the metadata phase
  --active=false    marks the device inactive (also excluded)`,
	Args: cobra.ExactArgs(1),
	RunE: runDeviceSet,
}

var deviceActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show sessions per device per day",
	Args:  cobra.NoArgs,
	RunE:  runDeviceActive,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceListCmd, deviceAddCmd, deviceSetCmd, deviceActiveCmd)

	deviceSetCmd.Flags().Float64("mb-per-10min", store.DefaultMBPer10Min, "recorded MB per 10 minutes")
	deviceSetCmd.Flags().Bool("active", true, "device is active")
	deviceSetCmd.Flags().Bool("skip-scan", false, "skip the device during metadata scans")

	deviceActiveCmd.Flags().Int("days", 7, "look back this many days (0 for all)")
}

func runDeviceList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(ctx, newLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	devices, err := db.ListDevices(ctx)
	if err != nil {
		return err
	}
	return printDevices(cmd.OutOrStdout(), devices)
}

func printDevices(out io.Writer, devices []store.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tMB/10MIN\tACTIVE\tSKIP SCAN\tUPDATED")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%.0f\t%s\t%s\t%s\n", d.DeviceID, d.MBPer10Min, yesNo(d.IsActive), yesNo(d.SkipScan), d.UpdatedAt)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	added := 0
	for _, id := range args {
		created, err := db.RegisterDevice(ctx, id)
		if err != nil {
			return err
		}
		if created {
			added++
			util.Success(logger, "device registered", "device", id)
		} else {
			logger.Info("device already exists", "device", id)
		}
	}
	logger.Info("done", "added", added, "existing", len(args)-added)
	return nil
}

func runDeviceSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	db, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	id := args[0]
	if _, err := db.RegisterDevice(ctx, id); err != nil {
		return err
	}
	d, err := db.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("mb-per-10min") {
		d.MBPer10Min, _ = flags.GetFloat64("mb-per-10min")
		if d.MBPer10Min <= 0 {
			return fmt.Errorf("%w: --mb-per-10min must be positive", util.ErrInvalidConfig)
		}
	}
	if flags.Changed("active") {
		d.IsActive, _ = flags.GetBool("active")
	}
	if flags.Changed("skip-scan") {
		d.SkipScan, _ = flags.GetBool("skip-scan")
	}

	if err := db.UpsertDevice(ctx, d); err != nil {
		return err
	}
	util.Success(logger, "device updated",
		"device", d.DeviceID, "mb_per_10min", d.MBPer10Min, "active", d.IsActive, "skip_scan", d.SkipScan)
	return nil
}

func runDeviceActive(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(ctx, newLogger())
	if err != nil {
		return err
	}
	defer db.Close()

	days, _ := cmd.Flags().GetInt("days")
	since := ""
	if days > 0 {
		since = entity.Today().AddDate(0, 0, -(days - 1)).Format(entity.DateLayout)
	}

	activity, err := db.DeviceActivity(ctx, since)
	if err != nil {
		return err
	}
	return printActivity(cmd.OutOrStdout(), activity)
}

func printActivity(out io.Writer, activity []store.DeviceActivity) error {
	if len(activity) == 0 {
		fmt.Fprintln(out, "No sessions in range.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDEVICE\tSESSIONS\tSEGMENTS\tEST. HOURS")
	devices := make(map[string]bool)
	sessions, segments := 0, 0
	for _, a := range activity {
		// each segment is about ten minutes of footage
		hours := (time.Duration(a.Segments) * 10 * time.Minute).Hours()
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f\n", a.CollectDate, a.DeviceID, a.Sessions, a.Segments, hours)
		devices[a.DeviceID] = true
		sessions += a.Sessions
		segments += a.Segments
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d devices, %d sessions, %d segments\n", len(devices), sessions, segments)
	return nil
}
