package bot

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/util"
)

// Kind classifies a chat message
type Kind int

const (
	KindIgnore Kind = iota
	KindHelp
	KindScan
	KindExport
	KindScanUsage
	KindExportUsage
)

// Command is a parsed chat message
type Command struct {
	Kind     Kind
	DeviceID string           // scan only
	Range    entity.DateRange // scan and dated exports
	All      bool             // export only
}

// Description names the command in busy replies and logs
func (c Command) Description() string {
	switch c.Kind {
	case KindScan:
		return fmt.Sprintf("扫库: 设备=%s, 日期=%s~%s", c.DeviceID, c.Range.StartString(), c.Range.EndString())
	case KindExport:
		if c.All {
			return "导出: 导出全部数据"
		}
		return fmt.Sprintf("导出: 日期=%s~%s", c.Range.StartString(), c.Range.EndString())
	}
	return ""
}

var deviceIDPattern = regexp.MustCompile(`^[\w-]+$`)

var helpWords = map[string]bool{"help": true, "帮助": true, "?": true}

// Normalize folds full-width characters to their ASCII forms and trims
// surrounding space
func Normalize(text string) string {
	return strings.TrimSpace(width.Fold.String(text))
}

// Parse classifies a message. today fills in omitted dates.
func Parse(text string, today time.Time) Command {
	text = Normalize(text)
	lower := strings.ToLower(text)

	if strings.Contains(text, "@") || helpWords[lower] {
		return Command{Kind: KindHelp}
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}
	}

	switch strings.ToLower(fields[0]) {
	case "/scan":
		cmd, err := parseScan(fields[1:], today)
		if err != nil {
			return Command{Kind: KindScanUsage}
		}
		return cmd
	case "/export":
		cmd, err := parseExport(fields[1:], today)
		if err != nil {
			return Command{Kind: KindExportUsage}
		}
		return cmd
	}

	switch {
	case strings.HasPrefix(lower, "/scan"):
		return Command{Kind: KindScanUsage}
	case strings.HasPrefix(lower, "/export"):
		return Command{Kind: KindExportUsage}
	}
	return Command{}
}

// parseScan parses "<device> [start] [end]"
func parseScan(args []string, today time.Time) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: missing device id", util.ErrInvalidCommand)
	}
	device := args[0]
	if !deviceIDPattern.MatchString(device) || strings.Contains(strings.ToLower(device), "date") {
		return Command{}, fmt.Errorf("%w: bad device id %q", util.ErrInvalidCommand, device)
	}

	r, err := parseDates(args[1:], today)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindScan, DeviceID: device, Range: r}, nil
}

// parseExport parses "[all | date | start end]"
func parseExport(args []string, today time.Time) (Command, error) {
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		return Command{Kind: KindExport, All: true}, nil
	}
	r, err := parseDates(args, today)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindExport, Range: r}, nil
}

// parseDates turns zero, one or two date arguments into a range. Extra
// arguments are ignored.
func parseDates(args []string, today time.Time) (entity.DateRange, error) {
	switch len(args) {
	case 0:
		return entity.SingleDay(today), nil
	case 1:
		d, err := entity.ParseDate(args[0])
		if err != nil {
			return entity.DateRange{}, err
		}
		return entity.SingleDay(d), nil
	default:
		return entity.ParseDateRange(args[0], args[1])
	}
}
