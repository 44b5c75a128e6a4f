package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/franz/fpvscan/internal/entity"
)

func day(s string) time.Time {
	d, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParse(t *testing.T) {
	today := day("2025-03-10")

	tests := []struct {
		name string
		text string
		want Command
	}{
		{"help", "help", Command{Kind: KindHelp}},
		{"help upper", "  HELP ", Command{Kind: KindHelp}},
		{"help chinese", "帮助", Command{Kind: KindHelp}},
		{"question mark", "?", Command{Kind: KindHelp}},
		{"full-width question mark", "？", Command{Kind: KindHelp}},
		{"mention", "@_user_1 hi", Command{Kind: KindHelp}},
		{"mention wins over command", "@bot /scan 7393", Command{Kind: KindHelp}},
		{"chatter", "good morning", Command{}},
		{"empty", "   ", Command{}},

		{"scan today", "/scan 7393", Command{Kind: KindScan, DeviceID: "7393", Range: entity.SingleDay(today)}},
		{"scan one day", "/scan 7393 2025-01-15", Command{Kind: KindScan, DeviceID: "7393", Range: entity.SingleDay(day("2025-01-15"))}},
		{"scan range", "/SCAN dev-01 2025-01-01 2025-01-15",
			Command{Kind: KindScan, DeviceID: "dev-01", Range: entity.DateRange{Start: day("2025-01-01"), End: day("2025-01-15")}}},
		{"scan extra args ignored", "/scan 7393 2025-01-01 2025-01-02 junk",
			Command{Kind: KindScan, DeviceID: "7393", Range: entity.DateRange{Start: day("2025-01-01"), End: day("2025-01-02")}}},
		{"scan full-width digits", "/scan ７３９３ ２０２５-０１-１５", Command{Kind: KindScan, DeviceID: "7393", Range: entity.SingleDay(day("2025-01-15"))}},
		{"scan no device", "/scan", Command{Kind: KindScanUsage}},
		{"scan date as device", "/scan 2025-01-15", Command{Kind: KindScan, DeviceID: "2025-01-15", Range: entity.SingleDay(today)}},
		{"scan device named date", "/scan start_date 2025-01-15", Command{Kind: KindScanUsage}},
		{"scan bad device", "/scan 73/93", Command{Kind: KindScanUsage}},
		{"scan bad date", "/scan 7393 2025-13-01", Command{Kind: KindScanUsage}},
		{"scan reversed range", "/scan 7393 2025-01-15 2025-01-01", Command{Kind: KindScanUsage}},
		{"scan glued", "/scan7393", Command{Kind: KindScanUsage}},

		{"export today", "/export", Command{Kind: KindExport, Range: entity.SingleDay(today)}},
		{"export all", "/export ALL", Command{Kind: KindExport, All: true}},
		{"export day", "/export 2025-01-15", Command{Kind: KindExport, Range: entity.SingleDay(day("2025-01-15"))}},
		{"export range", "/export 2025-01-01 2025-01-15",
			Command{Kind: KindExport, Range: entity.DateRange{Start: day("2025-01-01"), End: day("2025-01-15")}}},
		{"export bad date", "/export yesterday", Command{Kind: KindExportUsage}},
		{"export all with extra", "/export all 2025-01-01", Command{Kind: KindExportUsage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text, today)
			if got.Kind != tt.want.Kind || got.DeviceID != tt.want.DeviceID || got.All != tt.want.All ||
				!got.Range.Start.Equal(tt.want.Range.Start) || !got.Range.End.Equal(tt.want.Range.End) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	scan := Command{Kind: KindScan, DeviceID: "7393", Range: entity.DateRange{Start: day("2025-01-01"), End: day("2025-01-02")}}
	if got := scan.Description(); got != "扫库: 设备=7393, 日期=2025-01-01~2025-01-02" {
		t.Errorf("scan description = %q", got)
	}
	if got := (Command{Kind: KindExport, All: true}).Description(); got != "导出: 导出全部数据" {
		t.Errorf("export all description = %q", got)
	}
	if got := (Command{Kind: KindExport, Range: entity.SingleDay(day("2025-01-01"))}).Description(); got != "导出: 日期=2025-01-01~2025-01-01" {
		t.Errorf("export description = %q", got)
	}
}

func TestErrorTail(t *testing.T) {
	if got := errorTail(errors.New("short")); got != "short" {
		t.Errorf("errorTail = %q", got)
	}

	long := strings.Repeat("数", 600) + "END"
	got := errorTail(errors.New(long))
	if n := len([]rune(got)); n != errorTailLen {
		t.Errorf("tail has %d runes, want %d", n, errorTailLen)
	}
	if !strings.HasSuffix(got, "END") {
		t.Errorf("tail lost the end of the message: %q", got[len(got)-10:])
	}
}

func TestMessages(t *testing.T) {
	cmd := Command{Kind: KindScan, DeviceID: "7393", Range: entity.SingleDay(day("2025-01-15"))}

	if got := scanStartMessage(cmd); got != "🚀 开始扫库\n设备: 7393\n日期: 2025-01-15 ~ 2025-01-15" {
		t.Errorf("scanStartMessage = %q", got)
	}
	want := "✅ 扫库完成\n设备: 7393\n日期: 2025-01-15 ~ 2025-01-15\n耗时: 12.3秒\n新增会话: 2\n新增视频段: 5\n导出记录: 5"
	if got := scanDoneMessage(cmd, 12340*time.Millisecond, 2, 5, 5); got != want {
		t.Errorf("scanDoneMessage = %q, want %q", got, want)
	}

	all := Command{Kind: KindExport, All: true}
	if got := exportDoneMessage(all, 1500*time.Millisecond, 42); got != "✅ 导出完成\n日期范围: 全部数据\n导出记录: 42 条\n耗时: 1.5秒" {
		t.Errorf("exportDoneMessage = %q", got)
	}
	if got := busyMessage("导出: 导出全部数据"); got != "⏳ 正在执行任务中，请稍后再试\n当前任务: 导出: 导出全部数据" {
		t.Errorf("busyMessage = %q", got)
	}
}
