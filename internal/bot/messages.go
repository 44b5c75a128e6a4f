package bot

import (
	"fmt"
	"strings"
	"time"
)

// HelpMessage is sent for help keywords and mentions
const HelpMessage = `📖 FPV扫库机器人使用指南

🔍 扫库命令 /scan
扫描OSS并写入数据库，生成增量CSV

格式:
  /scan <设备ID> <日期>
  /scan <设备ID> <开始日期> <结束日期>

示例:
  /scan 7393 2025-01-15
  /scan 7393 2025-01-01 2025-01-15

📤 导出命令 /export
从数据库导出格式化CSV（含视频链接）

格式:
  /export <日期>
  /export <开始日期> <结束日期>
  /export all

示例:
  /export 2025-01-15
  /export 2025-01-01 2025-01-15
  /export all

💡 提示: 日期格式为 YYYY-MM-DD`

// ScanUsage is sent for a malformed /scan
const ScanUsage = `❓ /scan 命令格式错误

正确格式:
/scan <设备ID> <日期>
/scan <设备ID> <开始日期> <结束日期>

示例:
/scan 7393 2025-01-15`

// ExportUsage is sent for a malformed /export
const ExportUsage = `❓ /export 命令格式错误

正确格式:
/export <日期>
/export <开始日期> <结束日期>
/export all

示例:
/export 2025-01-15
/export all`

// errorTailLen bounds the error text in failure messages
const errorTailLen = 500

func busyMessage(current string) string {
	return "⏳ 正在执行任务中，请稍后再试\n当前任务: " + current
}

func scanStartMessage(c Command) string {
	return fmt.Sprintf("🚀 开始扫库\n设备: %s\n日期: %s ~ %s", c.DeviceID, c.Range.StartString(), c.Range.EndString())
}

func scanDoneMessage(c Command, elapsed time.Duration, sessions, segments, rows int) string {
	return fmt.Sprintf("✅ 扫库完成\n设备: %s\n日期: %s ~ %s\n耗时: %.1f秒\n新增会话: %d\n新增视频段: %d\n导出记录: %d",
		c.DeviceID, c.Range.StartString(), c.Range.EndString(), elapsed.Seconds(), sessions, segments, rows)
}

func scanFailedMessage(c Command, err error) string {
	return fmt.Sprintf("❌ 扫库失败\n设备: %s\n错误: %s", c.DeviceID, errorTail(err))
}

func exportRangeLabel(c Command) string {
	if c.All {
		return "全部数据"
	}
	return c.Range.StartString() + " ~ " + c.Range.EndString()
}

func exportStartMessage(c Command) string {
	return "📤 开始导出CSV\n日期范围: " + exportRangeLabel(c)
}

func exportDoneMessage(c Command, elapsed time.Duration, rows int) string {
	return fmt.Sprintf("✅ 导出完成\n日期范围: %s\n导出记录: %d 条\n耗时: %.1f秒", exportRangeLabel(c), rows, elapsed.Seconds())
}

func exportFailedMessage(err error) string {
	return "❌ 导出失败\n错误: " + errorTail(err)
}

// errorTail returns the last errorTailLen characters of err's message
func errorTail(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	r := []rune(msg)
	if len(r) > errorTailLen {
		return string(r[len(r)-errorTailLen:])
	}
	return msg
}
