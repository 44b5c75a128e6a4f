package export

import (
	"context"
	"encoding/csv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/store"
)

type fakeSource struct {
	delta  []store.DeltaRow
	rows   []store.ExportRow
	query  store.ExportQuery
	keys   []store.SegmentKey
	called int
}

func (f *fakeSource) DeltaRows(_ context.Context, keys []store.SegmentKey) ([]store.DeltaRow, error) {
	f.called++
	f.keys = keys
	return f.delta, nil
}

func (f *fakeSource) ExportRows(_ context.Context, q store.ExportQuery) ([]store.ExportRow, error) {
	f.called++
	f.query = q
	return f.rows, nil
}

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

func newTestExporter(t *testing.T, src Source) (*Exporter, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ExportedCSV")
	return New(&Config{
		Source:       src,
		Dir:          dir,
		Bucket:       "fpv-bucket",
		VideoBaseURL: "http://localhost:8082/faster?path=",
		Rand:         rand.New(rand.NewPCG(1, 2)),
		Now:          func() time.Time { return fixedNow },
	}), dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestDelta(t *testing.T) {
	src := &fakeSource{delta: []store.DeltaRow{{
		UpdatedAt: "2025-01-01 12:30:00", Date: "2025-01-01", Time: "12:00:00", DeviceID: "7393",
		SegmentNumber: "0001", ApprovalStatus: "pending",
		DownOSSPath: "oss://b/7393/s/segments/7393-down_sbs_0001.mp4", FrontOSSPath: "oss://b/7393/s/segments/7393-front_sbs_0001.mp4",
		SessionID: "session_20250101_120000_1", FileSizeMB: 1144.41, EstimatedDuration: 19.07,
	}}}
	exp, dir := newTestExporter(t, src)

	keys := []store.SegmentKey{{SessionID: "session_20250101_120000_1", SegmentNumber: "0001"}}
	res, err := exp.Delta(context.Background(), keys, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "oss_mp4_qa_20250102_030405.csv"), res.Path)
	require.Equal(t, 1, res.Rows)
	require.Equal(t, keys, src.keys)

	raw, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "updated_at,date,time,device_id,segment_number,approval_status,"))
	require.Contains(t, string(raw), "\r\n")

	records := readCSV(t, res.Path)
	require.Len(t, records, 2)
	require.Equal(t, store.DeltaColumns, records[0])
	require.Equal(t, "1144.41", records[1][9])
	require.Equal(t, "19.07", records[1][10])
}

func TestDelta_NoKeysWritesNothing(t *testing.T) {
	src := &fakeSource{}
	exp, dir := newTestExporter(t, src)

	res, err := exp.Delta(context.Background(), nil, "")
	require.NoError(t, err)
	require.Empty(t, res.Path)
	require.Zero(t, src.called)
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func exportRows() []store.ExportRow {
	return []store.ExportRow{
		{
			SessionID: "session_20250101_200000_1", SegmentNumber: "0007", DeviceID: "7393",
			CollectDate: "2025-01-01", CollectTime: "20:00:00", UpdatedAt: "2025-01-01 21:00:00",
			TaskDesc: "Fold Clothes", DownSizeBytes: 600 * mib, FrontSizeBytes: 600 * mib,
		},
		{
			SessionID: "session_20250101_100000_2", SegmentNumber: "0000", DeviceID: "b852",
			CollectDate: "2025-01-01", CollectTime: "10:00:00",
			TaskDesc: "juggling", DownSizeBytes: 300 * mib, FrontSizeBytes: 0,
		},
		{
			SessionID: "session_20250101_100000_2", SegmentNumber: "0001", DeviceID: "b852",
			CollectDate: "2025-01-01", CollectTime: "10:00:00",
		},
	}
}

func TestFormatted_Internal(t *testing.T) {
	src := &fakeSource{rows: exportRows()}
	exp, dir := newTestExporter(t, src)

	r, err := entity.ParseDateRange("2025-01-01", "2025-01-01")
	require.NoError(t, err)

	res, err := exp.Formatted(context.Background(), Options{Format: FormatInternal, Range: r})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "internal_2025-01-01_2025-01-01_20250102_030405.csv"), res.Path)
	require.Equal(t, 3, res.Rows)
	require.Equal(t, store.ExportQuery{StartDate: "2025-01-01", EndDate: "2025-01-01"}, src.query)

	records := readCSV(t, res.Path)
	require.Equal(t, internalColumns, records[0])

	first := records[1]
	require.Equal(t, []string{"2025-01-01", "20:00:00", "7393", "7"}, first[:4])
	require.Equal(t, "http://localhost:8082/faster?path=7393/session_20250101_200000_1/segments/7393-down_sbs_0007.mp4", first[4])
	require.Equal(t, "http://localhost:8082/faster?path=7393/session_20250101_200000_1/segments/7393-front_sbs_0007.mp4", first[5])
	require.Equal(t, "1200.00 MB", first[7])
	require.Equal(t, "10", first[8])
	require.Equal(t, "叠衣服", first[10])

	// 300 MiB is exactly 2.5 minutes and rounds to even
	require.Equal(t, "2", records[2][8])
	require.Equal(t, "juggling", records[2][10])
	require.Equal(t, "0.00 MB", records[3][7])
}

func TestFormatted_Raw(t *testing.T) {
	src := &fakeSource{rows: exportRows()[:1]}
	exp, _ := newTestExporter(t, src)

	res, err := exp.Formatted(context.Background(), Options{Format: FormatRaw, All: true})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(res.Path, "raw_all_20250102_030405.csv"))
	require.True(t, src.query.All)

	records := readCSV(t, res.Path)
	require.Equal(t, rawColumns, records[0])
	require.Equal(t, []string{
		"2025-01-01 21:00:00", "2025-01-01", "20:00:00", "7393", "0007",
		"oss://fpv-bucket/7393/session_20250101_200000_1/segments/7393-down_sbs_0007.mp4",
		"oss://fpv-bucket/7393/session_20250101_200000_1/segments/7393-front_sbs_0007.mp4",
		"session_20250101_200000_1", "629145600", "629145600",
	}, records[1])
}

func TestFormatted_Scale(t *testing.T) {
	src := &fakeSource{rows: exportRows()}
	exp, _ := newTestExporter(t, src)

	res, err := exp.Formatted(context.Background(), Options{
		Format:     FormatScale,
		All:        true,
		TimeAdjust: true,
		Approvers:  []Approver{{Name: "张三", Weight: 1}},
		Output:     "scale_custom.csv",
	})
	require.NoError(t, err)
	require.Equal(t, "scale_custom.csv", filepath.Base(res.Path))
	require.Equal(t, 2, res.Rows, "zero-duration rows are dropped")

	records := readCSV(t, res.Path)
	require.Equal(t, scaleColumns, records[0])
	require.Len(t, records[1], len(scaleColumns))

	// +8h crosses midnight for regular devices
	require.Equal(t, []string{"2025-01-02", "04:00:00", "7393", "7"}, records[1][:4])
	// b852 keeps its time
	require.Equal(t, []string{"2025-01-01", "10:00:00", "b852", "0"}, records[2][:4])

	for _, rec := range records[1:] {
		require.Equal(t, "张三", rec[12])
		require.Equal(t, ScalePendingStatus, rec[13])
	}
}

func TestFormatted_NoRows(t *testing.T) {
	exp, dir := newTestExporter(t, &fakeSource{})

	res, err := exp.Formatted(context.Background(), Options{Format: FormatScale, All: true})
	require.NoError(t, err)
	require.Zero(t, res.Rows)
	require.Empty(t, res.Path)
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatInternal, f)

	f, err = ParseFormat("SCALE")
	require.NoError(t, err)
	require.Equal(t, FormatScale, f)

	_, err = ParseFormat("xlsx")
	require.Error(t, err)
}

func TestOptionsFilename(t *testing.T) {
	start, _ := entity.ParseDate("2025-01-01")
	end, _ := entity.ParseDate("2025-01-05")

	require.Equal(t, "internal_all_20250102_030405.csv", Options{Format: FormatInternal, All: true}.Filename(fixedNow))
	require.Equal(t, "scale_2025-01-01_2025-01-05_20250102_030405.csv",
		Options{Format: FormatScale, Range: entity.DateRange{Start: start, End: end}}.Filename(fixedNow))
	require.Equal(t, "raw_20250102_030405.csv", Options{Format: FormatRaw, Range: entity.DateRange{Start: start}}.Filename(fixedNow))
	require.Equal(t, "x.csv", Options{Output: "x.csv"}.Filename(fixedNow))
}

func TestTimestampedName(t *testing.T) {
	require.Equal(t, "oss_mp4_qa_20250102_030405.csv", TimestampedName("oss_mp4_qa.csv", fixedNow))
	require.Equal(t, "delta_20250102_030405.csv", TimestampedName("delta", fixedNow))
	require.Equal(t, "a.b_20250102_030405.tsv", TimestampedName("a.b.tsv", fixedNow))
}

func TestSizeAndDuration(t *testing.T) {
	require.Equal(t, "1144.41 MB", FileSize(1200000000))
	require.Equal(t, 10, Duration(1200*mib))
	require.Equal(t, 0, Duration(50*mib))
	require.Equal(t, 4, Duration(420*mib)) // 3.5 rounds to 4
	require.Equal(t, 2, Duration(300*mib)) // 2.5 rounds to 2
}

func TestLinks(t *testing.T) {
	require.Equal(t, "0007", PadNumber("7"))
	require.Equal(t, "12345", PadNumber("12345"))
	require.Equal(t, "7393/s/segments/7393-front_sbs_0012.mp4", ObjectKey("7393", "s", "12", "front"))
	require.Equal(t, "oss://b/7393/s/segments/7393-down_sbs_0000.mp4", OSSPath("b", "7393", "s", "0000", "down"))
	require.Equal(t, "http://v/?path=d/s/segments/d-down_sbs_0001.mp4", VideoURL("http://v/?path=", "d", "s", "0001", "down"))
}

func TestTranslateTask(t *testing.T) {
	tests := map[string]string{
		"fold clothes":                 "叠衣服",
		"  Fold Clothes ":              "叠衣服",
		"please clear the table today": "收拾桌面",
		"folding":                      "叠衣服",
		"organize":                     "书本收纳",
		"Install Batteries":            "电池安装",
		"juggling":                     "juggling",
		"":                             "",
		"   ":                          "",
	}
	for in, want := range tests {
		require.Equal(t, want, TranslateTask(in), in)
	}
}

func TestLatestArtifact(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	touch := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		mt := now.Add(-age)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}

	touch("internal_all_1.csv", 4*time.Minute)
	touch("internal_all_2.csv", time.Minute)
	touch("internal_old.csv", 10*time.Minute)
	touch("oss_mp4_qa_1.csv", 10*time.Second)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "internal_dir"), 0755))

	path, ok, err := LatestArtifact(dir, "internal_", 5*time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "internal_all_2.csv"), path)

	_, ok, err = LatestArtifact(dir, "scale_", 5*time.Minute, now)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = LatestArtifact(filepath.Join(dir, "missing"), "internal_", 5*time.Minute, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExport_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "fpv.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.RegisterDevice(ctx, "7393")
	require.NoError(t, err)
	for _, id := range []string{"session_20250101_120000_1", "session_20250102_120000_2"} {
		st := entity.ParseSessionID(id)
		_, err := db.InsertSession(ctx, &store.Session{SessionID: id, DeviceID: "7393", CollectDate: st.Date, CollectTime: st.Time, TaskDescription: "organize books"})
		require.NoError(t, err)
		_, err = db.InsertSegment(ctx, &store.Segment{
			SessionID: id, SegmentNumber: "0000",
			DownFileName: "7393-down_sbs_0000.mp4", DownOSSPath: "oss://b/down", DownSizeBytes: 600 * mib,
			FrontFileName: "7393-front_sbs_0000.mp4", FrontOSSPath: "oss://b/front", FrontSizeBytes: 600 * mib,
		})
		require.NoError(t, err)
	}

	exp, _ := newTestExporter(t, db)

	r, err := entity.ParseDateRange("2025-01-02", "2025-01-02")
	require.NoError(t, err)
	res, err := exp.Formatted(ctx, Options{Format: FormatInternal, Range: r})
	require.NoError(t, err)
	require.Equal(t, 1, res.Rows)
	records := readCSV(t, res.Path)
	require.Equal(t, "session_20250102_120000_2", records[1][6])
	require.Equal(t, "书本收纳", records[1][10])

	res, err = exp.Delta(ctx, []store.SegmentKey{
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0000"},
		{SessionID: "session_20250102_120000_2", SegmentNumber: "0000"},
	}, "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Rows)
	records = readCSV(t, res.Path)
	require.Equal(t, "2025-01-02", records[1][1], "newest first")
	require.Equal(t, "1200", records[1][9])
	require.Equal(t, "20", records[1][10])
}
