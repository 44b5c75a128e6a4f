package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/franz/fpvscan/internal/entity"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// memObjects is an in-memory bucket
type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	sizes     map[string]int64
	listErr   map[string]error
	sizeErr   map[string]error
	downloads int
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects: map[string][]byte{},
		sizes:   map[string]int64{},
		listErr: map[string]error{},
		sizeErr: map[string]error{},
	}
}

func (m *memObjects) put(key string, body []byte) {
	m.objects[key] = body
}

func (m *memObjects) putSized(key string, size int64) {
	m.objects[key] = nil
	m.sizes[key] = size
}

func (m *memObjects) ListPrefixes(_ context.Context, prefix string) ([]string, error) {
	if err := m.listErr[prefix]; err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[prefix+rest[:i+1]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memObjects) ListObjects(_ context.Context, prefix string) ([]string, error) {
	if err := m.listErr[prefix]; err != nil {
		return nil, err
	}
	var out []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memObjects) ObjectExists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memObjects) ObjectSize(_ context.Context, key string) (int64, error) {
	if err := m.sizeErr[key]; err != nil {
		return 0, err
	}
	if n, ok := m.sizes[key]; ok {
		return n, nil
	}
	body, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, util.ErrNotFound)
	}
	return int64(len(body)), nil
}

func (m *memObjects) Download(_ context.Context, key, localPath string) error {
	m.mu.Lock()
	m.downloads++
	m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, util.ErrNotFound)
	}
	return os.WriteFile(localPath, body, 0o644)
}

func (m *memObjects) Path(key string) string {
	return "oss://test-bucket/" + key
}

const metadataDoc = `{
	"start_time_utc_iso8601": "2025-01-01T04:00:00Z",
	"task_info": {"task_description": "pick up the cup", "scene": "kitchen", "operator_height": 175},
	"device_info": {"model": "X1", "platform": "android"},
	"camera_settings": {"resolution": "1920x1080", "fps": 30, "stereo_cameras": [{}, {}]}
}`

// addSession puts a session folder with metadata and the given segment numbers
func addSession(m *memObjects, device, session string, segments ...string) {
	prefix := device + "/" + session + "/"
	m.put(prefix+entity.MetadataFilename, []byte(metadataDoc))
	for _, n := range segments {
		m.putSized(prefix+"segments/"+device+"-down_sbs_"+n+".mp4", 600_000_000)
		m.putSized(prefix+"segments/"+device+"-front_sbs_"+n+".mp4", 550_000_000)
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fpv.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, db Store, objects Objects) (*Engine, string) {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), "metadata")
	return New(&Config{Store: db, Objects: objects, TempDir: tmp, Concurrency: 4}), tmp
}

func day(t *testing.T, s string) entity.DateRange {
	t.Helper()
	r, err := entity.ParseDateRange(s, s)
	require.NoError(t, err)
	return r
}

func TestMetadataPhase_Idempotent(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")
	addSession(objects, "7393", "session_20250101_130000_2")
	addSession(objects, "b852", "session_20250101_090000_3")
	db := openStore(t)
	engine, tmp := newEngine(t, db, objects)

	res, err := engine.Run(ctx, Options{Mode: ModeMetadata})
	require.NoError(t, err)
	require.True(t, res.RanMetadata)
	require.False(t, res.RanSegments)
	require.Equal(t, 2, res.Metadata.DevicesScanned)
	require.Equal(t, 2, res.Metadata.DevicesRegistered)
	require.Equal(t, 3, res.Metadata.New)
	require.Zero(t, res.Metadata.Existing)

	sess, ok, err := db.GetSession(ctx, "session_20250101_120000_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "7393", sess.DeviceID)
	require.Equal(t, "2025-01-01", sess.CollectDate)
	require.Equal(t, "12:00:00", sess.CollectTime)
	require.Equal(t, "pick up the cup", sess.TaskDescription)
	require.Equal(t, 2, sess.NumCameras)

	dev, err := db.GetDevice(ctx, "b852")
	require.NoError(t, err)
	require.Equal(t, store.DefaultMBPer10Min, dev.MBPer10Min)
	require.True(t, dev.IsActive)

	// Downloaded documents are removed
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries)

	res, err = engine.Run(ctx, Options{Mode: ModeMetadata})
	require.NoError(t, err)
	require.Zero(t, res.Metadata.New)
	require.Equal(t, 3, res.Metadata.Existing)
	require.Zero(t, res.Metadata.DevicesRegistered)
	require.Equal(t, 3, objects.downloads, "existing sessions are not downloaded again")
}

func TestMetadataPhase_EntityFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")
	objects.put("7393/session_20250101_130000_2/segments/x.mp4", nil) // no metadata
	objects.put("7393/session_20250101_140000_3/metadata.json", []byte("{not json"))
	objects.put("7393/session_20250101_150000_4/metadata.json", []byte("[1,2]"))
	addSession(objects, "7393", "session_20250102_120000_5")           // out of range
	objects.put("7393/calibration/metadata.json", []byte(metadataDoc)) // not a session
	addSession(objects, "7393", "session_2025_bad")                    // no date, excluded by filter

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(ctx, Options{Mode: ModeMetadata, Range: day(t, "2025-01-01")})
	require.NoError(t, err)

	st := res.Metadata
	require.Equal(t, 1, st.New)
	require.Equal(t, 1, st.MetadataMissing)
	require.Equal(t, 2, st.ParseFailures)
	require.Equal(t, 2, st.SkippedByDate)
	require.Equal(t, 4, st.SessionsScanned)
	require.Equal(t, 2, st.Failures())
}

func TestMetadataPhase_DeviceSwitches(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "active", "session_20250101_120000_1")
	addSession(objects, "skipped", "session_20250101_120000_2")
	addSession(objects, "retired", "session_20250101_120000_3")

	db := openStore(t)
	require.NoError(t, db.UpsertDevice(ctx, store.Device{DeviceID: "skipped", MBPer10Min: 600, IsActive: true, SkipScan: true}))
	require.NoError(t, db.UpsertDevice(ctx, store.Device{DeviceID: "retired", MBPer10Min: 600, IsActive: false}))

	engine, _ := newEngine(t, db, objects)
	res, err := engine.Run(ctx, Options{Mode: ModeMetadata})
	require.NoError(t, err)
	require.Equal(t, 1, res.Metadata.New)
	require.Equal(t, 2, res.Metadata.DevicesSkipped)
	require.Equal(t, 1, res.Metadata.DevicesScanned)
}

func TestMetadataPhase_DeviceFilter(t *testing.T) {
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")
	addSession(objects, "b852", "session_20250101_120000_2")

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(context.Background(), Options{Mode: ModeMetadata, DeviceID: "b852"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Metadata.DevicesScanned)
	require.Equal(t, 1, res.Metadata.New)

	res, err = engine.Run(context.Background(), Options{Mode: ModeMetadata, DeviceID: "nope"})
	require.NoError(t, err)
	require.Zero(t, res.Metadata.DevicesScanned)
}

func TestMetadataPhase_DebugLimit(t *testing.T) {
	objects := newMemObjects()
	for i := 0; i < 8; i++ {
		addSession(objects, "7393", fmt.Sprintf("session_20250101_12000%d_%d", i, i))
	}

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(context.Background(), Options{Mode: ModeMetadata, Debug: true})
	require.NoError(t, err)
	require.True(t, res.Metadata.Halted)
	require.Equal(t, DebugLimit, res.Metadata.New)
}

func TestRun_RootListingFailureIsFatal(t *testing.T) {
	objects := newMemObjects()
	objects.listErr[""] = syscall.ECONNRESET

	engine, _ := newEngine(t, openStore(t), objects)
	_, err := engine.Run(context.Background(), Options{})
	require.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestMetadataPhase_SessionListingFailureSkipsDevice(t *testing.T) {
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")
	addSession(objects, "b852", "session_20250101_120000_2")
	objects.listErr["7393/"] = errors.New("access denied")

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(context.Background(), Options{Mode: ModeMetadata})
	require.NoError(t, err)
	require.Equal(t, 1, res.Metadata.DevicesFailed)
	require.Equal(t, 1, res.Metadata.New)
}

// failingStore makes the existence oracle fail
type failingStore struct {
	*store.Store
}

func (f failingStore) SessionExists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRun_ExistenceErrorIsFatal(t *testing.T) {
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")

	engine, _ := newEngine(t, failingStore{openStore(t)}, objects)
	_, err := engine.Run(context.Background(), Options{Mode: ModeMetadata})
	require.ErrorContains(t, err, "connection refused")
}

func TestSegmentPhase(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000", "0001", "0010")
	prefix := "7393/session_20250101_120000_1/segments/"
	objects.putSized(prefix+"7393-down_sbs_0002.mp4", 1)     // unpaired
	objects.putSized(prefix+"7393-side_sbs_0003.mp4", 1)     // unknown camera
	objects.putSized(prefix+"garbage.mp4", 1)                // bad name
	objects.putSized(prefix+"7393-down_sbs_0000.json", 1)    // not a video
	addSession(objects, "b852", "session_20250101_080000_2") // no segments

	db := openStore(t)
	engine, _ := newEngine(t, db, objects)

	res, err := engine.Run(ctx, Options{Mode: ModeAll})
	require.NoError(t, err)
	require.Equal(t, 2, res.Metadata.New)

	st := res.Segments
	require.Equal(t, 2, st.SessionsProcessed)
	require.Equal(t, 3, st.New)
	require.Equal(t, 1, st.Unpaired)
	require.Equal(t, 2, st.InvalidFilenames)
	require.Equal(t, int64(3*1_150_000_000), st.NewBytes)
	require.Equal(t, 3, res.Tracker.Len())
	require.Equal(t, []store.SegmentKey{
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0000"},
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0001"},
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0010"},
	}, res.Tracker.Keys())

	segs, err := db.SessionSegments(ctx, "session_20250101_120000_1")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, "7393-down_sbs_0000.mp4", segs[0].DownFileName)
	require.Equal(t, "oss://test-bucket/"+prefix+"7393-front_sbs_0000.mp4", segs[0].FrontOSSPath)
	require.Equal(t, int64(600_000_000), segs[0].DownSizeBytes)
	require.Equal(t, int64(550_000_000), segs[0].FrontSizeBytes)
	require.Equal(t, "pending", segs[0].ApprovalStatus)

	// A re-scan commits nothing and tracks nothing
	res, err = engine.Run(ctx, Options{Mode: ModeSegments})
	require.NoError(t, err)
	require.Zero(t, res.Segments.New)
	require.Equal(t, 3, res.Segments.Existing)
	require.Zero(t, res.Tracker.Len())
}

// racingStore scripts insert outcomes by id. A nil error means another
// writer committed the row first, which the store reports as (false, nil).
type racingStore struct {
	*store.Store
	sessions map[string]error
	segments map[string]error
}

func (r racingStore) InsertSession(ctx context.Context, sess *store.Session) (bool, error) {
	if err, ok := r.sessions[sess.SessionID]; ok {
		return false, err
	}
	return r.Store.InsertSession(ctx, sess)
}

func (r racingStore) InsertSegment(ctx context.Context, seg *store.Segment) (bool, error) {
	if err, ok := r.segments[seg.SegmentNumber]; ok {
		return false, err
	}
	return r.Store.InsertSegment(ctx, seg)
}

func TestSegmentPhase_TracksOnlyCommittedRows(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000", "0001", "0002", "0003", "0004")

	db := openStore(t)
	engine, _ := newEngine(t, racingStore{
		Store: db,
		segments: map[string]error{
			"0001": nil,
			"0002": errors.New("disk I/O error"),
			"0003": &pgconn.PgError{Code: "23503"},
		},
	}, objects)

	res, err := engine.Run(ctx, Options{Mode: ModeAll})
	require.NoError(t, err)

	st := res.Segments
	require.Equal(t, 2, st.New)
	require.Equal(t, 1, st.Existing)
	require.Equal(t, 2, st.InsertFailures)
	require.Equal(t, 1, st.Orphaned)
	require.Equal(t, int64(2*1_150_000_000), st.NewBytes)

	segs, err := db.SessionSegments(ctx, "session_20250101_120000_1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, len(segs), res.Tracker.Len())
	require.Equal(t, []store.SegmentKey{
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0000"},
		{SessionID: "session_20250101_120000_1", SegmentNumber: "0004"},
	}, res.Tracker.Keys())
}

func TestMetadataPhase_LostInsertRaceCountsExisting(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1")
	addSession(objects, "7393", "session_20250101_130000_2")
	addSession(objects, "7393", "session_20250101_140000_3")

	db := openStore(t)
	engine, _ := newEngine(t, racingStore{
		Store: db,
		sessions: map[string]error{
			"session_20250101_130000_2": nil,
			"session_20250101_140000_3": errors.New("disk I/O error"),
		},
	}, objects)

	res, err := engine.Run(ctx, Options{Mode: ModeMetadata})
	require.NoError(t, err)
	require.Equal(t, 1, res.Metadata.New)
	require.Equal(t, 1, res.Metadata.Existing)
	require.Equal(t, 1, res.Metadata.InsertFailures)

	_, ok, err := db.GetSession(ctx, "session_20250101_120000_1")
	require.NoError(t, err)
	require.True(t, ok, "siblings still commit")
	_, ok, err = db.GetSession(ctx, "session_20250101_130000_2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSegmentPhase_SessionMissing(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000")

	db := openStore(t)
	_, err := db.RegisterDevice(ctx, "7393")
	require.NoError(t, err)

	engine, _ := newEngine(t, db, objects)
	res, err := engine.Run(ctx, Options{Mode: ModeSegments})
	require.NoError(t, err)
	require.Equal(t, 1, res.Segments.SessionMissing)
	require.Zero(t, res.Segments.New)
	require.Zero(t, res.Tracker.Len())
}

func TestSegmentPhase_UnknownAndSkippedDevices(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "unknown", "session_20250101_120000_1", "0000")
	addSession(objects, "skipped", "session_20250101_120000_2", "0000")
	addSession(objects, "retired", "session_20250101_120000_3", "0000")

	db := openStore(t)
	require.NoError(t, db.UpsertDevice(ctx, store.Device{DeviceID: "skipped", MBPer10Min: 600, IsActive: true, SkipScan: true}))
	require.NoError(t, db.UpsertDevice(ctx, store.Device{DeviceID: "retired", MBPer10Min: 600, IsActive: false}))
	_, err := db.InsertSession(ctx, &store.Session{SessionID: "session_20250101_120000_3", DeviceID: "retired"})
	require.NoError(t, err)

	engine, _ := newEngine(t, db, objects)
	res, err := engine.Run(ctx, Options{Mode: ModeSegments})
	require.NoError(t, err)

	// Inactive devices still get their segments
	require.Equal(t, 2, res.Segments.DevicesSkipped)
	require.Equal(t, 1, res.Segments.DevicesScanned)
	require.Equal(t, 1, res.Segments.New)
}

func TestSegmentPhase_SizeFailureRecordsZero(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000")
	front := "7393/session_20250101_120000_1/segments/7393-front_sbs_0000.mp4"
	objects.sizeErr[front] = syscall.ETIMEDOUT

	db := openStore(t)
	engine, _ := newEngine(t, db, objects)
	res, err := engine.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Segments.New)
	require.Equal(t, 1, res.Segments.SizeFailures)

	segs, err := db.SessionSegments(ctx, "session_20250101_120000_1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, int64(600_000_000), segs[0].DownSizeBytes)
	require.Zero(t, segs[0].FrontSizeBytes)
}

func TestSegmentPhase_ListFailureSkipsSession(t *testing.T) {
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000")
	addSession(objects, "7393", "session_20250101_130000_2", "0000")
	objects.listErr["7393/session_20250101_120000_1/segments/"] = errors.New("timeout")

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Segments.ListFailures)
	require.Equal(t, 1, res.Segments.New)
}

func TestSegmentPhase_DebugLimit(t *testing.T) {
	objects := newMemObjects()
	addSession(objects, "7393", "session_20250101_120000_1", "0000", "0001", "0002")
	addSession(objects, "7393", "session_20250101_130000_2", "0000", "0001", "0002")

	engine, _ := newEngine(t, openStore(t), objects)
	res, err := engine.Run(context.Background(), Options{Debug: true})
	require.NoError(t, err)
	require.True(t, res.Segments.Halted)
	require.Equal(t, DebugLimit, res.Segments.New)
	require.Equal(t, DebugLimit, res.Tracker.Len())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAll, false},
		{"all", ModeAll, false},
		{"Metadata", ModeMetadata, false},
		{" segments ", ModeSegments, false},
		{"both", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, util.ErrInvalidConfig, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	a := store.SegmentKey{SessionID: "s2", SegmentNumber: "0001"}
	b := store.SegmentKey{SessionID: "s1", SegmentNumber: "0002"}
	tr.Add(a)
	tr.Add(b)
	tr.Add(a)

	require.Equal(t, 2, tr.Len())
	require.True(t, tr.Contains(a))
	require.False(t, tr.Contains(store.SegmentKey{SessionID: "s3"}))
	require.Equal(t, []store.SegmentKey{b, a}, tr.Keys())

	var nilTracker *Tracker
	require.Zero(t, nilTracker.Len())
	require.Nil(t, nilTracker.Keys())
}

func TestBarWidth(t *testing.T) {
	for columns, want := range map[int]int{0: 10, 80: 20, 100: 40, 200: 40} {
		require.Equal(t, want, barWidth(columns), "columns=%d", columns)
	}
}
