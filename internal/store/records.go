package store

// DefaultMBPer10Min is the throughput assumed for auto-registered devices
const DefaultMBPer10Min = 600.0

// Device is a recording device and its scan switches
type Device struct {
	DeviceID   string
	MBPer10Min float64
	IsActive   bool
	SkipScan   bool
	CreatedAt  string
	UpdatedAt  string
}

// Scannable reports whether the metadata phase should visit the device
func (d Device) Scannable() bool {
	return d.IsActive && !d.SkipScan
}

// Session is one recording unit. Empty strings are stored as NULL.
type Session struct {
	SessionID       string
	DeviceID        string
	CollectDate     string // YYYY-MM-DD
	CollectTime     string // HH:MM:SS
	StartTimeUTC    string
	EndTimeUTC      string
	TaskDescription string
	Scene           string
	CollectSite     string
	OperatorInfo    string // JSON object
	DeviceModel     string
	Platform        string
	Resolution      string
	FPS             *float64
	NumCameras      int
	RawMetadata     string // JSON document
}

// Segment is a paired down/front video chunk of a session
type Segment struct {
	ID             int64
	SessionID      string
	SegmentNumber  string
	DownFileName   string
	DownOSSPath    string
	DownSizeBytes  int64
	FrontFileName  string
	FrontOSSPath   string
	FrontSizeBytes int64
	ApprovalStatus string
}

// TotalBytes is the combined size of both camera files
func (s Segment) TotalBytes() int64 {
	return s.DownSizeBytes + s.FrontSizeBytes
}

// Key returns the segment's unique key
func (s Segment) Key() SegmentKey {
	return SegmentKey{SessionID: s.SessionID, SegmentNumber: s.SegmentNumber}
}

// SegmentKey identifies a segment
type SegmentKey struct {
	SessionID     string
	SegmentNumber string
}

// DeltaRow is one row of the segments_csv_export view
type DeltaRow struct {
	UpdatedAt         string
	Date              string
	Time              string
	DeviceID          string
	SegmentNumber     string
	ApprovalStatus    string
	DownOSSPath       string
	FrontOSSPath      string
	SessionID         string
	FileSizeMB        float64
	EstimatedDuration float64
}

// DeltaColumns are the header names of the delta CSV, in view order
var DeltaColumns = []string{
	"updated_at", "date", "time", "device_id", "segment_number", "approval_status",
	"down_oss_path", "front_oss_path", "session_id", "filesize", "estimated_duration",
}

// ExportRow is a joined segment row used by the formatted exports
type ExportRow struct {
	SessionID      string
	SegmentNumber  string
	DeviceID       string
	CollectDate    string
	CollectTime    string
	UpdatedAt      string
	TaskDesc       string
	DownOSSPath    string
	FrontOSSPath   string
	DownSizeBytes  int64
	FrontSizeBytes int64
	ApprovalStatus string
	MBPer10Min     float64
}

// TotalBytes is the combined size of both camera files
func (r ExportRow) TotalBytes() int64 {
	return r.DownSizeBytes + r.FrontSizeBytes
}

// DeviceActivity is the number of sessions a device recorded on one day
type DeviceActivity struct {
	DeviceID    string
	CollectDate string
	Sessions    int
	Segments    int
}

// Counts are aggregate table statistics
type Counts struct {
	Devices         int
	ActiveDevices   int
	SkippedDevices  int
	InactiveDevices int
	Sessions        int
	Segments        int
	TotalBytes      int64
	FirstDate       string
	LastDate        string
}
