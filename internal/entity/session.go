package entity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/franz/fpvscan/internal/store"
)

// MetadataFilename is the per-session metadata document name
const MetadataFilename = "metadata.json"

// DefaultCollectSite is stored when the metadata has no collect site
const DefaultCollectSite = "N/A"

var sessionIDPattern = regexp.MustCompile(`^session_(\d{4})(\d{2})(\d{2})_(\d{2})(\d{2})(\d{2})_\d+$`)

// SessionTime is the collection timestamp encoded in a session id
type SessionTime struct {
	Date string    // YYYY-MM-DD, empty when the id does not parse
	Time string    // HH:MM:SS, empty when the id does not parse
	Day  time.Time // midnight UTC of Date
	OK   bool
}

// ParseSessionID extracts the collection date and time from an id like
// session_20251028_051033_882605. Ids that do not match, or that encode an
// impossible date, return a zero SessionTime.
func ParseSessionID(id string) SessionTime {
	m := sessionIDPattern.FindStringSubmatch(id)
	if m == nil {
		return SessionTime{}
	}

	stamp := m[1] + m[2] + m[3] + m[4] + m[5] + m[6]
	ts, err := time.Parse("20060102150405", stamp)
	if err != nil {
		return SessionTime{}
	}

	return SessionTime{
		Date: ts.Format(DateLayout),
		Time: ts.Format("15:04:05"),
		Day:  time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		OK:   true,
	}
}

// IsSessionName reports whether a listing entry names a session folder
func IsSessionName(name string) bool {
	return strings.HasPrefix(name, "session_")
}

// BaseName returns the last path element of an object key or prefix,
// ignoring a trailing slash
func BaseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Lookup walks a dotted path through nested JSON objects and returns def
// when any step is missing or not an object
func Lookup(data map[string]any, path string, def any) any {
	var current any = data
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return def
		}
		v, ok := obj[key]
		if !ok {
			return def
		}
		current = v
	}
	return current
}

// LookupString is Lookup for text fields. Non-string scalars are formatted,
// JSON null yields def.
func LookupString(data map[string]any, path, def string) string {
	switch v := Lookup(data, path, nil).(type) {
	case nil:
		return def
	case string:
		return v
	case float64, bool, json.Number:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return def
		}
		return string(b)
	}
}

// LookupFloat is Lookup for numeric fields
func LookupFloat(data map[string]any, path string) (float64, bool) {
	switch v := Lookup(data, path, nil).(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// BuildSession converts a decoded metadata document into a session record.
// Missing or oddly typed fields fall back to empty values.
func BuildSession(deviceID, sessionID string, metadata map[string]any) (*store.Session, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw metadata: %w", err)
	}

	st := ParseSessionID(sessionID)
	sess := &store.Session{
		SessionID:       sessionID,
		DeviceID:        deviceID,
		CollectDate:     st.Date,
		CollectTime:     st.Time,
		StartTimeUTC:    LookupString(metadata, "start_time_utc_iso8601", ""),
		EndTimeUTC:      LookupString(metadata, "end_time_utc_iso8601", ""),
		TaskDescription: LookupString(metadata, "task_info.task_description", ""),
		Scene:           LookupString(metadata, "task_info.scene", ""),
		CollectSite:     LookupString(metadata, "task_info.collect_site", DefaultCollectSite),
		DeviceModel:     LookupString(metadata, "device_info.model", ""),
		Platform:        LookupString(metadata, "device_info.platform", ""),
		Resolution:      LookupString(metadata, "camera_settings.resolution", ""),
		RawMetadata:     string(raw),
	}

	if fps, ok := LookupFloat(metadata, "camera_settings.fps"); ok {
		sess.FPS = &fps
	}

	if cams, ok := Lookup(metadata, "camera_settings.stereo_cameras", nil).([]any); ok {
		sess.NumCameras = len(cams)
	}

	if h := Lookup(metadata, "task_info.operator_height", nil); h != nil {
		info, err := json.Marshal(map[string]any{"operator_height": h})
		if err != nil {
			return nil, fmt.Errorf("failed to encode operator info: %w", err)
		}
		sess.OperatorInfo = string(info)
	}

	return sess, nil
}

// DecodeMetadata parses a metadata document. The top level must be an object.
func DecodeMetadata(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid metadata JSON: top level is null")
	}
	return doc, nil
}
