package entity

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/franz/fpvscan/internal/store"
)

// SegmentsDir is the folder under a session prefix holding the video files
const SegmentsDir = "segments/"

var segmentFilePattern = regexp.MustCompile(`^(.+?)_sbs_(\d+)\.mp4$`)

// Camera identifies which camera recorded a segment file
type Camera int

const (
	CameraUnknown Camera = iota
	CameraDown
	CameraFront
)

func (c Camera) String() string {
	switch c {
	case CameraDown:
		return "down"
	case CameraFront:
		return "front"
	default:
		return "unknown"
	}
}

// ParseSegmentFilename splits "<label>_sbs_<digits>.mp4" into its camera
// label and zero-padded segment number. Non-matching names return empty
// strings.
//
//	stereo_cam0_sbs_0010.mp4 -> ("stereo_cam0", "0010")
//	2ed0-front_sbs_0012.mp4  -> ("2ed0-front", "0012")
func ParseSegmentFilename(name string) (label, number string) {
	m := segmentFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// ClassifyCamera maps a camera label to down/front by case-insensitive
// substring match
func ClassifyCamera(label string) Camera {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "down"):
		return CameraDown
	case strings.Contains(l, "front"):
		return CameraFront
	default:
		return CameraUnknown
	}
}

// Pair collects the down and front object keys sharing a segment number
type Pair struct {
	Number string
	Down   string
	Front  string
}

// Complete reports whether both cameras are present
func (p Pair) Complete() bool {
	return p.Down != "" && p.Front != ""
}

// Grouping is the result of grouping a session's segment objects
type Grouping struct {
	Pairs   []Pair   // ascending by segment number, complete or not
	Invalid []string // file names that did not parse or had an unknown camera
}

// Unpaired counts pairs missing either camera
func (g Grouping) Unpaired() int {
	n := 0
	for _, p := range g.Pairs {
		if !p.Complete() {
			n++
		}
	}
	return n
}

// GroupSegments groups .mp4 object keys by segment number. Keys with other
// extensions are ignored. When a camera appears twice for the same number
// the later key wins.
func GroupSegments(keys []string) Grouping {
	var g Grouping
	byNumber := make(map[string]*Pair)

	for _, key := range keys {
		if !strings.HasSuffix(key, ".mp4") {
			continue
		}
		name := path.Base(key)
		label, number := ParseSegmentFilename(name)
		if label == "" || number == "" {
			g.Invalid = append(g.Invalid, name)
			continue
		}

		cam := ClassifyCamera(label)
		if cam == CameraUnknown {
			g.Invalid = append(g.Invalid, name)
			continue
		}

		p, ok := byNumber[number]
		if !ok {
			p = &Pair{Number: number}
			byNumber[number] = p
		}
		if cam == CameraDown {
			p.Down = key
		} else {
			p.Front = key
		}
	}

	g.Pairs = make([]Pair, 0, len(byNumber))
	for _, p := range byNumber {
		g.Pairs = append(g.Pairs, *p)
	}
	sort.Slice(g.Pairs, func(i, j int) bool {
		return lessNumber(g.Pairs[i].Number, g.Pairs[j].Number)
	})

	return g
}

func lessNumber(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// BuildSegment turns a complete pair into a segment record. locate maps an
// object key to its stored path (oss://bucket/key).
func BuildSegment(sessionID string, p Pair, locate func(key string) string, downSize, frontSize int64) *store.Segment {
	return &store.Segment{
		SessionID:      sessionID,
		SegmentNumber:  p.Number,
		DownFileName:   path.Base(p.Down),
		DownOSSPath:    locate(p.Down),
		DownSizeBytes:  downSize,
		FrontFileName:  path.Base(p.Front),
		FrontOSSPath:   locate(p.Front),
		FrontSizeBytes: frontSize,
	}
}
