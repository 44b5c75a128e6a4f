package export

import "strings"

// PadNumber left-pads a segment number with zeros to four digits
func PadNumber(n string) string {
	if len(n) >= 4 {
		return n
	}
	return strings.Repeat("0", 4-len(n)) + n
}

// ObjectKey rebuilds the object key of a segment file from its parts
//
//	7393/session_20250101_120000_1/segments/7393-down_sbs_0007.mp4
func ObjectKey(deviceID, sessionID, segmentNumber, camera string) string {
	return deviceID + "/" + sessionID + "/segments/" + deviceID + "-" + camera + "_sbs_" + PadNumber(segmentNumber) + ".mp4"
}

// OSSPath is the oss:// location of a segment file
func OSSPath(bucket, deviceID, sessionID, segmentNumber, camera string) string {
	return "oss://" + bucket + "/" + ObjectKey(deviceID, sessionID, segmentNumber, camera)
}

// VideoURL is the playback link of a segment file behind the video proxy
func VideoURL(baseURL, deviceID, sessionID, segmentNumber, camera string) string {
	return baseURL + ObjectKey(deviceID, sessionID, segmentNumber, camera)
}
