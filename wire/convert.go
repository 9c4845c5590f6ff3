package wire

import (
	"strings"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// ConvertPollMessage rewrites one poll message's data field into the
// space-separated device-id line the parsers expect. Both the current and the
// legacy on-wire encodings are handled by the normalizer; the poll message id
// supplies the best-effort device id when the data carries none.
// Announcement lines pass through untouched: the legacy colon grammar would
// otherwise read a 4-letter marker like "AREA:" or "STAT:" as a device id and
// strip it.
func ConvertPollMessage(messageID, data string) string {
	data = strings.TrimSpace(data)
	if a := ParseAnnouncement(data); a.Kind != telemetry.AnnouncementUnknown {
		return data
	}

	line := Normalize(data, messageID)
	if line.Payload == "" {
		return line.DeviceID
	}
	return line.DeviceID + " " + line.Payload
}

// SplitLines splits a chunk of transport text on CR and LF, both treated as
// terminators. It returns the complete lines and the trailing partial line,
// which the caller buffers until more data arrives or the connection closes.
func SplitLines(data string) (lines []string, partial string) {
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines, data[start:]
}

// IsBlank reports whether a line contains only whitespace.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
