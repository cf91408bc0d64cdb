package transcode

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// ProgressEvent is one block of ffmpeg "-progress" output.
type ProgressEvent struct {
	Frame   int64
	OutTime time.Duration
	Speed   string
	Percent float64
	Done    bool
}

// ParseProgress reads key=value blocks written by "ffmpeg -progress" and
// calls emit at the end of each block. Percent stays 0 when duration is
// unknown.
func ParseProgress(r io.Reader, duration time.Duration, emit func(ProgressEvent)) error {
	scanner := bufio.NewScanner(r)
	var ev ProgressEvent

	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			ev.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				ev.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			ev.Speed = strings.TrimSpace(value)
		case "progress":
			ev.Done = value == "end"
			if duration > 0 {
				ev.Percent = float64(ev.OutTime) / float64(duration) * 100
				if ev.Percent > 100 {
					ev.Percent = 100
				}
			}
			if ev.Done {
				ev.Percent = 100
			}
			emit(ev)
			ev = ProgressEvent{Frame: ev.Frame, OutTime: ev.OutTime}
		}
	}
	return scanner.Err()
}
