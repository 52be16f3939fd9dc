package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// ProgressState accumulates fields from ffmpeg's -progress key=value output.
type ProgressState struct {
	OutTime time.Duration
	FPS     float64
	Speed   string
	End     bool
}

// ParseProgressLine folds one -progress line into the state. It reports true
// when the line completes a progress block (the "progress=" key), which is
// the moment a consumer should sample the state.
func ParseProgressLine(line string, st *ProgressState) bool {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds despite the name.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			st.OutTime = time.Duration(us) * time.Microsecond
		}
	case "out_time":
		if d, ok := parseClockTime(value); ok {
			st.OutTime = d
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			st.FPS = f
		}
	case "speed":
		st.Speed = value
	case "progress":
		st.End = value == "end"
		return true
	}
	return false
}

// parseClockTime parses ffmpeg's HH:MM:SS.micros timestamps.
func parseClockTime(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := float64(hours)*3600 + float64(minutes)*60 + seconds
	if total < 0 {
		return 0, false
	}
	return time.Duration(total * float64(time.Second)), true
}

// Percent converts elapsed output time into a 0-100 percentage against the
// expected duration, capped below 100 until the process reports completion.
func (st ProgressState) Percent(durationSec float64) float64 {
	if st.End {
		return 100
	}
	if durationSec <= 0 {
		return 0
	}
	pct := st.OutTime.Seconds() / durationSec * 100
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}
