package presence

import (
	"fmt"
	"time"
)

// TimeOfDayLayout is used to print first-seen timestamps
const TimeOfDayLayout = "15:04:05"

// NewEvent is emitted for identity observed with no prior record
type NewEvent struct {
	ID        int64
	ClassName string
	FirstSeen time.Time
}

// FirstSeenText returns first-seen time of day
func (e NewEvent) FirstSeenText() string {
	return e.FirstSeen.Format(TimeOfDayLayout)
}

// MissingEvent is emitted for identity with a prior record which is not observed on the frame
type MissingEvent struct {
	ID          int64
	ClassName   string
	Duration    time.Duration
	TotalFrames int
	// True on the first frame of absence only
	Departed bool
}

// DurationText returns duration in seconds with one decimal, e.g. "5.2s"
func (e MissingEvent) DurationText() string {
	return formatSeconds(e.Duration)
}

// ReappearedEvent is emitted for known identity observed again after at least one frame of absence.
// Such identity is never reported as new.
type ReappearedEvent struct {
	ID        int64
	ClassName string
	// Number of frames the identity was absent
	Gap int64
	// Time since previous observation
	AbsentFor time.Duration
}

// AbsentForText returns absence time in seconds with one decimal
func (e ReappearedEvent) AbsentForText() string {
	return formatSeconds(e.AbsentFor)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
