package presence

import "time"

// DefaultSampleWindow is number of frames between frame-rate recomputations
const DefaultSampleWindow = 30

// FPSMeter estimates frame rate once per sample window.
// Between samples the previous estimate is held (zero before the first sample).
type FPSMeter struct {
	window     int64
	fps        float64
	lastSample time.Time
}

// NewFPSMeter creates meter which starts measuring at start
func NewFPSMeter(window int, start time.Time) *FPSMeter {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	return &FPSMeter{
		window:     int64(window),
		lastSample: start,
	}
}

// Tick accounts frame with given number and returns current estimate
func (f *FPSMeter) Tick(frame int64, now time.Time) float64 {
	if frame%f.window != 0 {
		return f.fps
	}
	if elapsed := now.Sub(f.lastSample).Seconds(); elapsed > 0 {
		f.fps = float64(f.window) / elapsed
	}
	f.lastSample = now
	return f.fps
}

// FPS returns current estimate
func (f *FPSMeter) FPS() float64 {
	return f.fps
}
