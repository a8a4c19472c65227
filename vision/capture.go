// Package vision reads video frames, proposes object boxes and draws presence overlay with OpenCV (gocv).
package vision

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCapture opens video source: existing file path, stream URL or camera index
func OpenCapture(device string) (*gocv.VideoCapture, error) {
	if _, err := os.Stat(device); err == nil {
		capture, err := gocv.VideoCaptureFile(device)
		return capture, errors.Wrapf(err, "can't open video file %s", device)
	}
	if cameraID, err := strconv.Atoi(device); err == nil {
		capture, err := gocv.VideoCaptureDevice(cameraID)
		return capture, errors.Wrapf(err, "can't open camera %d", cameraID)
	}
	capture, err := gocv.VideoCaptureFile(device)
	return capture, errors.Wrapf(err, "can't open stream %s", device)
}

// Window shows annotated frames
type Window struct {
	window *gocv.Window
}

// NewWindow creates window with given title
func NewWindow(title string) *Window {
	return &Window{window: gocv.NewWindow(title)}
}

// Show displays frame and waits for key press for 1 ms. Returns false when 'q' is pressed
func (w *Window) Show(img gocv.Mat) bool {
	w.window.IMShow(img)
	key := w.window.WaitKey(1)
	return key&0xFF != 'q'
}

// Close destroys window
func (w *Window) Close() error {
	return w.window.Close()
}
