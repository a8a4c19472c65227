package vision

import (
	"context"
	"image"

	"github.com/LdDl/mot-presence/mot"
	"github.com/LdDl/mot-presence/presence"
	"gocv.io/x/gocv"
)

// MotionClasses is class table of MotionDetector
var MotionClasses = presence.ClassTable{"motion"}

// MotionDetector proposes boxes of moving regions found by KNN background subtraction
type MotionDetector struct {
	subtractor gocv.BackgroundSubtractorKNN
	kernel     gocv.Mat
	mask       gocv.Mat
	minArea    float64
}

// NewMotionDetector creates detector. Regions with contour area below minArea are ignored
func NewMotionDetector(minArea float64) *MotionDetector {
	return &MotionDetector{
		subtractor: gocv.NewBackgroundSubtractorKNN(),
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5)),
		mask:       gocv.NewMat(),
		minArea:    minArea,
	}
}

// Detect implements pipeline.Detector
func (detector *MotionDetector) Detect(ctx context.Context, frame gocv.Mat) ([]*mot.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detector.subtractor.Apply(frame, &detector.mask)
	gocv.Threshold(detector.mask, &detector.mask, 25, 255, gocv.ThresholdBinary)
	gocv.MorphologyEx(detector.mask, &detector.mask, gocv.MorphOpen, detector.kernel)
	gocv.MorphologyEx(detector.mask, &detector.mask, gocv.MorphClose, detector.kernel)

	contours := gocv.FindContours(detector.mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	blobs := make([]*mot.Blob, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < detector.minArea {
			continue
		}
		rect := gocv.BoundingRect(contour)
		blobs = append(blobs, mot.NewBlob(mot.NewRectFrom(rect), 0, 1.0))
	}
	return blobs, nil
}

// Close releases OpenCV resources
func (detector *MotionDetector) Close() {
	detector.subtractor.Close()
	detector.kernel.Close()
	detector.mask.Close()
}
