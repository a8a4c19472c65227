package vision

import (
	"context"
	"image"

	"github.com/LdDl/mot-presence/mot"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// NetDetector proposes boxes with YOLO network loaded by OpenCV DNN module.
// Network output rows are expected as [cx, cy, w, h, objectness, class scores...]
// with coordinates normalized to input size (Darknet/YOLOv3 layout).
type NetDetector struct {
	net           gocv.Net
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
}

// NewNetDetector loads model (and optional config) from disk
func NewNetDetector(modelPath, configPath string, inputSize int, confThreshold float64) (*NetDetector, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, errors.Errorf("can't read network from '%s'", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &NetDetector{
		net:           net,
		inputSize:     inputSize,
		confThreshold: float32(confThreshold),
		nmsThreshold:  0.4,
	}, nil
}

// Detect implements pipeline.Detector
func (detector *NetDetector) Detect(ctx context.Context, frame gocv.Mat) ([]*mot.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(detector.inputSize, detector.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	detector.net.SetInput(blob, "")
	output := detector.net.Forward("")
	defer output.Close()

	frameWidth := float32(frame.Cols())
	frameHeight := float32(frame.Rows())
	rects := make([]image.Rectangle, 0)
	scores := make([]float32, 0)
	classIDs := make([]int, 0)
	for i := 0; i < output.Rows(); i++ {
		scoresRow := output.Region(image.Rect(5, i, output.Cols(), i+1))
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scoresRow)
		scoresRow.Close()
		if maxVal < detector.confThreshold {
			continue
		}
		cx := output.GetFloatAt(i, 0) * frameWidth
		cy := output.GetFloatAt(i, 1) * frameHeight
		w := output.GetFloatAt(i, 2) * frameWidth
		h := output.GetFloatAt(i, 3) * frameHeight
		left := int(cx - w/2)
		top := int(cy - h/2)
		rects = append(rects, image.Rect(left, top, left+int(w), top+int(h)))
		scores = append(scores, maxVal)
		classIDs = append(classIDs, maxLoc.X)
	}
	if len(rects) == 0 {
		return []*mot.Blob{}, nil
	}

	indices := gocv.NMSBoxes(rects, scores, detector.confThreshold, detector.nmsThreshold)
	blobs := make([]*mot.Blob, 0, len(indices))
	for _, idx := range indices {
		blobs = append(blobs, mot.NewBlob(mot.NewRectFrom(rects[idx]), classIDs[idx], float64(scores[idx])))
	}
	return blobs, nil
}

// Close releases network
func (detector *NetDetector) Close() error {
	return detector.net.Close()
}
