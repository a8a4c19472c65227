package vision

import (
	"image/color"

	"github.com/LdDl/mot-presence/presence"
	"gocv.io/x/gocv"
)

var (
	boxColor  = color.RGBA{0, 255, 0, 0}
	textColor = color.RGBA{0, 255, 0, 0}
)

// DrawOverlay draws current detections, FPS and objects count on the frame
func DrawOverlay(img *gocv.Mat, overlay presence.Overlay) {
	for _, box := range overlay.Boxes {
		gocv.Rectangle(img, box.Rect, boxColor, 2)
		gocv.PutText(img, box.Label, box.LabelAt, gocv.FontHersheySimplex, 0.5, textColor, 2)
	}
	gocv.PutText(img, overlay.FPS.Text, overlay.FPS.At, gocv.FontHersheySimplex, 1, textColor, 2)
	gocv.PutText(img, overlay.Count.Text, overlay.Count.At, gocv.FontHersheySimplex, 1, textColor, 2)
}
