package main

import (
	"context"
	"log"
	"time"

	"github.com/LdDl/mot-presence/config"
	"github.com/LdDl/mot-presence/pipeline"
	"github.com/LdDl/mot-presence/presence"
	"github.com/LdDl/mot-presence/sink"
	"github.com/LdDl/mot-presence/source"
	"github.com/LdDl/mot-presence/vision"
	"gocv.io/x/gocv"
)

// runReplay feeds every frame between the first and the last recorded one.
// Frames absent from the recording are frames without detections.
func runReplay(ctx context.Context, cfg config.Config, reporters sink.Multi, options []presence.Option, sweeps <-chan time.Time) (*presence.Store, error) {
	classes, err := loadClasses(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := source.OpenReplay(cfg.ReplayCSV, classes, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	frames := engine.Frames()
	start := time.Now()
	p := pipeline.New[int64](engine, start, reporters, reporters, options...)
	if len(frames) == 0 {
		log.Printf("Replay %s has no frames", cfg.ReplayCSV)
		return p.Manager().Store(), nil
	}

	frameDuration := time.Duration(float64(time.Second) / cfg.ReplayFPS)
	first := frames[0]
	for frame := range engine.Span() {
		// Replay clock drives retention, wall clock only triggers the sweep
		now := start.Add(time.Duration(frame-first) * frameDuration)
		select {
		case <-ctx.Done():
			log.Println("Interrupted")
			return p.Manager().Store(), nil
		case <-sweeps:
			p.Sweep(ctx, now)
		default:
		}
		if _, err := p.Process(ctx, frame, now); err != nil {
			if ctx.Err() != nil {
				log.Println("Interrupted")
				return p.Manager().Store(), nil
			}
			log.Printf("Skipping frame: %v", err)
		}
	}
	log.Printf("Replay finished: %d frames, %d records", p.Manager().FrameCount(), p.Manager().Store().Len())
	return p.Manager().Store(), nil
}

// runCamera reads video, runs detector and tracker, draws overlay until 'q', end of stream or signal
func runCamera(ctx context.Context, cfg config.Config, reporters sink.Multi, options []presence.Option, sweeps <-chan time.Time) (*presence.Store, error) {
	capture, err := vision.OpenCapture(cfg.Source)
	if err != nil {
		return nil, err
	}
	defer capture.Close()

	var (
		detector pipeline.Detector[gocv.Mat]
		classes  presence.ClassTable
	)
	switch cfg.Detector {
	case config.DetectorMotion:
		motion := vision.NewMotionDetector(cfg.MinMotionArea)
		defer motion.Close()
		detector, classes = motion, vision.MotionClasses
	default:
		classes, err = loadClasses(cfg)
		if err != nil {
			return nil, err
		}
		netDetector, err := vision.NewNetDetector(cfg.ModelPath, cfg.ModelConfig, cfg.ModelInputSize, cfg.ConfidenceThreshold)
		if err != nil {
			return nil, err
		}
		defer netDetector.Close()
		detector = netDetector
	}
	engine := pipeline.NewTrackerEngine[gocv.Mat](detector, newTracker(cfg.Tracker), classes)
	p := pipeline.New[gocv.Mat](engine, time.Now(), reporters, reporters, options...)

	var window *vision.Window
	if !cfg.Headless {
		window = vision.NewWindow("Object Tracker")
		defer window.Close()
		log.Println("Press 'q' to quit")
	}

	img := gocv.NewMat()
	defer img.Close()
	for {
		select {
		case <-ctx.Done():
			log.Println("Interrupted")
			return p.Manager().Store(), nil
		case now := <-sweeps:
			p.Sweep(ctx, now)
		default:
		}
		if ok := capture.Read(&img); !ok || img.Empty() {
			log.Println("End of stream")
			return p.Manager().Store(), nil
		}
		result, err := p.Process(ctx, img, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return p.Manager().Store(), nil
			}
			log.Printf("Skipping frame: %v", err)
			continue
		}
		if window == nil {
			continue
		}
		vision.DrawOverlay(&img, result.Overlay)
		if !window.Show(img) {
			return p.Manager().Store(), nil
		}
	}
}
