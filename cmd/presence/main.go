package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/mot-presence/config"
	"github.com/LdDl/mot-presence/mot"
	"github.com/LdDl/mot-presence/presence"
	"github.com/LdDl/mot-presence/sink"
	"github.com/LdDl/mot-presence/source"
	"github.com/LdDl/mot-presence/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: $PRESENCE_CONFIG or presence.yaml)")
	sourceArg := flag.String("source", "", "Camera index, video file or stream URL (overrides config)")
	replayArg := flag.String("replay", "", "Replay tracker output CSV instead of reading video (overrides config)")
	modelArg := flag.String("model", "", "Detection model weights (overrides config)")
	confArg := flag.Float64("conf", 0, "Confidence threshold (overrides config)")
	headless := flag.Bool("headless", false, "Do not show window")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Can't load config: %v", err)
	}
	if *sourceArg != "" {
		cfg.Source = *sourceArg
	}
	if *replayArg != "" {
		cfg.ReplayCSV = *replayArg
	}
	if *modelArg != "" {
		cfg.ModelPath = *modelArg
	}
	if *confArg != 0 {
		cfg.ConfidenceThreshold = *confArg
	}
	if *headless {
		cfg.Headless = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Stopped with error: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	options, err := cfg.PresenceOptions()
	if err != nil {
		return err
	}
	schedule, err := cfg.Retention.Schedule()
	if err != nil {
		return err
	}

	log.Println("Starting object tracking...")
	log.Printf("Session ID: %s", cfg.SessionID)

	metricsReporter := sink.NewMetricsReporter(prometheus.DefaultRegisterer)
	reporters := sink.Multi{
		sink.NewConsoleReporter(os.Stdout, cfg.ReappearEventsEnabled()),
		metricsReporter,
	}

	var db *storage.DB
	if cfg.SQLitePath != "" {
		db, err = storage.Open(cfg.SQLitePath, cfg.SessionID)
		if err != nil {
			return err
		}
		defer db.Close()
		reporters = append(reporters, db)
		log.Printf("Archiving to %s", cfg.SQLitePath)
	}

	var kafkaReporter *sink.KafkaReporter
	if cfg.Kafka.Enabled() {
		kafkaCfg := cfg.Kafka
		kafkaCfg.SessionID = cfg.SessionID
		kafkaReporter, err = sink.NewKafkaReporter(kafkaCfg)
		if err != nil {
			return err
		}
		defer kafkaReporter.Close(10 * time.Second)
		reporters = append(reporters, kafkaReporter)
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	sweeps := scheduleSweeps(ctx, schedule)

	var store *presence.Store
	if cfg.ReplayCSV != "" {
		store, err = runReplay(ctx, cfg, reporters, options, sweeps)
	} else {
		store, err = runCamera(ctx, cfg, reporters, options, sweeps)
	}
	if store != nil && db != nil {
		// Records still held in memory are archived on exit
		snapshot := store.Snapshot()
		if saveErr := db.SaveRecords(context.Background(), snapshot); saveErr != nil {
			log.Printf("Can't archive %d records on exit: %v", len(snapshot), saveErr)
		} else {
			log.Printf("Archived %d records on exit", len(snapshot))
		}
	}
	return err
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s/metrics", addr)
	return server
}

// scheduleSweeps posts sweep times to the channel consumed by the capture loop.
// Sweep that can't be delivered because the loop is busy is dropped.
func scheduleSweeps(ctx context.Context, schedule cron.Schedule) <-chan time.Time {
	sweeps := make(chan time.Time, 1)
	go func() {
		for {
			next := schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case fired := <-timer.C:
				select {
				case sweeps <- fired:
				default:
				}
			}
		}
	}()
	return sweeps
}

func loadClasses(cfg config.Config) (presence.ClassTable, error) {
	if cfg.ClassesFile != "" {
		return source.LoadClasses(cfg.ClassesFile)
	}
	if len(cfg.Classes) == 0 {
		return nil, errors.New("class table is not configured: set 'classes' or 'classes_file'")
	}
	return presence.ClassTable(cfg.Classes), nil
}

func newTracker(cfg config.TrackerConfig) mot.Tracker {
	if cfg.Algorithm == config.TrackerByteTrack {
		algorithm := mot.MatchingAlgorithmHungarian
		if cfg.Greedy {
			algorithm = mot.MatchingAlgorithmGreedy
		}
		return mot.NewByteTracker(cfg.MaxNoMatch, cfg.IoUThreshold, cfg.HighThreshold, cfg.LowThreshold, algorithm)
	}
	return mot.NewIoUTracker(cfg.MaxNoMatch, cfg.IoUThreshold)
}
