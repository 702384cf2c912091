package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trackline/aissegment/internal/api"
	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/ingest"
	"github.com/trackline/aissegment/internal/manager"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/internal/store"
	"github.com/trackline/aissegment/pkg/utils"
)

var (
	// Version, Commit and BuildTime are set at build time via ldflags.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	serve := flag.Bool("serve", false, "run the MQTT ingestion pipeline and HTTP/WebSocket API instead of reading NDJSON from stdin")
	issueToken := flag.String("issue-token", "", "mint an admin bearer token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token minted by -issue-token")
	migrationsDir := flag.String("migrations", "migrations", "path to the MySQL migrations directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithField("version", Version).Info("starting aissegment")
	metrics.SetAppInfo(Version, Commit, BuildTime)

	if *issueToken != "" {
		token, err := api.IssueAdminToken(cfg.Auth.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			logger.WithField("error", err).Fatal("failed to issue admin token")
		}
		fmt.Println(token)
		return
	}

	if *serve {
		runServer(cfg, logger, *migrationsDir)
		return
	}

	runPipe(cfg, logger)
}

// runPipe decodes one AIS message per line of stdin and writes the tagged
// result, one JSON object per line, to stdout. It runs the messages through
// an in-process Manager and exits once stdin is exhausted. A message whose
// shard queue is full is dropped with a warning and produces no output.
func runPipe(cfg *config.Config, logger *utils.Logger) {
	out := make([]segmenter.Tagged, 0, 1024)
	sink := &collectSink{out: &out}

	mgr := manager.New(manager.Config{QueueSize: cfg.Manager.QueueSize, IdleTimeout: cfg.Manager.IdleTimeout}, segmenter.ConfigFromApp(cfg.Segmenter), logger, sink, nil)

	parser := ingest.NewParser()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := parser.Parse("", line)
		if err != nil {
			logger.WithField("error", err).Warn("skipping unparseable line")
			continue
		}
		if err := mgr.Submit(msg); err != nil {
			logger.WithField("error", err).Warn("dropping message, queue full")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithField("error", err).Fatal("error reading stdin")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("manager shutdown error")
	}

	enc := json.NewEncoder(os.Stdout)
	for _, tagged := range *sink.out {
		if err := enc.Encode(tagged); err != nil {
			logger.WithField("error", err).Fatal("failed to encode tagged message")
		}
	}
}

// collectSink buffers every Accept call, for the one-shot pipe mode.
// Retire is a no-op: the pipe mode reports only the tagged message stream,
// not the retired-segment archive.
type collectSink struct {
	mu  sync.Mutex
	out *[]segmenter.Tagged
}

func (c *collectSink) Accept(out segmenter.Tagged) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.out = append(*c.out, out)
}
func (c *collectSink) Retire(ssvid int64, flushed []manager.RetiredSegment, reason manager.EvictReason) {
}

// runServer starts the long-running service: MQTT ingestion, Redis
// snapshot persistence, MySQL archiving and the HTTP/WebSocket API, wired
// together through a single Manager.
func runServer(cfg *config.Config, logger *utils.Logger, migrationsDir string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := store.NewSnapshotStore(cfg.Redis, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to initialize snapshot store")
	}
	defer snapshots.Close()
	if err := snapshots.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("failed to connect to Redis")
	}
	logger.Info("connected to Redis")

	var archive *store.Archive
	if cfg.MySQL.DSN != "" {
		archive, err = store.NewArchive(cfg.MySQL, logger)
		if err != nil {
			logger.WithField("error", err).Warn("failed to initialize MySQL archive")
		} else {
			defer archive.Close()
			if err := archive.Ping(ctx); err != nil {
				logger.WithField("error", err).Warn("failed to connect to MySQL")
			} else if err := archive.MigrateUp(migrationsDir); err != nil {
				logger.WithField("error", err).Warn("failed to run MySQL migrations")
			} else {
				logger.Info("connected to MySQL")
			}
		}
	}

	initial, err := snapshots.LoadAll(ctx)
	if err != nil {
		logger.WithField("error", err).Warn("failed to load snapshots from Redis, starting cold")
		initial = nil
	}

	apiServer := api.NewServer(cfg, nil, logger)
	sink := &appSink{snapshots: snapshots, archive: archive, publish: apiServer.Publish, logger: logger}

	mgr := manager.New(manager.Config{QueueSize: cfg.Manager.QueueSize, IdleTimeout: cfg.Manager.IdleTimeout}, segmenter.ConfigFromApp(cfg.Segmenter), logger, sink, sink.onFatalError)
	if len(initial) > 0 {
		mgr.Restore(initial)
		logger.WithField("count", len(initial)).Info("restored segmenter state from Redis")
	}
	apiServer.SetManager(mgr)

	mqttClient, err := ingest.NewClient(cfg.MQTT, logger, mgr)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to initialize MQTT client")
	}
	defer mqttClient.Disconnect()
	if err := mqttClient.Connect(); err != nil {
		logger.WithField("error", err).Fatal("failed to connect to MQTT broker")
	}
	logger.Info("connected to MQTT broker")

	go func() {
		logger.WithField("address", cfg.Server.Address).Info("starting HTTP server")
		if err := apiServer.Start(); err != nil {
			logger.WithField("error", err).Error("HTTP server stopped")
		}
	}()

	go runSnapshotLoop(ctx, mgr, snapshots, cfg.Redis.SnapshotInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig).Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("manager shutdown error")
	}

	logger.Info("aissegment stopped gracefully")
}

// appSink wires a Manager's output into the long-running service: every
// tagged message is broadcast over WebSocket, and every retired segment is
// archived to MySQL. A shard's Redis snapshot is only deleted when the
// eviction is final (an operator-forced flush or a full shutdown) — an
// ordinary idle-timeout eviction leaves the last periodic checkpoint in
// place, since the same vessel resuming transmission shortly afterward is
// the common case, not the exception.
type appSink struct {
	snapshots *store.SnapshotStore
	archive   *store.Archive
	publish   func(segmenter.Tagged)
	logger    *utils.Logger
}

func (s *appSink) Accept(out segmenter.Tagged) {
	if s.publish != nil {
		s.publish(out)
	}
}

func (s *appSink) Retire(ssvid int64, flushed []manager.RetiredSegment, reason manager.EvictReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if reason != manager.EvictIdle {
		if err := s.snapshots.Delete(ctx, ssvid); err != nil {
			s.logger.WithField("error", err).Warn("failed to delete snapshot after eviction")
		}
	}

	if s.archive == nil || len(flushed) == 0 {
		return
	}
	rows := make([]store.RetiredSegment, 0, len(flushed))
	retiredAt := time.Now()
	for _, seg := range flushed {
		rows = append(rows, store.FromManagerSnapshot(ssvid, retiredAt, seg))
	}
	if err := s.archive.InsertBatch(ctx, rows); err != nil {
		s.logger.WithField("error", err).Warn("failed to archive retired segments")
	}
}

// runSnapshotLoop periodically checkpoints every live shard's Segmenter
// state to Redis, so a crash restores close to where the process left off
// instead of starting every vessel cold. It returns once ctx is canceled.
func runSnapshotLoop(ctx context.Context, mgr *manager.Manager, snapshots *store.SnapshotStore, interval time.Duration, logger *utils.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snaps := mgr.Snapshot()
			if len(snaps) == 0 {
				continue
			}
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := snapshots.SaveAll(saveCtx, snaps)
			cancel()
			if err != nil {
				logger.WithField("error", err).Warn("failed to save one or more snapshots")
			}
		case <-ctx.Done():
			return
		}
	}
}

// onFatalError logs a shard's fatal Process error; nothing downstream needs
// to react beyond that, since the manager has already torn the shard down.
func (s *appSink) onFatalError(ssvid int64, err error) {
	s.logger.WithField("ssvid", ssvid).WithField("error", err).Error("shard terminated with fatal error")
}
