package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ourair/sensorlog/internal/clock"
	"github.com/ourair/sensorlog/internal/config"
	"github.com/ourair/sensorlog/internal/flashdev"
	"github.com/ourair/sensorlog/internal/node"
	"github.com/ourair/sensorlog/internal/poster"
	"github.com/ourair/sensorlog/internal/producer"
	"github.com/ourair/sensorlog/internal/statusapi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node: start the RAM ring, flash ring, poster, and producers",
	RunE:  runNode,
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("config_path", configPath))

	dev, err := flashdev.OpenFile(cfg.Flash.DevicePath, cfg.Flash.SectorSize, cfg.Flash.NumSectors)
	if err != nil {
		return fmt.Errorf("opening flash device: %w", err)
	}
	defer dev.Close()

	clk := clock.NewRTC32()

	nodeCfg := node.Config{
		RAMBuffers:       cfg.RAM.Buffers,
		RAMBufferSize:    cfg.RAM.BufferSize,
		RAMHoldoff:       uint32(cfg.HoldoffDuration().Microseconds()),
		FlashDevice:      dev,
		FlashFirstSector: cfg.Flash.FirstSector,
		FlashNumSectors:  cfg.Flash.NumSectors,
		FlushInterval:    cfg.FlushInterval(),
		Producers:        buildProducers(cfg, logger),
	}

	if cfg.Poster != nil {
		nodeCfg.Poster = &poster.Config{
			SensorID:    cfg.Poster.SensorID,
			Key:         cfg.Poster.KeyBytes(),
			Host:        cfg.Poster.WebServer,
			Port:        strconv.Itoa(cfg.Poster.WebPort),
			Path:        cfg.Poster.WebPath,
			BlockSize:   cfg.Flash.SectorSize,
			DialTimeout: cfg.DialTimeout(),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(ctx, nodeCfg, clk, logger)
	if err != nil {
		return fmt.Errorf("assembling node: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	statusServer := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      statusapi.NewRouter(n, n.Flash()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status API listening", slog.String("addr", cfg.StatusAddr))
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status API server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	if err := n.Stop(); err != nil {
		logger.Warn("node stop returned error", slog.Any("error", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status API shutdown error", slog.Any("error", err))
	}

	logger.Info("sensorlogd exited cleanly")
	return nil
}

func buildProducers(cfg *config.Config, logger *slog.Logger) []producer.Source {
	var srcs []producer.Source
	for _, p := range cfg.Producers {
		switch p.Type {
		case "synthetic":
			srcs = append(srcs, producer.NewSynthetic(producer.SyntheticConfig{
				Code:     p.Code,
				Interval: time.Duration(p.IntervalMS) * time.Millisecond,
			}, logger))
		default:
			logger.Warn("unrecognized producer type, skipping", slog.String("name", p.Name), slog.String("type", p.Type))
		}
	}
	return srcs
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
