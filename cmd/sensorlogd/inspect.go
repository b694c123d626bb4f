package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ourair/sensorlog/internal/codec"
	"github.com/ourair/sensorlog/internal/config"
	"github.com/ourair/sensorlog/internal/flashdev"
	"github.com/ourair/sensorlog/internal/flashring"
	"github.com/ourair/sensorlog/internal/ramring"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Recover the flash ring's write cursor and dump decoded events",
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	dev, err := flashdev.OpenFile(cfg.Flash.DevicePath, cfg.Flash.SectorSize, cfg.Flash.NumSectors)
	if err != nil {
		return fmt.Errorf("opening flash device: %w", err)
	}
	defer dev.Close()

	ring := flashring.NewRing(dev, cfg.Flash.FirstSector, cfg.Flash.NumSectors)
	nextIndex, err := ring.Recover(context.Background())
	if err != nil {
		return fmt.Errorf("recovering flash ring: %w", err)
	}
	fmt.Printf("next block index: %d\n", nextIndex)

	buf := make([]byte, cfg.Flash.SectorSize)
	for sector := cfg.Flash.FirstSector; sector < cfg.Flash.FirstSector+cfg.Flash.NumSectors; sector++ {
		if err := dev.ReadAt(buf, int64(sector)*int64(cfg.Flash.SectorSize)); err != nil {
			fmt.Printf("sector %d: read error: %v\n", sector, err)
			continue
		}
		events, derr := codec.DecodeStream(buf[ramring.IndexHeaderSize:])
		if derr != nil && len(events) == 0 {
			continue
		}
		fmt.Printf("sector %d: %d event(s)\n", sector, len(events))
		for _, e := range events {
			fmt.Printf("  code=%d time=%d len(payload)=%d\n", e.Code, e.Time, len(e.Payload))
		}
	}
	return nil
}
