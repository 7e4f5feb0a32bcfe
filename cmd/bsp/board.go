package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/board"
	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/pkg/config"
)

var sensorFlag = &cli.StringSliceFlag{
	Name:    "sensor",
	Aliases: []string{"s"},
	Usage:   "sensor names; all configured sensors when empty",
}

var countFlag = &cli.IntFlag{
	Name:    "count",
	Aliases: []string{"n"},
	Usage:   "number of readings",
	Value:   1,
}

var intervalFlag = &cli.DurationFlag{
	Name:  "interval",
	Usage: "time between readings",
	Value: time.Second,
}

// loadConfig reads the configured board file, or falls back to the reference layout
// when there is none.
func loadConfig(c *cli.Context) (*config.Board, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no board configuration, using reference layout", "path", path)
		return config.Default(), nil
	}
	return cfg, err
}

// openBoard builds and starts the board. The returned cleanup closes it.
func openBoard(ctx context.Context, cfg *config.Board) (*board.Board, func(), error) {
	b, err := board.New(cfg)
	if err != nil {
		return nil, nil, console.Exit(1, "could not build board: %s", console.Red(err))
	}
	if err := b.Start(ctx); err != nil {
		_ = b.Close()
		return nil, nil, console.Exit(1, "could not start board: %s", console.Red(err))
	}
	return b, func() {
		if err := b.Close(); err != nil {
			slog.Warn("could not close board", "error", err)
		}
	}, nil
}

// selected tells whether name was picked with the sensor flag.
func selected(c *cli.Context, name string) bool {
	names := c.StringSlice("sensor")
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// repeat runs read count times, interval apart.
func repeat(ctx context.Context, c *cli.Context, read func(ctx context.Context) error) error {
	for i := 0; i < c.Int("count"); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Duration("interval")):
			}
		}
		if err := read(ctx); err != nil {
			return err
		}
	}
	return nil
}
