package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/telemetry"
)

// stdout keeps the console writer open when the publishers are closed.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) {
	return console.Output().Write(p)
}

var monitorCmd = cli.Command{
	Name:  "monitor",
	Usage: "supervise all sensors and publish window statistics",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "print",
			Usage: "print reports as JSON lines",
			Value: true,
		},
		&cli.IntFlag{
			Name:  "window",
			Usage: "samples per report; overrides the configuration",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "sampling interval; overrides the configuration",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load configuration: %s", console.Red(err))
		}
		if c.IsSet("window") {
			cfg.Supervisor.Window = c.Int("window")
		}
		if c.IsSet("interval") {
			cfg.Supervisor.Interval = c.Duration("interval")
		}
		var pub telemetry.Multi
		if c.Bool("print") {
			pub = append(pub, telemetry.NewWriterPublisher(stdout{}))
		}
		if cfg.MQTT.Enabled {
			pub = append(pub, telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
				Broker:   cfg.MQTT.Broker,
				ClientID: cfg.MQTT.ClientID,
				Topic:    cfg.MQTT.Topic,
				Timeout:  cfg.MQTT.Timeout,
			}))
		}
		if len(pub) == 0 {
			console.Warn("reports are neither printed nor published")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				console.Warnf("could not close publishers: %s", err)
			}
		}()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		b, closeBoard, err := openBoard(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeBoard()

		console.Infof("monitoring %d sensors every %s, %d samples per report",
			len(b.Supervisor.Entries()), cfg.Supervisor.Interval, cfg.Supervisor.Window)
		err = b.Monitor(ctx, telemetry.Sink(pub))
		if errors.Is(err, context.Canceled) {
			console.PInfof(console.PictoFinish, "monitor stopped")
			return nil
		}
		if err != nil {
			return console.Exit(1, "monitor failed: %s", console.Red(err))
		}
		return nil
	},
}
