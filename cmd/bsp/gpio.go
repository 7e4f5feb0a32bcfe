package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/gpio"
	"github.com/mklimuk/bsp/pkg/config"
)

var gpioCmd = cli.Command{
	Name:  "gpio",
	Usage: "MCP23017 GPIO expander",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "address",
			Usage: "expander address in hex; the configured one when empty",
		},
		&cli.StringFlag{
			Name:  "port",
			Usage: "port A or B",
			Value: "A",
		},
	},
	Subcommands: cli.Commands{
		&gpioStatusCmd,
		&gpioReadCmd,
		&gpioConfigureCmd,
		&gpioPullCmd,
		&gpioDirectionCmd,
	},
}

// withExpander opens the I2C bus and the expander alone; sensors are left out.
func withExpander(c *cli.Context, op func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return console.Exit(1, "could not load configuration: %s", console.Red(err))
	}
	exp := cfg.Expander
	exp.Enabled = true
	if a := c.String("address"); a != "" {
		addr, err := hexByte(a)
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		exp.Address = addr
	}
	var port gpio.Port
	switch c.String("port") {
	case "A", "a":
		port = gpio.PortA
	case "B", "b":
		port = gpio.PortB
	default:
		return console.Exit(1, "unknown port %s", c.String("port"))
	}
	only := &config.Board{I2C: cfg.I2C, Expander: exp}
	only.SetDefaults()
	b, closeBoard, err := openBoard(c.Context, only)
	if err != nil {
		return err
	}
	defer closeBoard()
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	return op(ctx, b.Expander, port)
}

func hexByte(s string) (byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("expected a single byte, got %d", len(b))
	}
	return b[0], nil
}

func byteArg(c *cli.Context) (byte, error) {
	if c.NArg() != 1 {
		return 0, console.Exit(1, "expected 1 argument, got %d", c.NArg())
	}
	v, err := hexByte(c.Args().Get(0))
	if err != nil {
		return 0, console.Exit(1, "could not decode data: %v", err)
	}
	return v, nil
}

var gpioReadCmd = cli.Command{
	Name:  "read",
	Usage: "read the levels of both ports",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, _ gpio.Port) error {
			levels, err := exp.Read(ctx)
			if err != nil {
				return console.Exit(1, "could not read gpio: %v", err)
			}
			console.Printf("I/O A: %#02X\nI/O B: %#02X\n", levels[0], levels[1])
			return nil
		})
	},
}

var gpioStatusCmd = cli.Command{
	Name:  "status",
	Usage: "read IOCON",
	Action: func(c *cli.Context) error {
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			data, err := exp.ReadSettings(ctx, port)
			if err != nil {
				return console.Exit(1, "could not read settings: %v", err)
			}
			console.Printf("IOCON content: %#02X\n", data)
			return nil
		})
	},
}

var gpioConfigureCmd = cli.Command{
	Name:      "configure",
	Usage:     "write IOCON",
	ArgsUsage: "<hex byte>",
	Action: func(c *cli.Context) error {
		data, err := byteArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.WriteSettings(ctx, port, data); err != nil {
				return console.Exit(1, "could not write settings: %v", err)
			}
			console.Printf("wrote IOCON content: %#02X\n", data)
			return nil
		})
	},
}

var gpioPullCmd = cli.Command{
	Name:      "pull",
	Usage:     "write the pull-up register of the port",
	ArgsUsage: "<hex byte>",
	Action: func(c *cli.Context) error {
		data, err := byteArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.SetPullUp(ctx, port, data); err != nil {
				return console.Exit(1, "could not write pull up settings: %v", err)
			}
			console.Printf("wrote GPPU%s content: %#02X\n", port, data)
			return nil
		})
	},
}

var gpioDirectionCmd = cli.Command{
	Name:      "direction",
	Usage:     "write the direction register of the port; set bits are inputs",
	ArgsUsage: "<hex byte>",
	Action: func(c *cli.Context) error {
		data, err := byteArg(c)
		if err != nil {
			return err
		}
		return withExpander(c, func(ctx context.Context, exp *gpio.MCP23017, port gpio.Port) error {
			if err := exp.SetDirection(ctx, port, data); err != nil {
				return console.Exit(1, "could not write direction: %v", err)
			}
			console.Printf("wrote IODIR%s content: %#02X\n", port, data)
			return nil
		})
	},
}
