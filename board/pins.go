package board

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/bsp/gpio"
	"github.com/mklimuk/bsp/hall"
)

const expanderPrefix = "mcp23017:"

// Pin is a line usable both as a sensor input and as a supply or chip select output.
type Pin interface {
	hall.Input
	hall.Output
}

// PinResolver maps a host pin name to a pin.
type PinResolver func(name string) (Pin, error)

// HostPin looks the pin up in the periph registry after loading the host drivers.
func HostPin(name string) (Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	return p, nil
}

// parseExpanderPin parses the "<port><n>" part of an expander pin name, e.g. "B3".
func parseExpanderPin(s string) (gpio.Port, uint8, error) {
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", gpio.ErrPin, s)
	}
	var port gpio.Port
	switch s[0] {
	case 'A', 'a':
		port = gpio.PortA
	case 'B', 'b':
		port = gpio.PortB
	default:
		return 0, 0, fmt.Errorf("%w: unknown port in %q", gpio.ErrPin, s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", gpio.ErrPin, s)
	}
	return port, uint8(n), nil
}

// Pin resolves a configured pin name: an expander line ("mcp23017:B3") or a host pin.
func (b *Board) Pin(name string) (Pin, error) {
	rest, ok := strings.CutPrefix(name, expanderPrefix)
	if !ok {
		return b.resolve(name)
	}
	if b.Expander == nil {
		return nil, fmt.Errorf("pin %s needs the gpio expander enabled", name)
	}
	port, n, err := parseExpanderPin(rest)
	if err != nil {
		return nil, err
	}
	pin, err := b.Expander.Pin(port, n)
	if err != nil {
		return nil, err
	}
	return pin, nil
}
