// Package config describes a sensor board in YAML: which buses to open, which sensors
// sit where and how the supervisor and telemetry run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Build information, set by the dev tool at link time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var ErrInvalid = errors.New("config: invalid board configuration")

// I2C drivers
const (
	DriverHost    = "host"
	DriverMCP2221 = "mcp2221"
)

// SPI drivers
const (
	DriverPeriph = "periph"
	DriverGobot  = "gobot"
	DriverNone   = "none"
)

// Sensor buses
const (
	BusI2C = "i2c"
	BusSPI = "spi"
)

const (
	DefaultSPISpeed        = 1_000_000
	DefaultI2CRetryLimit   = 3
	DefaultPollInterval    = time.Millisecond
	DefaultExpanderAddress = 0x21
	DefaultInterval        = time.Second
	DefaultWindow          = 10
	DefaultRestoreDelay    = 100 * time.Millisecond
)

type I2C struct {
	Driver string `yaml:"driver"`
	// Bus is the periph bus name; empty opens the first one.
	Bus          string        `yaml:"bus,omitempty"`
	RetryLimit   int           `yaml:"retry_limit"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SPI struct {
	Driver string `yaml:"driver"`
	Port   string `yaml:"port,omitempty"`
	// Speed is the clock in Hz.
	Speed int64 `yaml:"speed"`
	// ChipSelects maps SPI owner names to chip select pins.
	ChipSelects map[string]string `yaml:"chip_selects,omitempty"`
}

type Expander struct {
	Enabled    bool  `yaml:"enabled"`
	Address    uint8 `yaml:"address"`
	Bank       uint8 `yaml:"bank"`
	RetryLimit int   `yaml:"retry_limit"`
}

// Pressure is a DPS368.
type Pressure struct {
	Name    string `yaml:"name"`
	Bus     string `yaml:"bus"`
	Owner   string `yaml:"owner"`
	Address uint8  `yaml:"address,omitempty"`
	// Extender is set for SPI sensors behind the LTC4332.
	Extender bool `yaml:"extender,omitempty"`
}

// Magnetic is a TLV493D.
type Magnetic struct {
	Name    string `yaml:"name"`
	Owner   string `yaml:"owner"`
	Address uint8  `yaml:"address"`
}

// Switch is a Hall switch. Pins are periph pin names, or "mcp23017:<port><n>" for
// expander lines (e.g. "mcp23017:B3").
type Switch struct {
	Name      string `yaml:"name"`
	Variant   string `yaml:"variant"`
	Pin       string `yaml:"pin"`
	Power     string `yaml:"power,omitempty"`
	Interrupt bool   `yaml:"interrupt,omitempty"`
}

// Speed is a TLx4966 speed and direction sensor.
type Speed struct {
	Name      string `yaml:"name"`
	SpeedPin  string `yaml:"speed_pin,omitempty"`
	DirPin    string `yaml:"dir_pin"`
	Power     string `yaml:"power,omitempty"`
	PolePairs uint8  `yaml:"pole_pairs"`
	// Unit is hz, rad/s or rpm.
	Unit string `yaml:"unit"`
	// Mode is polling, interrupt or timer.
	Mode string `yaml:"mode"`
}

type Supervisor struct {
	Interval time.Duration `yaml:"interval"`
	Window   int           `yaml:"window"`
	// RailPin switches the sensor supply, active high. Empty when the rail is not switched.
	RailPin      string        `yaml:"rail_pin,omitempty"`
	RestoreDelay time.Duration `yaml:"restore_delay"`
}

type MQTT struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id,omitempty"`
	Topic    string        `yaml:"topic,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

type Board struct {
	I2C        I2C        `yaml:"i2c"`
	SPI        SPI        `yaml:"spi"`
	Expander   Expander   `yaml:"expander"`
	Pressure   []Pressure `yaml:"pressure,omitempty"`
	Magnetic   []Magnetic `yaml:"magnetic,omitempty"`
	Switches   []Switch   `yaml:"switches,omitempty"`
	Speed      []Speed    `yaml:"speed,omitempty"`
	Supervisor Supervisor `yaml:"supervisor"`
	MQTT       MQTT       `yaml:"mqtt"`
}

// Default is the reference layout: three DPS368 behind the SPI extender, two DPS368 and
// a TLV493D on I2C, one Hall switch and one speed sensor.
func Default() *Board {
	b := &Board{
		I2C: I2C{Driver: DriverHost},
		SPI: SPI{Driver: DriverPeriph},
		Pressure: []Pressure{
			{Name: "dps368-1", Bus: BusSPI, Owner: "DPS368_1", Extender: true},
			{Name: "dps368-2", Bus: BusSPI, Owner: "DPS368_2", Extender: true},
			{Name: "dps368-3", Bus: BusSPI, Owner: "DPS368_3", Extender: true},
			{Name: "dps368-4", Bus: BusI2C, Owner: "DPS368_4", Address: 0x77},
			{Name: "dps368-5", Bus: BusI2C, Owner: "DPS368_5", Address: 0x76},
		},
		Magnetic: []Magnetic{
			{Name: "tlv493d", Owner: "TLV493D", Address: 0x5E},
		},
		Switches: []Switch{
			{Name: "tle4964", Variant: "TLE4964-3M", Pin: "GPIO17"},
		},
		Speed: []Speed{
			{Name: "tli4966g", SpeedPin: "GPIO27", DirPin: "GPIO22", PolePairs: 1, Unit: "hz", Mode: "polling"},
		},
	}
	b.SetDefaults()
	return b
}

func (b *Board) SetDefaults() {
	if b.I2C.Driver == "" {
		b.I2C.Driver = DriverHost
	}
	if b.I2C.RetryLimit == 0 {
		b.I2C.RetryLimit = DefaultI2CRetryLimit
	}
	if b.I2C.PollInterval == 0 {
		b.I2C.PollInterval = DefaultPollInterval
	}
	if b.SPI.Driver == "" {
		b.SPI.Driver = DriverNone
	}
	if b.SPI.Speed == 0 {
		b.SPI.Speed = DefaultSPISpeed
	}
	if b.Expander.Address == 0 {
		b.Expander.Address = DefaultExpanderAddress
	}
	if b.Expander.RetryLimit == 0 {
		b.Expander.RetryLimit = 1
	}
	for i := range b.Speed {
		if b.Speed[i].Unit == "" {
			b.Speed[i].Unit = "hz"
		}
		if b.Speed[i].Mode == "" {
			b.Speed[i].Mode = "polling"
		}
	}
	if b.Supervisor.Interval == 0 {
		b.Supervisor.Interval = DefaultInterval
	}
	if b.Supervisor.Window == 0 {
		b.Supervisor.Window = DefaultWindow
	}
	if b.Supervisor.RestoreDelay == 0 {
		b.Supervisor.RestoreDelay = DefaultRestoreDelay
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the structure of the configuration. Owner and pin names are resolved
// when the board is built.
func (b *Board) Validate() error {
	switch b.I2C.Driver {
	case DriverHost, DriverMCP2221:
	default:
		return invalid("unknown i2c driver %q", b.I2C.Driver)
	}
	switch b.SPI.Driver {
	case DriverPeriph, DriverGobot, DriverNone:
	default:
		return invalid("unknown spi driver %q", b.SPI.Driver)
	}
	if b.Expander.Bank > 1 {
		return invalid("expander bank must be 0 or 1")
	}
	names := map[string]bool{}
	unique := func(name string) error {
		if name == "" {
			return invalid("sensor without a name")
		}
		if names[name] {
			return invalid("duplicate sensor name %q", name)
		}
		names[name] = true
		return nil
	}
	for _, p := range b.Pressure {
		if err := unique(p.Name); err != nil {
			return err
		}
		switch p.Bus {
		case BusI2C:
			if p.Address == 0 {
				return invalid("%s: i2c address missing", p.Name)
			}
		case BusSPI:
			if b.SPI.Driver == DriverNone {
				return invalid("%s: spi sensor without an spi driver", p.Name)
			}
		default:
			return invalid("%s: unknown bus %q", p.Name, p.Bus)
		}
	}
	for _, m := range b.Magnetic {
		if err := unique(m.Name); err != nil {
			return err
		}
		if m.Address == 0 {
			return invalid("%s: i2c address missing", m.Name)
		}
	}
	for _, s := range b.Switches {
		if err := unique(s.Name); err != nil {
			return err
		}
		if s.Pin == "" {
			return invalid("%s: pin missing", s.Name)
		}
	}
	for _, s := range b.Speed {
		if err := unique(s.Name); err != nil {
			return err
		}
		if s.DirPin == "" {
			return invalid("%s: direction pin missing", s.Name)
		}
		if s.PolePairs == 0 {
			return invalid("%s: pole pairs must be positive", s.Name)
		}
		switch s.Mode {
		case "polling", "interrupt":
			if s.SpeedPin == "" {
				return invalid("%s: speed pin missing", s.Name)
			}
		case "timer":
		default:
			return invalid("%s: unknown mode %q", s.Name, s.Mode)
		}
		switch s.Unit {
		case "hz", "rad/s", "rpm":
		default:
			return invalid("%s: unknown unit %q", s.Name, s.Unit)
		}
	}
	if b.Supervisor.Window < 0 || b.Supervisor.Interval < 0 {
		return invalid("supervisor interval and window must be positive")
	}
	if b.MQTT.Enabled && b.MQTT.Broker == "" {
		return invalid("mqtt broker missing")
	}
	return nil
}

// Parse decodes a configuration, fills in defaults and validates it. Unknown keys are
// rejected.
func Parse(data []byte) (*Board, error) {
	var b Board
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not decode board configuration: %w", err)
	}
	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read board configuration: %w", err)
	}
	return Parse(data)
}

// Save writes b to path as YAML.
func Save(path string, b *Board) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("could not encode board configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write board configuration: %w", err)
	}
	return nil
}
