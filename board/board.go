// Package board assembles the reference sensor board from its configuration: bus
// transports, bus muxes with their channels, the GPIO expander, the sensors and the
// supervisor sampling them.
package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	gobotspi "gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	periphgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/adapter"
	"github.com/mklimuk/bsp/devbus"
	"github.com/mklimuk/bsp/gpio"
	"github.com/mklimuk/bsp/hall"
	"github.com/mklimuk/bsp/i2c"
	"github.com/mklimuk/bsp/magnetic"
	"github.com/mklimuk/bsp/mux"
	"github.com/mklimuk/bsp/pkg/config"
	"github.com/mklimuk/bsp/pressure"
	"github.com/mklimuk/bsp/spi"
	"github.com/mklimuk/bsp/supervisor"
)

type Option func(*Board)

// WithI2CBus uses bus instead of opening the configured I2C driver.
func WithI2CBus(bus bsp.I2CBus) Option {
	return func(b *Board) {
		b.i2cBus = bus
	}
}

// WithSPIConn uses conn instead of opening the configured SPI driver.
func WithSPIConn(conn bsp.SPIConn) Option {
	return func(b *Board) {
		b.spiConn = conn
	}
}

// WithPinResolver replaces the host pin lookup. Expander pins are always resolved by
// the board.
func WithPinResolver(r PinResolver) Option {
	return func(b *Board) {
		b.resolve = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Board) {
		b.log = l
	}
}

// Board is the assembled board. Components not present in the configuration are nil.
type Board struct {
	cfg     *config.Board
	log     *slog.Logger
	resolve PinResolver
	i2cBus  bsp.I2CBus
	spiConn bsp.SPIConn
	closers []io.Closer

	I2C        *i2c.Controller
	SPI        *spi.Bus
	Expander   *gpio.MCP23017
	Pressure   map[string]*pressure.DPS368
	Magnetic   map[string]*magnetic.TLV493D
	Switches   map[string]*hall.Switch
	Speed      map[string]*hall.Speed
	Supervisor *supervisor.Supervisor

	rail   hall.Output
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the board described by cfg. Transports are opened here; nothing is sent to
// the sensors until the supervisor initialises them.
func New(cfg *config.Board, opts ...Option) (*Board, error) {
	b := &Board{
		cfg:      cfg,
		log:      slog.Default(),
		resolve:  HostPin,
		Pressure: map[string]*pressure.DPS368{},
		Magnetic: map[string]*magnetic.TLV493D{},
		Switches: map[string]*hall.Switch{},
		Speed:    map[string]*hall.Speed{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	err := b.build()
	if err != nil {
		_ = b.closeTransports()
		return nil, err
	}
	return b, nil
}

func (b *Board) build() error {
	if err := b.buildI2C(); err != nil {
		return err
	}
	if err := b.buildSPI(); err != nil {
		return err
	}
	if b.cfg.Expander.Enabled {
		if err := b.I2C.Mux().Register(I2CExpander, mux.Callbacks{}); err != nil {
			return err
		}
		dev := devbus.NewI2CDevice(b.I2C, b.cfg.Expander.Address, I2CExpander)
		b.Expander = gpio.NewMCP23017(dev,
			gpio.WithBank(gpio.Bank(b.cfg.Expander.Bank)),
			gpio.WithRetryLimit(b.cfg.Expander.RetryLimit))
	}
	if err := b.buildChipSelects(); err != nil {
		return err
	}
	if b.cfg.Supervisor.RailPin != "" {
		rail, err := b.Pin(b.cfg.Supervisor.RailPin)
		if err != nil {
			return fmt.Errorf("sensor rail: %w", err)
		}
		b.rail = rail
	}
	b.Supervisor = supervisor.New(supervisor.WithRestore(b.Restore), supervisor.WithLogger(b.log))
	if err := b.buildPressure(); err != nil {
		return err
	}
	if err := b.buildMagnetic(); err != nil {
		return err
	}
	if err := b.buildSwitches(); err != nil {
		return err
	}
	return b.buildSpeed()
}

func (b *Board) buildI2C() error {
	if b.i2cBus == nil {
		switch b.cfg.I2C.Driver {
		case config.DriverMCP2221:
			b.i2cBus = adapter.NewMCP2221()
		default:
			bus, err := i2c.NewHostBus(b.cfg.I2C.Bus)
			if err != nil {
				return err
			}
			b.closers = append(b.closers, bus)
			b.i2cBus = bus
		}
	}
	m := mux.New(int(i2cOwners),
		mux.WithName("i2c"),
		mux.WithNonBlocking(I2COptiga),
		mux.WithPollInterval(b.cfg.I2C.PollInterval),
		mux.WithLogger(b.log))
	b.I2C = i2c.NewController(b.i2cBus, m, i2c.WithRetryLimit(b.cfg.I2C.RetryLimit))
	return nil
}

func (b *Board) buildSPI() error {
	if b.spiConn == nil {
		switch b.cfg.SPI.Driver {
		case config.DriverNone:
			return nil
		case config.DriverGobot:
			opts := []func(gobotspi.Config){gobotspi.WithSpeed(b.cfg.SPI.Speed)}
			if b.cfg.SPI.Port != "" {
				n, err := strconv.Atoi(b.cfg.SPI.Port)
				if err != nil {
					return fmt.Errorf("gobot spi port must be a bus number: %w", err)
				}
				opts = append(opts, gobotspi.WithBusNumber(n))
			}
			conn, err := spi.NewGobotConn(nanopi.NewNeoAdaptor(), opts...)
			if err != nil {
				return err
			}
			b.closers = append(b.closers, conn)
			b.spiConn = conn
		default:
			port, err := spi.OpenPeriphPort(b.cfg.SPI.Port, physic.Frequency(b.cfg.SPI.Speed)*physic.Hertz)
			if err != nil {
				return err
			}
			b.closers = append(b.closers, port)
			b.spiConn = port
		}
	}
	m := mux.New(int(spiOwners), mux.WithName("spi"), mux.WithReentrant(), mux.WithLogger(b.log))
	b.SPI = spi.NewBus(b.spiConn, m)
	return nil
}

func (b *Board) buildChipSelects() error {
	for name, pin := range b.cfg.SPI.ChipSelects {
		if b.SPI == nil {
			return fmt.Errorf("chip select %s without an spi bus", name)
		}
		owner, err := SPIOwner(name)
		if err != nil {
			return err
		}
		p, err := b.Pin(pin)
		if err != nil {
			return fmt.Errorf("chip select %s: %w", name, err)
		}
		b.SPI.SetChipSelect(owner, p)
	}
	return nil
}

func (b *Board) register(m *mux.Mux, owner mux.Owner, name string) error {
	if m.Registered(owner) {
		return fmt.Errorf("%s: owner already used on %s", name, m.Name())
	}
	return m.Register(owner, mux.Callbacks{
		Nack: func() {
			b.log.Debug("sensor did not acknowledge", "sensor", name)
		},
		ArbitrationLost: func() {
			b.log.Warn("bus arbitration lost", "sensor", name, "bus", m.Name())
		},
	})
}

func (b *Board) buildPressure() error {
	for _, p := range b.cfg.Pressure {
		var d *pressure.DPS368
		switch p.Bus {
		case config.BusSPI:
			owner, err := SPIOwner(p.Owner)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			if err := b.register(b.SPI.Mux(), owner, p.Name); err != nil {
				return err
			}
			var opts []devbus.Option
			if p.Extender {
				opts = append(opts, devbus.WithExtender())
			}
			d = pressure.NewSPI(b.SPI, owner, opts...)
		default:
			owner, err := I2COwner(p.Owner)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			if err := b.register(b.I2C.Mux(), owner, p.Name); err != nil {
				return err
			}
			d = pressure.NewI2C(b.I2C, p.Address, owner)
		}
		b.Pressure[p.Name] = d
		if err := b.Supervisor.Add(p.Name, &PressureSensor{Sensor: d}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) buildMagnetic() error {
	for _, m := range b.cfg.Magnetic {
		owner, err := I2COwner(m.Owner)
		if err != nil {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
		if err := b.register(b.I2C.Mux(), owner, m.Name); err != nil {
			return err
		}
		s := magnetic.NewI2C(b.I2C, m.Address, owner)
		b.Magnetic[m.Name] = s
		if err := b.Supervisor.Add(m.Name, &MagneticSensor{Sensor: s}); err != nil {
			return err
		}
	}
	return nil
}

func parseVariant(name string) (hall.Variant, error) {
	if name == "" {
		return hall.TLE4964_3M, nil
	}
	for v := hall.TLE4964_3M; v <= hall.TLE4961_1K; v++ {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown switch variant %q", hall.ErrConfig, name)
}

func (b *Board) buildSwitches() error {
	for _, s := range b.cfg.Switches {
		variant, err := parseVariant(s.Variant)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		in, err := b.Pin(s.Pin)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		opts := []hall.SwitchOption{hall.WithVariant(variant)}
		if s.Power != "" {
			power, err := b.Pin(s.Power)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			opts = append(opts, hall.WithSwitchPower(power))
		}
		if s.Interrupt {
			name := s.Name
			opts = append(opts, hall.WithInterrupt(func(f hall.Field) {
				b.log.Debug("hall switch changed", "sensor", name, "field", f)
			}))
		}
		sw := hall.NewSwitch(in, opts...)
		b.Switches[s.Name] = sw
		if err := b.Supervisor.Add(s.Name, &SwitchSensor{Sensor: sw}); err != nil {
			return err
		}
	}
	return nil
}

var units = map[string]hall.Unit{
	"hz":    hall.Hertz,
	"rad/s": hall.RadiansPerSecond,
	"rpm":   hall.RPM,
}

var measModes = map[string]hall.MeasMode{
	"polling":   hall.Polling,
	"interrupt": hall.Interrupt,
	"timer":     hall.Timer,
}

func (b *Board) buildSpeed() error {
	for _, s := range b.cfg.Speed {
		cfg := hall.SpeedConfig{
			PolePairs: s.PolePairs,
			Unit:      units[s.Unit],
			MeasMode:  measModes[s.Mode],
		}
		var speedPin hall.Input
		if s.SpeedPin != "" {
			p, err := b.Pin(s.SpeedPin)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			speedPin = p
		}
		dirPin, err := b.Pin(s.DirPin)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		if s.Power != "" {
			power, err := b.Pin(s.Power)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
			cfg.Power = power
		}
		sp := hall.NewSpeed(speedPin, dirPin, &hall.Stopwatch{}, cfg)
		b.Speed[s.Name] = sp
		if err := b.Supervisor.Add(s.Name, &SpeedSensor{Sensor: sp}); err != nil {
			return err
		}
	}
	return nil
}

// Restore power-cycles the sensor rail. Boards without a switched rail have nothing to
// restore.
func (b *Board) Restore(ctx context.Context) error {
	if b.rail == nil {
		return nil
	}
	b.log.Info("power cycling sensor rail")
	if err := b.rail.Out(periphgpio.Low); err != nil {
		return fmt.Errorf("could not switch sensor rail off: %w", err)
	}
	if err := bsp.Sleep(ctx, b.cfg.Supervisor.RestoreDelay); err != nil {
		return err
	}
	if err := b.rail.Out(periphgpio.High); err != nil {
		return fmt.Errorf("could not switch sensor rail on: %w", err)
	}
	return bsp.Sleep(ctx, b.cfg.Supervisor.RestoreDelay)
}

// Start runs the event dispatchers of both buses, deselects every SPI device and powers
// the sensor rail. The dispatchers stop on Close or when ctx is done.
func (b *Board) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	muxes := []*mux.Mux{b.I2C.Mux()}
	if b.SPI != nil {
		muxes = append(muxes, b.SPI.Mux())
	}
	for _, m := range muxes {
		b.wg.Add(1)
		go func(m *mux.Mux) {
			defer b.wg.Done()
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Error("bus dispatcher stopped", "bus", m.Name(), "error", err)
			}
		}(m)
	}
	if b.Expander != nil {
		if err := b.Expander.Init(ctx); err != nil {
			return err
		}
	}
	for name, pin := range b.cfg.SPI.ChipSelects {
		p, err := b.Pin(pin)
		if err != nil {
			return err
		}
		if err := p.Out(periphgpio.High); err != nil {
			return fmt.Errorf("could not deselect %s: %w", name, err)
		}
	}
	if b.rail != nil {
		if err := b.rail.Out(periphgpio.High); err != nil {
			return fmt.Errorf("could not switch sensor rail on: %w", err)
		}
	}
	return nil
}

// Monitor runs the supervisor with the configured interval and window until ctx is done.
func (b *Board) Monitor(ctx context.Context, sink supervisor.Sink) error {
	return b.Supervisor.Run(ctx, b.cfg.Supervisor.Interval, b.cfg.Supervisor.Window, sink)
}

// Close stops the dispatchers, switches the Hall sensors off and closes the transports.
func (b *Board) Close() error {
	for name, s := range b.Switches {
		if s.Status() == hall.PowerOn {
			if err := s.Close(); err != nil {
				b.log.Warn("could not disable hall switch", "sensor", name, "error", err)
			}
		}
	}
	for name, s := range b.Speed {
		if s.Status() == hall.SpeedOn {
			if err := s.Disable(); err != nil {
				b.log.Warn("could not disable speed sensor", "sensor", name, "error", err)
			}
		}
	}
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	return b.closeTransports()
}

func (b *Board) closeTransports() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}
