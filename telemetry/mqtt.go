package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/mklimuk/bsp/supervisor"
)

const (
	DefaultTopic       = "sensors"
	DefaultClientID    = "bsp"
	DefaultMQTTTimeout = 5 * time.Second
	decoderBufferSize  = 4096
)

var ErrNotConnected = errors.New("telemetry: mqtt client not connected")

type MQTTConfig struct {
	// Broker is the host:port of the MQTT server.
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c *MQTTConfig) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultMQTTTimeout
	}
}

// mqttClient is the part of the natiu-mqtt client the publisher drives.
type mqttClient interface {
	StartConnect(rwc io.ReadWriteCloser, vc *mqtt.VariablesConnect) error
	IsConnected() bool
	HandleNext() error
	Err() error
	PublishPayload(flags mqtt.PacketFlags, vp mqtt.VariablesPublish, payload []byte) error
	Disconnect(userErr error) error
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type MQTTOption func(*MQTTPublisher)

// WithDialer replaces the TCP dialer, e.g. for TLS or a proxy.
func WithDialer(d DialFunc) MQTTOption {
	return func(p *MQTTPublisher) {
		p.dial = d
	}
}

func WithMQTTLogger(l *slog.Logger) MQTTOption {
	return func(p *MQTTPublisher) {
		p.log = l
	}
}

var (
	_ Publisher  = &MQTTPublisher{}
	_ mqttClient = &mqtt.Client{}
)

// MQTTPublisher publishes report documents at QoS 0. It connects lazily and reconnects
// on the next Publish after a failure.
type MQTTPublisher struct {
	cfg       MQTTConfig
	dial      DialFunc
	newClient func() mqttClient
	log       *slog.Logger

	mu       sync.Mutex
	client   mqttClient
	conn     net.Conn
	packetID uint16
}

func NewMQTTPublisher(cfg MQTTConfig, opts ...MQTTOption) *MQTTPublisher {
	cfg.SetDefaults()
	p := &MQTTPublisher{
		cfg:  cfg,
		dial: (&net.Dialer{}).DialContext,
		log:  slog.Default(),
	}
	p.newClient = p.defaultClient
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MQTTPublisher) defaultClient() mqttClient {
	return mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, decoderBufferSize)},
		OnPub: func(head mqtt.Header, vp mqtt.VariablesPublish, r io.Reader) error {
			p.log.Debug("unexpected message", "topic", string(vp.TopicName))
			return nil
		},
	})
}

func (p *MQTTPublisher) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(p.cfg.Timeout)
}

// Connect dials the broker and completes the MQTT handshake.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connect(ctx)
}

func (p *MQTTPublisher) connect(ctx context.Context) error {
	p.reset()
	conn, err := p.dial(ctx, "tcp", p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("could not dial mqtt broker %s: %w", p.cfg.Broker, err)
	}
	if err := conn.SetDeadline(p.deadline(ctx)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("could not set connection deadline: %w", err)
	}
	client := p.newClient()
	var vc mqtt.VariablesConnect
	vc.SetDefaultMQTT([]byte(p.cfg.ClientID))
	if err := client.StartConnect(conn, &vc); err != nil {
		_ = conn.Close()
		return fmt.Errorf("could not start mqtt connect: %w", err)
	}
	for !client.IsConnected() {
		if err := client.HandleNext(); err != nil {
			_ = conn.Close()
			return fmt.Errorf("mqtt connect failed: %w", err)
		}
		if err := ctx.Err(); err != nil {
			_ = conn.Close()
			return err
		}
	}
	_ = conn.SetDeadline(time.Time{})
	p.client, p.conn = client, conn
	p.log.Info("connected to mqtt broker", "broker", p.cfg.Broker, "client", p.cfg.ClientID)
	return nil
}

func (p *MQTTPublisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.client, p.conn = nil, nil
}

// Publish encodes reports and publishes them on the configured topic.
func (p *MQTTPublisher) Publish(ctx context.Context, reports []supervisor.Report) error {
	payload, err := Encode(reports)
	if err != nil {
		return fmt.Errorf("could not encode reports: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.client.IsConnected() {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	p.packetID++
	if p.packetID == 0 {
		p.packetID = 1
	}
	vp := mqtt.VariablesPublish{
		TopicName:        []byte(p.cfg.Topic),
		PacketIdentifier: p.packetID,
	}
	_ = p.conn.SetWriteDeadline(p.deadline(ctx))
	if err := p.client.PublishPayload(flags, vp, payload); err != nil {
		cause := p.client.Err()
		p.reset()
		if cause != nil {
			return fmt.Errorf("could not publish reports: %w (%v)", err, cause)
		}
		return fmt.Errorf("could not publish reports: %w", err)
	}
	p.log.Debug("reports published", "topic", p.cfg.Topic, "packet", p.packetID, "bytes", len(payload))
	return nil
}

func (p *MQTTPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Disconnect(nil)
	p.reset()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}
