package cloudsink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

var (
	ErrQueueFull  = errors.New("cloudsink: publish queue full")
	ErrNoBroker   = errors.New("cloudsink: broker url is required")
	ErrSinkClosed = errors.New("cloudsink: sink closed")
)

const sinkNameMQTT = "mqtt"

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic receives completed cycles; StatusTopic receives retained
	// system_status updates when set.
	Topic       string
	StatusTopic string
	Format      Format

	QueueSize      int
	PublishTimeout time.Duration

	// ConnectBackoff is the first retry delay of the initial connect; it
	// doubles per failure up to MaxConnectBackoff.
	ConnectBackoff    time.Duration
	MaxConnectBackoff time.Duration
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = "checkpoint"
	}
	if c.Topic == "" {
		c.Topic = "checkpoint/attendance"
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = time.Second
	}
	if c.MaxConnectBackoff <= 0 {
		c.MaxConnectBackoff = 30 * time.Second
	}
	if c.MaxConnectBackoff < c.ConnectBackoff {
		c.MaxConnectBackoff = c.ConnectBackoff
	}
	return c
}

// mqttClient is the subset of mqtt.Client the sink uses.
type mqttClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTTSink publishes records from a bounded queue so LogAttendance never
// waits on the network. Publishing happens in Run.
type MQTTSink struct {
	client  mqttClient
	cfg     MQTTConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
	queue   chan outbound
	closed  chan struct{}
	once    sync.Once
}

func NewMQTTSink(cfg MQTTConfig, logger *logging.Logger, m *metrics.Metrics) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if logger == nil {
		logger = logging.Discard()
	}
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("cloudsink: mqtt connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Infof("cloudsink: mqtt connected to %s", cfg.Broker)
	})

	return newMQTTSink(mqtt.NewClient(opts), cfg, logger, m), nil
}

func newMQTTSink(client mqttClient, cfg MQTTConfig, logger *logging.Logger, m *metrics.Metrics) *MQTTSink {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg = cfg.withDefaults()
	return &MQTTSink{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan outbound, cfg.QueueSize),
		closed:  make(chan struct{}),
	}
}

// Connect dials the broker until it succeeds or ctx ends, backing off
// 1s, 2s, 4s, ... up to MaxConnectBackoff. paho only auto-reconnects after
// a first successful connect, so a broker that is down at boot is retried
// here for as long as the process runs.
func (s *MQTTSink) Connect(ctx context.Context) error {
	if s.client.IsConnected() {
		return nil
	}
	backoff := s.cfg.ConnectBackoff
	for attempt := 1; ; attempt++ {
		token := s.client.Connect()
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			if attempt > 1 {
				s.logger.Infof("cloudsink: mqtt connected after %d attempts", attempt)
			}
			return nil
		}
		err := token.Error()
		if err == nil {
			err = errors.New("connect timed out")
		}
		s.logger.Warnf("cloudsink: mqtt connect attempt %d failed: %v, retrying in %v", attempt, err, backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("MQTTSink.Connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.cfg.MaxConnectBackoff)
	}
}

func (s *MQTTSink) LogAttendance(_ context.Context, rec types.AttendanceRecord) error {
	payload, err := EncodeRecord(rec, s.cfg.Format)
	if err != nil {
		return err
	}
	return s.enqueue(outbound{topic: s.cfg.Topic, payload: payload})
}

// PublishStatus queues a retained status update. It is a no-op without a
// status topic.
func (s *MQTTSink) PublishStatus(active bool, at time.Time) error {
	if s.cfg.StatusTopic == "" {
		return nil
	}
	payload, err := EncodeStatus(active, at, s.cfg.Format)
	if err != nil {
		return err
	}
	return s.enqueue(outbound{topic: s.cfg.StatusTopic, retained: true, payload: payload})
}

func (s *MQTTSink) enqueue(o outbound) error {
	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}
	select {
	case s.queue <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run publishes queued messages until ctx ends or Close is called.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case o := <-s.queue:
			if err := s.publish(o); err != nil {
				s.logger.Warnf("cloudsink: %v", err)
				s.metrics.SinkFailure(sinkNameMQTT)
			}
		}
	}
}

func (s *MQTTSink) publish(o outbound) error {
	token := s.client.Publish(o.topic, 1, o.retained, o.payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out after %v", o.topic, s.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", o.topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.client.Disconnect(250)
	})
}
