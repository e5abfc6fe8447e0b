package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/events"
)

// TopicRoot prefixes every topic this package publishes.
const TopicRoot = "morpheum"

// conn is the part of the autopaho connection manager the publisher
// uses.
type conn interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher mirrors task activity to retained MQTT topics.
type Publisher struct {
	cfg      config.MQTTConfig
	device   DeviceInfo
	activity *Activity
	bus      *events.Bus
	logger   *slog.Logger

	cm *autopaho.ConnectionManager
}

// New creates a Publisher. It does not connect until Start.
func New(cfg config.MQTTConfig, device DeviceInfo, activity *Activity, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		device:   device,
		activity: activity,
		bus:      bus,
		logger:   logger.With("component", "mqtt"),
	}
}

func (p *Publisher) topic(suffix string) string {
	return TopicRoot + "/" + p.cfg.DeviceName + "/" + suffix
}

// Start connects and publishes until ctx ends. State is republished on
// every (re)connect, whenever an event changes it and every
// PublishInterval.
func (p *Publisher) Start(ctx context.Context) error {
	broker, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	cc := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{broker},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.topic("availability"),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
			p.publishDevice(ctx, cm)
			p.publishStates(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "morpheum-" + p.cfg.DeviceName,
		},
	}
	if broker.Scheme == "mqtts" || broker.Scheme == "ssl" {
		cc.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// Subscribe before connecting so no event between connect and the
	// loop is missed.
	sub := p.bus.Subscribe(64)
	defer p.bus.Unsubscribe(sub)

	cm, err := autopaho.NewConnection(ctx, cc)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	wait, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(wait); err != nil {
		p.logger.Warn("mqtt not connected yet, retrying in background", "error", err)
	}
	cancel()

	p.run(ctx, cm, sub)
	return nil
}

func (p *Publisher) run(ctx context.Context, c conn, sub <-chan events.Event) {
	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if p.activity.Apply(e) {
				p.publishStates(ctx, c)
			}
		case <-ticker.C:
			p.publishStates(ctx, c)
		}
	}
}

// Stop publishes offline and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up. It serves
// as the connwatch probe for the broker.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) publishAvailability(ctx context.Context, c conn, status string) {
	if err := p.publish(ctx, c, "availability", []byte(status), 1); err != nil {
		p.logger.Warn("mqtt availability not published", "status", status, "error", err)
	}
}

func (p *Publisher) publishDevice(ctx context.Context, c conn) {
	b, err := json.Marshal(p.device)
	if err != nil {
		p.logger.Error("mqtt device payload", "error", err)
		return
	}
	if err := p.publish(ctx, c, "device", b, 1); err != nil {
		p.logger.Warn("mqtt device not published", "error", err)
	}
}

func (p *Publisher) publishStates(ctx context.Context, c conn) {
	states := p.activity.States()
	for suffix, value := range states {
		if err := p.publish(ctx, c, suffix, []byte(value), 0); err != nil {
			p.logger.Debug("mqtt state not published", "topic", suffix, "error", err)
		}
	}
	p.logger.Debug("mqtt states published", "topics", len(states))
}

func (p *Publisher) publish(ctx context.Context, c conn, suffix string, payload []byte, qos byte) error {
	_, err := c.Publish(ctx, &paho.Publish{
		Topic:   p.topic(suffix),
		Payload: payload,
		QoS:     qos,
		Retain:  true,
	})
	return err
}
