package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/banshee-data/spray.report/internal/monitoring"
)

// MQTTConfig selects the broker and topic carrying the readings.
type MQTTConfig struct {
	Broker    string // host:port
	Topic     string
	ClientID  string
	QoS       byte
	KeepAlive time.Duration
}

// MQTT subscribes to a topic and ingests each message payload as one line.
type MQTT struct {
	cfg MQTTConfig
}

func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "spray-report"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &MQTT{cfg: cfg}
}

func (m *MQTT) Name() string { return "mqtt" }

// Run connects, subscribes and ingests until ctx is cancelled or the
// connection fails.
func (m *MQTT) Run(ctx context.Context, in *Ingester) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqtt: dial %s: %w", m.cfg.Broker, err)
	}

	// Buffered so a late callback never blocks paho's goroutines.
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: m.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if err := handleLine(ctx, in, m.Name(), pr.Packet.Payload); err != nil {
					fail(err)
					return true, err
				}
				return true, nil
			},
		},
		OnClientError: fail,
		OnServerDisconnect: func(d *paho.Disconnect) {
			fail(fmt.Errorf("server disconnected (reason %d)", d.ReasonCode))
		},
	})

	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:   m.cfg.ClientID,
		KeepAlive:  uint16(m.cfg.KeepAlive.Seconds()),
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("mqtt: connect refused (reason %d)", ca.ReasonCode)
	}
	defer func() {
		if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil && !errors.Is(err, net.ErrClosed) {
			monitoring.Logf("mqtt: disconnect: %v", err)
		}
	}()

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: m.cfg.Topic, QoS: m.cfg.QoS}},
	}); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", m.cfg.Topic, err)
	}
	monitoring.Logf("mqtt: subscribed to %s on %s", m.cfg.Topic, m.cfg.Broker)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-failed:
		return fmt.Errorf("mqtt: %w", err)
	}
}
