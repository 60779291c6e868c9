package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// BufferSize is the number of messages kept while the broker is unreachable.
const BufferSize = 256

// Options configures a RealClient.
type Options struct {
	Broker   string
	ClientID string

	// WillTopic and WillPayload form the retained last will.
	WillTopic   string
	WillPayload []byte
}

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client paho.Client

	mu     sync.Mutex
	subs   map[string]Handler
	buffer *ringBuffer
}

// NewRealClient connects to the broker. An unreachable broker is not fatal:
// paho keeps retrying in the background and publications are buffered.
func NewRealClient(o Options) (*RealClient, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is empty")
	}
	c := &RealClient{
		subs:   make(map[string]Handler),
		buffer: newRingBuffer(BufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt: connection lost")
		})
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, o.WillPayload, 1, true)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.WithField("broker", o.Broker).Warn("mqtt: broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// onConnect restores subscriptions and replays buffered messages.
func (c *RealClient) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	pending := c.buffer.drainAll()
	c.mu.Unlock()

	log.WithField("pending", len(pending)).Info("mqtt: connected")
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("mqtt: resubscribe failed")
		}
	}
	for _, m := range pending {
		if err := c.publish(m); err != nil {
			log.WithError(err).WithField("topic", m.Topic).Warn("mqtt: replay failed")
		}
	}
}

// Publish sends the message or buffers it while disconnected.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m := Message{Topic: topic, Payload: payload, QoS: qos, Retained: retained}
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buffer.push(m)
		c.mu.Unlock()
		return nil
	}
	return c.publish(m)
}

func (c *RealClient) publish(m Message) error {
	token := c.client.Publish(m.Topic, m.QoS, m.Retained, m.Payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.Topic, err)
	}
	return nil
}

// Subscribe registers handler and subscribes now if connected; otherwise on connect.
func (c *RealClient) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *RealClient) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second grace
	return nil
}
