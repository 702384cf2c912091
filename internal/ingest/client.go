package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/pkg/utils"
)

// Sink absorbs one decoded AIS message. *internal/manager.Manager
// satisfies this via its Submit method.
type Sink interface {
	Submit(msg aismsg.Message) error
}

// Client subscribes to the configured MQTT topic, decodes each payload and
// hands the result to a Sink.
type Client struct {
	client mqtt.Client
	config config.MQTTConfig
	logger *utils.Logger
	parser *Parser
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	connected bool
}

// NewClient constructs a Client. It does not connect; call Connect.
func NewClient(cfg config.MQTTConfig, logger *utils.Logger, sink Sink) (*Client, error) {
	if logger == nil {
		logger = utils.NewLogger("info", "text")
	}
	if sink == nil {
		return nil, fmt.Errorf("ingest: sink cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		logger: logger,
		parser: NewParser(),
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "aissegment-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()

		c.logger.WithField("broker", cfg.URL).Info("connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		if token := client.Subscribe(cfg.TopicPrefix, 1, c.messageHandler()); token.Wait() && token.Error() != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": cfg.TopicPrefix,
				"error": token.Error(),
			}).Error("failed to subscribe to topic")
		} else {
			c.logger.WithField("topic", cfg.TopicPrefix).Info("subscribed to MQTT topic")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.logger.WithField("error", err).Warn("lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect dials the broker and blocks until the connection callback fires
// or the timeout elapses.
func (c *Client) Connect() error {
	c.logger.WithField("broker", c.config.URL).Info("connecting to MQTT broker")

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: connect to MQTT broker: %w", token.Error())
	}

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("ingest: connection timeout")
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// Disconnect tears the client down, waiting for in-flight message handlers
// to finish.
func (c *Client) Disconnect() {
	c.logger.Info("disconnecting from MQTT broker")
	c.cancel()
	if c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	c.wg.Wait()
	c.logger.Info("MQTT client disconnected")
}

// IsConnected reports the client's last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

func (c *Client) messageHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()

			topic := msg.Topic()
			payload := msg.Payload()
			metrics.MQTTMessagesReceived.WithLabelValues(topic).Inc()

			decoded, err := c.parser.Parse(topic, payload)
			if err != nil {
				c.logger.WithFields(map[string]interface{}{
					"topic": topic,
					"error": err,
				}).Error("failed to decode AIS message")
				metrics.MQTTParseErrors.Inc()
				return
			}

			if err := c.sink.Submit(decoded); err != nil {
				c.logger.WithFields(map[string]interface{}{
					"ssvid": decoded.SSVID,
					"error": err,
				}).Warn("sink rejected AIS message")
			}
		}()
	}
}
