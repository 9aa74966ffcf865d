// Package integration fans event traffic out to external systems.
//
// The forwarder subscribes to the NATS subjects the event sink
// publishes to and mirrors each event to an HTTP webhook and an MQTT
// broker, both optional. It never feeds anything back into the
// protocol core.
package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/config"
)

// ForwarderService forwards controller events to external systems
type ForwarderService struct {
	nc  *nats.Conn
	cfg *config.IntegrationConfig

	mqttClient mqtt.Client
	mqttMu     sync.Mutex

	httpClient *http.Client
}

// NewForwarderService creates the forwarder
func NewForwarderService(nc *nats.Conn, cfg *config.IntegrationConfig) *ForwarderService {
	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ForwarderService{
		nc:  nc,
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether any outbound integration is configured.
func (s *ForwarderService) Enabled() bool {
	return s.cfg.WebhookURL != "" || s.cfg.MQTTBroker != ""
}

// Start runs the forwarder until the context is cancelled
func (s *ForwarderService) Start(ctx context.Context) error {
	// Every event the sink publishes lands under pts.<ptsId>.<type>
	sub, err := s.nc.Subscribe("pts.>", s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to controller events: %w", err)
	}

	if s.cfg.MQTTBroker != "" {
		if err := s.connectMQTT(); err != nil {
			// Auto-reconnect keeps trying in the background
			log.Error().Err(err).Msg("Initial MQTT connection failed")
		}
	}

	log.Info().
		Bool("webhook", s.cfg.WebhookURL != "").
		Bool("mqtt", s.cfg.MQTTBroker != "").
		Msg("Integration forwarder started")

	<-ctx.Done()

	sub.Unsubscribe()
	s.disconnectMQTT()

	return nil
}

// handleEvent mirrors one published event to the configured sinks
func (s *ForwarderService) handleEvent(msg *nats.Msg) {
	// Subject is pts.<ptsId>.<eventType>
	parts := strings.SplitN(msg.Subject, ".", 3)
	if len(parts) != 3 {
		return
	}
	ptsID, eventType := parts[1], parts[2]

	if s.cfg.WebhookURL != "" {
		go s.forwardToWebhook(ptsID, eventType, msg.Data)
	}

	if s.cfg.MQTTBroker != "" {
		go s.forwardToMQTT(ptsID, eventType, msg.Data)
	}
}

// forwardToWebhook POSTs the event to the configured endpoint
func (s *ForwarderService) forwardToWebhook(ptsID, eventType string, payload []byte) {
	req, err := http.NewRequest("POST", s.cfg.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pts-Id", ptsID)
	req.Header.Set("X-Pts-Event-Type", eventType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", s.cfg.WebhookURL).
			Msg("Failed to forward event to webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", s.cfg.WebhookURL).
			Str("pts_id", ptsID).
			Msg("Webhook forward failed")
	} else {
		log.Debug().
			Str("pts_id", ptsID).
			Str("event_type", eventType).
			Msg("Event forwarded to webhook")
	}
}

// forwardToMQTT publishes the event to the broker
func (s *ForwarderService) forwardToMQTT(ptsID, eventType string, payload []byte) {
	client := s.currentMQTTClient()
	if client == nil {
		return
	}

	topic := s.cfg.MQTTTopic
	if topic == "" {
		topic = "pts/{pts_id}/{event_type}"
	}
	topic = strings.ReplaceAll(topic, "{pts_id}", ptsID)
	topic = strings.ReplaceAll(topic, "{event_type}", eventType)

	token := client.Publish(topic, 0, false, payload)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

func (s *ForwarderService) currentMQTTClient() mqtt.Client {
	s.mqttMu.Lock()
	defer s.mqttMu.Unlock()

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		return s.mqttClient
	}
	return nil
}

// connectMQTT establishes the broker connection
func (s *ForwarderService) connectMQTT() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.MQTTBroker)

	clientID := s.cfg.MQTTClientID
	if clientID == "" {
		clientID = "pts-server-forwarder"
	}
	opts.SetClientID(clientID)

	if s.cfg.MQTTUsername != "" {
		opts.SetUsername(s.cfg.MQTTUsername)
		opts.SetPassword(s.cfg.MQTTPassword)
	}

	if strings.HasPrefix(s.cfg.MQTTBroker, "ssl://") || strings.HasPrefix(s.cfg.MQTTBroker, "tls://") {
		opts.SetTLSConfig(&tls.Config{})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", s.cfg.MQTTBroker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", s.cfg.MQTTBroker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		s.mqttMu.Lock()
		s.mqttClient = client
		s.mqttMu.Unlock()
		return nil
	}

	if err := token.Error(); err != nil {
		return err
	}
	return fmt.Errorf("mqtt connect timeout")
}

func (s *ForwarderService) disconnectMQTT() {
	s.mqttMu.Lock()
	defer s.mqttMu.Unlock()

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect(250)
		log.Info().Msg("MQTT client disconnected")
	}
	s.mqttClient = nil
}
