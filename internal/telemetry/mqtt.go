// Package telemetry publishes fabric events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/events"
	"github.com/courtyard-project/courtyard/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicConnections = "connections"
	TopicLinks       = "links"
	TopicSessions    = "sessions"
	TopicStatus      = "status"
)

var topicByEvent = map[events.EventType]string{
	events.EventConnectionAccepted:   TopicConnections,
	events.EventConnectionRegistered: TopicConnections,
	events.EventConnectionClosed:     TopicConnections,
	events.EventLinkUp:               TopicLinks,
	events.EventLinkDown:             TopicLinks,
	events.EventSessionAuthorized:    TopicSessions,
	events.EventSessionBound:         TopicSessions,
	events.EventSessionUnbound:       TopicSessions,
	events.EventSessionExpired:       TopicSessions,
	events.EventShutdown:             TopicStatus,
}

// Publisher forwards bus events to MQTT as JSON.
type Publisher struct {
	cfg      config.MQTTConfig
	role     string
	eventBus *events.Bus
	client   mqtt.Client
	metadata map[string]any
}

// NewPublisher creates a publisher for the given role. It does not connect.
func NewPublisher(cfg config.MQTTConfig, role string, eventBus *events.Bus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	host := util.GetHostInfo()
	p := &Publisher{
		cfg:      cfg,
		role:     role,
		eventBus: eventBus,
		metadata: map[string]any{
			"hostname": host.Hostname,
			"role":     role,
			"os":       host.OS,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("courtyard-%s-%s", role, host.Hostname)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("component", "telemetry").Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Str("component", "telemetry").Err(err).Msg("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Run connects, publishes events until ctx is cancelled, then announces
// the shutdown and disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	log.Info().
		Str("broker", p.cfg.BrokerURL).
		Int("port", p.cfg.Port).
		Msg("connecting to MQTT broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	for typ := range topicByEvent {
		p.eventBus.Subscribe(typ, "mqtt", p.onEvent)
	}

	<-ctx.Done()

	for typ := range topicByEvent {
		p.eventBus.Unsubscribe(typ, "mqtt")
	}
	p.publish(TopicStatus, map[string]any{"event": string(events.EventShutdown)})
	p.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (p *Publisher) onEvent(_ context.Context, event events.Event) error {
	topic, ok := topicByEvent[event.Type]
	if !ok {
		return nil
	}
	p.publish(topic, map[string]any{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

func (p *Publisher) publish(suffix string, body map[string]any) {
	if !p.client.IsConnected() {
		return
	}
	topic := Topic(p.cfg.TopicPrefix, suffix)
	data, err := json.Marshal(buildMessage(p.metadata, body, time.Now()))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := p.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Topic joins prefix and suffix. An empty prefix publishes at the root.
func Topic(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

func buildMessage(metadata, body map[string]any, now time.Time) map[string]any {
	msg := make(map[string]any, len(metadata)+len(body)+1)
	for k, v := range metadata {
		msg[k] = v
	}
	for k, v := range body {
		msg[k] = v
	}
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	return msg
}
