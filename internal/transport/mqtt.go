package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

const mqttQoS = byte(1) // at least once

// MQTTListener subscribes to the device topic tree over MQTT. Paho's
// auto-reconnect keeps the session alive across broker restarts; every
// (re)connect re-establishes the subscriptions from the connect handler.
type MQTTListener struct {
	cfg      Config
	handler  Handler
	recorder *metrics.Recorder
	logger   *logging.Logger
	client   mqtt.Client
}

func NewMQTTListener(cfg Config, handler Handler, recorder *metrics.Recorder, logger *logging.Logger) *MQTTListener {
	return &MQTTListener{
		cfg:      cfg,
		handler:  handler,
		recorder: recorder,
		logger:   logger.Component("transport.mqtt"),
	}
}

// Start connects to the broker. The initial connect is synchronous so a bad
// broker URL fails startup; subsequent reconnects run in the background.
func (l *MQTTListener) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%d", l.cfg.ClientIDPrefix, time.Now().UnixNano()%1000000))
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}
	opts.SetConnectTimeout(l.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(l.onConnectionLost)

	l.client = mqtt.NewClient(opts)
	l.logger.Info("connecting to mqtt broker", "broker", l.cfg.BrokerURL, "client_id", opts.ClientID)

	token := l.client.Connect()
	if !token.WaitTimeout(l.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out after %s", l.cfg.BrokerURL, l.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", l.cfg.BrokerURL, err)
	}
	return nil
}

func (l *MQTTListener) Connected() bool {
	return l.client != nil && l.client.IsConnectionOpen()
}

func (l *MQTTListener) Close() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
	l.recorder.SetTransportConnected(false)
	l.logger.Info("mqtt listener closed")
}

// onConnect subscribes to both topic shapes: the 4-segment form
// <ns>/v1/<device>/<channel> and the 5-segment form with a substream.
func (l *MQTTListener) onConnect(client mqtt.Client) {
	l.recorder.SetTransportConnected(true)
	l.logger.Info("connected to mqtt broker", "broker", l.cfg.BrokerURL)

	filters := []string{
		fmt.Sprintf("%s/v1/+/+", l.cfg.Namespace),
		fmt.Sprintf("%s/v1/+/+/+", l.cfg.Namespace),
	}
	for _, filter := range filters {
		if token := client.Subscribe(filter, mqttQoS, l.onMessage); token.Wait() && token.Error() != nil {
			l.logger.Error("mqtt subscribe failed", "filter", filter, "error", token.Error())
			continue
		}
		l.logger.Info("subscribed", "filter", filter)
	}
}

func (l *MQTTListener) onConnectionLost(_ mqtt.Client, err error) {
	l.recorder.SetTransportConnected(false)
	l.logger.Warn("mqtt connection lost", "error", err)
}

func (l *MQTTListener) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// Paho reuses the message buffer; copy before handing off.
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	l.handler(context.Background(), msg.Topic(), payload)
}
