package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
)

// NATSListener subscribes to the device topic tree over NATS. Subjects use
// dots where MQTT topics use slashes, so the listener subscribes to
// "<ns>.v1.>" and converts each subject back to the canonical slash form
// before handing it to the pipeline.
type NATSListener struct {
	cfg      Config
	handler  Handler
	recorder *metrics.Recorder
	logger   *logging.Logger
	conn     *nats.Conn
	sub      *nats.Subscription
}

func NewNATSListener(cfg Config, handler Handler, recorder *metrics.Recorder, logger *logging.Logger) *NATSListener {
	return &NATSListener{
		cfg:      cfg,
		handler:  handler,
		recorder: recorder,
		logger:   logger.Component("transport.nats"),
	}
}

func (l *NATSListener) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(l.cfg.ClientIDPrefix + "listener"),
		nats.Timeout(l.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.recorder.SetTransportConnected(false)
			l.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.recorder.SetTransportConnected(true)
			l.logger.Info("nats reconnected", "server", nc.ConnectedUrl())
		}),
	}
	if l.cfg.Username != "" && l.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(l.cfg.Username, l.cfg.Password))
	}

	conn, err := nats.Connect(l.cfg.BrokerURL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect to %s: %w", l.cfg.BrokerURL, err)
	}
	l.conn = conn

	subject := l.cfg.Namespace + ".v1.>"
	sub, err := conn.Subscribe(subject, l.onMessage)
	if err != nil {
		conn.Close()
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	l.sub = sub

	l.recorder.SetTransportConnected(true)
	l.logger.Info("subscribed", "subject", subject, "server", conn.ConnectedUrl())
	return nil
}

func (l *NATSListener) Connected() bool {
	return l.conn != nil && l.conn.IsConnected()
}

func (l *NATSListener) Close() {
	if l.sub != nil {
		if err := l.sub.Unsubscribe(); err != nil {
			l.logger.Warn("nats unsubscribe failed", "error", err)
		}
	}
	if l.conn != nil {
		if err := l.conn.Drain(); err != nil {
			l.conn.Close()
		}
	}
	l.recorder.SetTransportConnected(false)
	l.logger.Info("nats listener closed")
}

func (l *NATSListener) onMessage(msg *nats.Msg) {
	l.handler(context.Background(), subjectToTopic(msg.Subject), msg.Data)
}

// subjectToTopic maps a NATS subject to the canonical topic form the rest of
// the pipeline parses, e.g. "apatte.v1.car-07.telemetry" becomes
// "apatte/v1/car-07/telemetry".
func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
