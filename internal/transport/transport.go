// Package transport subscribes to broker topics and feeds raw messages into
// the pipeline. The pipeline is transport-agnostic: a listener only delivers
// (topic, payload) pairs, in the canonical slash-separated topic form.
package transport

import (
	"context"
	"time"
)

// Handler consumes one raw message from the broker.
type Handler func(ctx context.Context, topic string, payload []byte)

// Listener is a running subscription to the device topic tree.
type Listener interface {
	// Start connects to the broker and begins delivering messages.
	Start(ctx context.Context) error

	// Connected reports current broker connectivity.
	Connected() bool

	// Close disconnects from the broker.
	Close()
}

// Config holds the broker settings shared by all listener backends.
type Config struct {
	BrokerURL      string
	Username       string
	Password       string
	ClientIDPrefix string
	ConnectTimeout time.Duration

	// Namespace is the first topic segment the listener subscribes under.
	Namespace string
}
