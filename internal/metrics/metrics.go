// Package metrics tracks ingest pipeline counters, gauges and rates.
//
// Two views are maintained in lockstep: Prometheus collectors for scraping,
// and an in-process Recorder that produces the JSON Snapshot served on the
// metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_total",
		Help: "Total number of messages received from the transport",
	})

	messagesValidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_valid_total",
		Help: "Total number of messages that passed validation",
	})

	messagesInvalidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_invalid_total",
		Help: "Total number of messages rejected at any pipeline stage",
	})

	deadletterTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_total",
		Help: "Total number of records written to the dead-letter channel",
	})

	dbRowsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_rows_inserted_total",
		Help: "Total number of rows persisted",
	})

	dbInsertBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_insert_batches_total",
		Help: "Total number of successful batch inserts",
	})

	dbInsertFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_insert_fail_total",
		Help: "Total number of failed insert attempts",
	})

	dbInsertRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_insert_retry_total",
		Help: "Total number of insert retries after transient failure",
	})

	bufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_buffer_size",
		Help: "Current number of items held by the batching buffer",
	})

	transportConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transport_connected",
		Help: "Whether the transport listener is currently connected (1/0)",
	})
)
