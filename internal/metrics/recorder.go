package metrics

import (
	"sync"
	"time"
)

// rateWindow is the number of one-second samples averaged into the
// messages-per-second rate.
const rateWindow = 5

// Snapshot is a point-in-time copy of all pipeline metrics, served as JSON
// on the metrics endpoint. Counters are monotonic; gauges carry last-known
// values and may be null.
type Snapshot struct {
	TS       time.Time          `json:"ts"`
	Counters map[string]uint64  `json:"counters"`
	Gauges   map[string]any     `json:"gauges"`
	Rates    map[string]float64 `json:"rates"`
}

// Recorder accumulates counters, gauges and a rolling message rate. All
// methods are safe for concurrent use. Every mutation is mirrored to the
// Prometheus collectors so both views agree.
type Recorder struct {
	mu sync.Mutex

	received      uint64
	valid         uint64
	invalid       uint64
	deadlettered  uint64
	rowsInserted  uint64
	insertBatches uint64
	insertFails   uint64
	insertRetries uint64

	buffered           int
	lastFlushAt        time.Time
	lastInsertAt       time.Time
	lastInsertErrorAt  time.Time
	lastInsertError    string
	connected          bool
	lastTransportEvent time.Time

	windowCount uint64
	samples     []float64

	stop chan struct{}
	done chan struct{}
}

// NewRecorder creates a Recorder and starts its once-per-second rate sampler.
// Call Close to stop the sampler.
func NewRecorder() *Recorder {
	r := &Recorder{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.sampleLoop()
	return r
}

func (r *Recorder) sampleLoop() {
	defer close(r.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sampleOnce()
		case <-r.stop:
			return
		}
	}
}

// sampleOnce folds the messages counted since the previous sample into the
// rolling window.
func (r *Recorder) sampleOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, float64(r.windowCount))
	if len(r.samples) > rateWindow {
		r.samples = r.samples[len(r.samples)-rateWindow:]
	}
	r.windowCount = 0
}

// Close stops the rate sampler.
func (r *Recorder) Close() {
	close(r.stop)
	<-r.done
}

func (r *Recorder) IncReceived() {
	messagesTotal.Inc()
	r.mu.Lock()
	r.received++
	r.windowCount++
	r.lastTransportEvent = time.Now().UTC()
	r.mu.Unlock()
}

func (r *Recorder) IncValid() {
	messagesValidTotal.Inc()
	r.mu.Lock()
	r.valid++
	r.mu.Unlock()
}

func (r *Recorder) IncInvalid() {
	messagesInvalidTotal.Inc()
	r.mu.Lock()
	r.invalid++
	r.mu.Unlock()
}

func (r *Recorder) IncDeadlettered() {
	deadletterTotal.Inc()
	r.mu.Lock()
	r.deadlettered++
	r.mu.Unlock()
}

func (r *Recorder) IncInsertRetry() {
	dbInsertRetryTotal.Inc()
	r.mu.Lock()
	r.insertRetries++
	r.mu.Unlock()
}

// MarkInsertSuccess records a completed flush of n rows.
func (r *Recorder) MarkInsertSuccess(n int) {
	dbRowsInsertedTotal.Add(float64(n))
	dbInsertBatchesTotal.Inc()
	r.mu.Lock()
	r.rowsInserted += uint64(n)
	r.insertBatches++
	now := time.Now().UTC()
	r.lastInsertAt = now
	r.lastFlushAt = now
	r.mu.Unlock()
}

// MarkInsertError records a failed insert attempt with its error text.
func (r *Recorder) MarkInsertError(errMsg string) {
	dbInsertFailTotal.Inc()
	r.mu.Lock()
	r.insertFails++
	r.lastInsertErrorAt = time.Now().UTC()
	r.lastInsertError = errMsg
	r.mu.Unlock()
}

func (r *Recorder) SetBufferSize(n int) {
	bufferSize.Set(float64(n))
	r.mu.Lock()
	r.buffered = n
	r.mu.Unlock()
}

func (r *Recorder) SetTransportConnected(up bool) {
	if up {
		transportConnected.Set(1)
	} else {
		transportConnected.Set(0)
	}
	r.mu.Lock()
	r.connected = up
	r.lastTransportEvent = time.Now().UTC()
	r.mu.Unlock()
}

// TransportConnected reports the last-known transport connectivity.
func (r *Recorder) TransportConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// LastTransportEvent reports when the transport last produced any activity.
func (r *Recorder) LastTransportEvent() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTransportEvent
}

// LastInsertAt reports the time of the most recent successful insert.
func (r *Recorder) LastInsertAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInsertAt
}

// LastInsertError reports the most recent insert error text, empty if none.
func (r *Recorder) LastInsertError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInsertError
}

// BufferSize reports the last published buffer depth.
func (r *Recorder) BufferSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

// Snapshot returns a point-in-time copy of all metrics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rate float64
	if len(r.samples) > 0 {
		var sum float64
		for _, s := range r.samples {
			sum += s
		}
		rate = sum / float64(len(r.samples))
	}

	return Snapshot{
		TS: time.Now().UTC(),
		Counters: map[string]uint64{
			"mqtt_messages_total":         r.received,
			"mqtt_messages_valid_total":   r.valid,
			"mqtt_messages_invalid_total": r.invalid,
			"deadletter_total":            r.deadlettered,
			"db_rows_inserted_total":      r.rowsInserted,
			"db_insert_batches_total":     r.insertBatches,
			"db_insert_fail_total":        r.insertFails,
			"db_insert_retry_total":       r.insertRetries,
		},
		Gauges: map[string]any{
			"buffer_size":             r.buffered,
			"last_flush_at":           nullableTime(r.lastFlushAt),
			"last_insert_at":          nullableTime(r.lastInsertAt),
			"last_insert_error_at":    nullableTime(r.lastInsertErrorAt),
			"transport_connected":     r.connected,
			"last_transport_event_at": nullableTime(r.lastTransportEvent),
		},
		Rates: map[string]float64{
			"messages_per_sec": rate,
		},
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
