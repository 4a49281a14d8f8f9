// devicesim publishes synthetic device traffic for exercising the ingest
// pipeline during development and load testing.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/apatte-racing/telemetry-ingest/internal/envelope"
)

var (
	simBroker    string
	simNamespace string
	simDevices   int
	simRate      float64
	simCount     int
	simDuration  time.Duration
	simSeed      int64
	simInvalid   float64
)

var rootCmd = &cobra.Command{
	Use:   "devicesim",
	Short: "Synthetic vehicle telemetry publisher",
	Long: `devicesim publishes realistic telemetry, status and event envelopes
over MQTT, simulating a fleet of vehicle data loggers.

Examples:
  # 5 devices, 20 messages/sec, run until interrupted
  devicesim --broker tcp://localhost:1883 --devices 5 --rate 20

  # Publish exactly 1000 messages, 2% of them malformed
  devicesim --broker tcp://localhost:1883 --count 1000 --invalid 0.02`,
	RunE: runSim,
}

func init() {
	rootCmd.Flags().StringVar(&simBroker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	rootCmd.Flags().StringVar(&simNamespace, "namespace", "apatte", "topic namespace")
	rootCmd.Flags().IntVar(&simDevices, "devices", 3, "number of simulated devices")
	rootCmd.Flags().Float64Var(&simRate, "rate", 10, "messages per second across all devices")
	rootCmd.Flags().IntVar(&simCount, "count", 0, "stop after this many messages (0 = no limit)")
	rootCmd.Flags().DurationVar(&simDuration, "duration", 0, "stop after this duration (0 = no limit)")
	rootCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (0 = time-based)")
	rootCmd.Flags().Float64Var(&simInvalid, "invalid", 0, "fraction of messages published malformed")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type device struct {
	uid       string
	sessionID string
	firmware  string
	seq       int
	speed     float64
	battery   float64
}

func newFleet(rng *rand.Rand, n int) []*device {
	fleet := make([]*device, n)
	for i := range fleet {
		fleet[i] = &device{
			uid:       fmt.Sprintf("car-%02d", i+1),
			sessionID: uuid.NewString(),
			firmware:  fmt.Sprintf("%d.%d.%d", 1+rng.Intn(3), rng.Intn(10), rng.Intn(20)),
			speed:     40 + rng.Float64()*60,
			battery:   12.0 + rng.Float64()*1.5,
		}
	}
	return fleet
}

func runSim(cmd *cobra.Command, _ []string) error {
	if simRate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	gofakeit.Seed(seed)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(simBroker)
	opts.SetClientID(fmt.Sprintf("devicesim-%d", time.Now().UnixNano()%1000000))
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", simBroker, token.Error())
	}
	defer client.Disconnect(250)

	fleet := newFleet(rng, simDevices)
	interval := time.Duration(float64(time.Second) / simRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if simDuration > 0 {
		deadline = time.After(simDuration)
	}

	fmt.Printf("Publishing to %s as %d devices at %.1f msg/s (seed %d)\n",
		simBroker, simDevices, simRate, seed)

	published := 0
	for {
		select {
		case <-cmd.Context().Done():
			fmt.Printf("\nInterrupted after %d messages\n", published)
			return nil
		case <-deadline:
			fmt.Printf("Done: %d messages in %s\n", published, simDuration)
			return nil
		case <-ticker.C:
		}

		dev := fleet[rng.Intn(len(fleet))]
		topic, payload := nextMessage(rng, dev)
		if simInvalid > 0 && rng.Float64() < simInvalid {
			payload = corrupt(rng, payload)
		}
		if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
			fmt.Fprintf(os.Stderr, "publish failed: %v\n", token.Error())
		}

		published++
		if simCount > 0 && published >= simCount {
			fmt.Printf("Done: %d messages\n", published)
			return nil
		}
	}
}

// nextMessage produces mostly telemetry with occasional status and event
// envelopes, roughly matching real logger traffic shape.
func nextMessage(rng *rand.Rand, dev *device) (string, []byte) {
	dev.seq++
	now := time.Now().UTC()
	seq := int64(dev.seq)
	sentMS := now.UnixMilli()

	env := envelope.Envelope{
		Version:   envelope.ContractVersion,
		MessageID: uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		DeviceUID: dev.uid,
		SessionID: &dev.sessionID,
		Meta: &envelope.Meta{
			Firmware: dev.firmware,
			Seq:      &seq,
			SentMS:   &sentMS,
		},
	}

	var channel string
	switch roll := rng.Float64(); {
	case roll < 0.90:
		channel = "telemetry"
		env.Kind = envelope.KindTelemetry
		dev.speed += rng.NormFloat64() * 2
		if dev.speed < 0 {
			dev.speed = 0
		}
		dev.battery -= rng.Float64() * 0.001
		env.Data = &envelope.Data{
			Metrics: map[string]float64{
				"speed_kph":      round1(dev.speed),
				"rpm":            round1(dev.speed * 85),
				"coolant_temp_c": round1(82 + rng.Float64()*12),
				"battery_v":      round1(dev.battery),
				"fuel_pct":       round1(20 + rng.Float64()*80),
			},
			GPS: &envelope.GPS{
				Lat:  gofakeit.Latitude(),
				Lon:  gofakeit.Longitude(),
				AltM: ptr(100 + rng.Float64()*50),
			},
		}
	case roll < 0.97:
		channel = "status"
		env.Kind = envelope.KindStatus
		env.Data = &envelope.Data{
			State: "ok",
			Health: map[string]float64{
				"cpu_pct":      round1(rng.Float64() * 60),
				"disk_free_mb": round1(500 + rng.Float64()*1500),
			},
		}
	default:
		channel = "event"
		env.Kind = envelope.KindEvent
		env.Data = &envelope.Data{
			Name:     gofakeit.RandomString([]string{"lap_complete", "pit_entry", "pit_exit", "sector_flag"}),
			Severity: "info",
			Message:  gofakeit.Sentence(6),
		}
	}

	payload, _ := json.Marshal(env)
	return fmt.Sprintf("%s/v1/%s/%s", simNamespace, dev.uid, channel), payload
}

// corrupt damages a payload so it exercises the rejection path.
func corrupt(rng *rand.Rand, payload []byte) []byte {
	switch rng.Intn(3) {
	case 0:
		return payload[:len(payload)/2]
	case 1:
		return []byte(`{"v": 99, "type": "telemetry"}`)
	default:
		return append(payload, []byte("garbage")...)
	}
}

func round1(v float64) float64 {
	return float64(int(v*10)) / 10
}

func ptr[T any](v T) *T {
	return &v
}
