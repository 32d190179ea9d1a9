package radarsensor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/serialmux"
)

func newTestReader(t *testing.T, cfg Config) (*Reader, *broker.InProcess, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux[*serialmux.TestableSerialPort](port)
	b := broker.New()
	t.Cleanup(func() {
		mux.Close()
		b.Close()
	})
	return New(mux, b, cfg), b, port
}

// TestReader_NominalVehiclePass checks that a frame above the motion
// threshold publishes on traffic:radar and updates radar:latest.
func TestReader_NominalVehiclePass(t *testing.T) {
	r, b, port := newTestReader(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, ch := b.Subscribe(ChannelRadar)
	defer b.Unsubscribe(ChannelRadar, id)

	go r.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let Initialize/Subscribe settle

	port.AddReadData([]byte(`{"speed": 25.5, "unit": "mph"}` + "\n"))

	select {
	case msg := <-ch:
		var sample RadarSample
		if err := json.Unmarshal(msg, &sample); err != nil {
			t.Fatalf("failed to decode sample: %v", err)
		}
		if sample.SpeedMPH != 25.5 {
			t.Errorf("expected speed_mph 25.5, got %v", sample.SpeedMPH)
		}
		if sample.AlertLevel != AlertLow {
			t.Errorf("expected low alert level, got %v", sample.AlertLevel)
		}
		if sample.CorrelationID == "" {
			t.Error("expected a correlation id to be assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published radar sample")
	}

	if v, ok := b.Get(KeyLatest); !ok || len(v) == 0 {
		t.Error("expected radar:latest to be set")
	}
}

// TestReader_BelowMotionThreshold checks that a frame below the motion
// threshold is dropped rather than published.
func TestReader_BelowMotionThreshold(t *testing.T) {
	r, b, port := newTestReader(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, ch := b.Subscribe(ChannelRadar)
	defer b.Unsubscribe(ChannelRadar, id)

	go r.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	port.AddReadData([]byte(`{"speed": 1.2, "unit": "mph"}` + "\n"))
	time.Sleep(100 * time.Millisecond)

	select {
	case msg := <-ch:
		t.Fatalf("expected no publish below motion threshold, got %s", msg)
	default:
	}

	if _, ok := b.Get(KeyLatest); !ok {
		t.Error("expected radar:latest to still be updated below motion threshold")
	}
}

func TestIsAllowedCommand_GuardsSendCommand(t *testing.T) {
	r, _, _ := newTestReader(t, DefaultConfig())
	if err := r.SendCommand("ZZ"); err == nil {
		t.Fatal("expected rejection of a command outside the allow-list")
	}
	if err := r.SendCommand("US"); err != nil {
		t.Fatalf("expected allow-listed command to be accepted: %v", err)
	}
}
