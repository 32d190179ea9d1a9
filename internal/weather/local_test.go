package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
)

type fakeSensor struct {
	tempC, humidity float64
	err             error
	calls           int
}

func (f *fakeSensor) Read(ctx context.Context) (float64, float64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.tempC, f.humidity, nil
}

func TestLocalReader_SampleOnceWritesLatest(t *testing.T) {
	b := broker.New()
	defer b.Close()

	sensor := &fakeSensor{tempC: 20, humidity: 55}
	r := NewLocalReader(sensor, b, time.Hour)
	r.sampleOnce(context.Background())

	fields, ok := b.HGetAll(KeyLocalLatest)
	if !ok {
		t.Fatal("expected weather:dht22:latest to be set")
	}
	reading, ok := LocalReadingFromHash(fields)
	if !ok {
		t.Fatal("failed to decode local reading")
	}
	if reading.TemperatureC != 20 {
		t.Errorf("expected temperature_c 20, got %v", reading.TemperatureC)
	}
	if reading.TemperatureF != 68 {
		t.Errorf("expected temperature_f 68, got %v", reading.TemperatureF)
	}
}

func TestLocalReader_FailedSampleKeepsPriorSnapshot(t *testing.T) {
	b := broker.New()
	defer b.Close()

	sensor := &fakeSensor{tempC: 15, humidity: 40}
	r := NewLocalReader(sensor, b, time.Hour)
	r.sampleOnce(context.Background())

	sensor.err = errors.New("sensor timeout")
	r.sampleOnce(context.Background())

	fields, ok := b.HGetAll(KeyLocalLatest)
	if !ok {
		t.Fatal("expected prior snapshot to remain")
	}
	reading, _ := LocalReadingFromHash(fields)
	if reading.TemperatureC != 15 {
		t.Errorf("expected prior reading to be preserved, got %v", reading.TemperatureC)
	}
}

func TestLocalReader_RunStopsOnContextCancel(t *testing.T) {
	b := broker.New()
	defer b.Close()

	sensor := &fakeSensor{tempC: 10, humidity: 30}
	r := NewLocalReader(sensor, b, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return the context error on cancellation")
	}
	if sensor.calls == 0 {
		t.Error("expected at least one sample before cancellation")
	}
}
