package broker

import (
	"testing"
	"time"
)

func TestSetGetExpiry(t *testing.T) {
	b := New()
	defer b.Close()

	b.Set("radar:latest", []byte("v1"), 20*time.Millisecond)
	if v, ok := b.Get("radar:latest"); !ok || string(v) != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := b.Get("radar:latest"); ok {
		t.Fatal("expected key to be expired on lazy read")
	}
}

func TestHashSnapshot(t *testing.T) {
	b := New()
	defer b.Close()

	b.HSet("camera:latest", map[string][]byte{"count": []byte("1")}, 0)
	fields, ok := b.HGetAll("camera:latest")
	if !ok {
		t.Fatal("expected hash present")
	}
	if string(fields["count"]) != "1" {
		t.Fatalf("unexpected field value: %q", fields["count"])
	}
}

func TestExpireRefreshesWhicheverNamespaceHoldsKey(t *testing.T) {
	b := New()
	defer b.Close()

	b.Set("radar:latest", []byte("v1"), 0) // no TTL
	if !b.Expire("radar:latest", 20*time.Millisecond) {
		t.Fatal("expected Expire to find radar:latest in the kv namespace")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := b.Get("radar:latest"); ok {
		t.Fatal("expected radar:latest to expire after Expire shortened its TTL")
	}

	b.HSet("weather:dht22:latest", map[string][]byte{"temperature_c": []byte("1")}, 0)
	if !b.Expire("weather:dht22:latest", 20*time.Millisecond) {
		t.Fatal("expected Expire to find weather:dht22:latest in the hash namespace")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := b.HGetAll("weather:dht22:latest"); ok {
		t.Fatal("expected weather:dht22:latest to expire after Expire shortened its TTL")
	}

	if b.Expire("does-not-exist", time.Hour) {
		t.Fatal("expected Expire on an absent key to report false")
	}
}

func TestZSetRangeAndRemove(t *testing.T) {
	b := New()
	defer b.Close()

	b.ZAdd("radar:history:20260729", 100, []byte("a"), time.Hour)
	b.ZAdd("radar:history:20260729", 200, []byte("b"), time.Hour)
	b.ZAdd("radar:history:20260729", 300, []byte("c"), time.Hour)

	got := b.ZRangeByScore("radar:history:20260729", 150, 300)
	if len(got) != 2 || string(got[0]) != "b" || string(got[1]) != "c" {
		t.Fatalf("unexpected range result: %v", got)
	}

	b.ZRemRangeByScore("radar:history:20260729", 0, 150)
	remaining := b.ZRangeByScore("radar:history:20260729", 0, 1000)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining members, got %d", len(remaining))
	}
}

func TestPubSubNoReplay(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish("traffic:radar", []byte("before"))

	id, ch := b.Subscribe("traffic:radar")
	defer b.Unsubscribe("traffic:radar", id)

	b.Publish("traffic:radar", []byte("after"))

	select {
	case msg := <-ch:
		if string(msg) != "after" {
			t.Fatalf("expected only post-subscription message, got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	id, _ := b.Subscribe("traffic:alert")
	defer b.Unsubscribe("traffic:alert", id)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish("traffic:alert", []byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
