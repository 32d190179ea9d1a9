// Package broker implements the in-memory event fabric described in
// spec section 4.1: a keyed key-value store with TTL, hash maps, sorted
// time-series sets, and pub/sub channels. It is the only shared mutable
// state in the pipeline; every other component is handed a Broker at
// construction rather than reaching for a package-level singleton.
//
// Two things exercise the same implementation: production code and
// tests. InProcess's semantics (TTL, pub/sub ordering, lazy+periodic
// expiry) are deterministic and inspectable enough that a separate mock
// was judged unnecessary, matching the "Broker as an interface with a
// production implementation and a same-semantics test implementation"
// design note.
package broker

import (
	crand "crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// subscriptionID returns a random hex identifier for a new subscription,
// following the same scheme as internal/serialmux's randomID.
func subscriptionID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Broker is the full surface every component depends on.
type Broker interface {
	// Set stores value under key with an optional TTL (zero means no
	// expiry).
	Set(key string, value []byte, ttl time.Duration)
	// Get returns the value stored under key, or ok=false if absent or
	// expired.
	Get(key string) (value []byte, ok bool)
	// Delete removes key immediately.
	Delete(key string)

	// HSet stores a hash snapshot under key with an optional TTL.
	HSet(key string, fields map[string][]byte, ttl time.Duration)
	// HGetAll returns the hash fields stored under key, or ok=false if
	// absent or expired.
	HGetAll(key string) (fields map[string][]byte, ok bool)

	// ZAdd adds member with score (a Unix timestamp in this pipeline) to
	// the sorted set under key, with a TTL applied to the whole set.
	ZAdd(key string, score float64, member []byte, ttl time.Duration)
	// ZRangeByScore returns members with min <= score <= max, ascending.
	ZRangeByScore(key string, min, max float64) [][]byte
	// ZRemRangeByScore removes members with min <= score <= max.
	ZRemRangeByScore(key string, min, max float64)

	// Expire refreshes the TTL of key to ttl, whichever of the three
	// namespaces (plain value, hash, sorted set) it currently lives in.
	// Reports false if key isn't present in any of them.
	Expire(key string, ttl time.Duration) bool

	// Publish delivers payload to current subscribers of channel.
	// Publishing never blocks the caller: a slow subscriber drops
	// messages rather than stalling the publisher.
	Publish(channel string, payload []byte)
	// Subscribe registers a new subscription on channel and returns its
	// id (for Unsubscribe) and a channel of payloads. Only messages
	// published after this call are delivered; there is no replay.
	Subscribe(channel string) (id string, ch <-chan []byte)
	// Unsubscribe removes a subscription created by Subscribe.
	Unsubscribe(channel, id string)

	// Close stops the background sweep goroutine. Safe to call once.
	Close()
}

const (
	subscriberBuffer = 64
	sweepInterval    = 30 * time.Second
)

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type hashEntry struct {
	fields    map[string][]byte
	expiresAt time.Time
}

type zsetEntry struct {
	members   map[string]float64
	expiresAt time.Time
}

// InProcess is the production Broker: a single process-wide instance
// guarded by a mutex, with a background goroutine sweeping expired
// entries on an interval (expiry is also applied lazily on read).
//
// Grounded on internal/serialmux.SerialMux's subscriber-map-with-mutex
// pattern, generalized from one hard-coded serial-port source to any
// number of named channels, and on the non-blocking per-subscriber
// buffered-channel broadcast idiom used for in-process event buses
// elsewhere in the ecosystem.
type InProcess struct {
	mu  sync.Mutex
	kv  map[string]*kvEntry
	h   map[string]*hashEntry
	z   map[string]*zsetEntry
	subs map[string]map[string]chan []byte

	log telemetry.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an InProcess broker and starts its background sweep loop.
func New() *InProcess {
	b := &InProcess{
		kv:     make(map[string]*kvEntry),
		h:      make(map[string]*hashEntry),
		z:      make(map[string]*zsetEntry),
		subs:   make(map[string]map[string]chan []byte),
		log:    telemetry.For("broker"),
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.sweepLoop()
	return b
}

var _ Broker = (*InProcess)(nil)

func (b *InProcess) sweepLoop() {
	defer b.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case now := <-t.C:
			b.sweep(now)
		}
	}
}

func (b *InProcess) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiredKV, expiredH, expiredZ := 0, 0, 0
	for k, e := range b.kv {
		if isExpired(e.expiresAt, now) {
			delete(b.kv, k)
			expiredKV++
		}
	}
	for k, e := range b.h {
		if isExpired(e.expiresAt, now) {
			delete(b.h, k)
			expiredH++
		}
	}
	for k, e := range b.z {
		if isExpired(e.expiresAt, now) {
			delete(b.z, k)
			expiredZ++
		}
	}
	if expiredKV+expiredH+expiredZ > 0 {
		b.log.WithEvent("broker_sweep").Debug().
			Int("kv_expired", expiredKV).
			Int("hash_expired", expiredH).
			Int("zset_expired", expiredZ).
			Msg("expired stale keys")
	}
}

func isExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && now.After(expiresAt)
}

// Close stops the sweep goroutine. Does not close subscriber channels;
// callers should Unsubscribe individually during their own shutdown.
func (b *InProcess) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// Set implements Broker.
func (b *InProcess) Set(key string, value []byte, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.kv[key] = &kvEntry{value: cp, expiresAt: expiryFor(ttl)}
}

// Get implements Broker.
func (b *InProcess) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.kv[key]
	if !ok {
		return nil, false
	}
	if isExpired(e.expiresAt, time.Now()) {
		delete(b.kv, key)
		return nil, false
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true
}

// Delete implements Broker.
func (b *InProcess) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.kv, key)
}

// HSet implements Broker.
func (b *InProcess) HSet(key string, fields map[string][]byte, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(map[string][]byte, len(fields))
	for k, v := range fields {
		vv := make([]byte, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	b.h[key] = &hashEntry{fields: cp, expiresAt: expiryFor(ttl)}
}

// HGetAll implements Broker.
func (b *InProcess) HGetAll(key string) (map[string][]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.h[key]
	if !ok {
		return nil, false
	}
	if isExpired(e.expiresAt, time.Now()) {
		delete(b.h, key)
		return nil, false
	}
	cp := make(map[string][]byte, len(e.fields))
	for k, v := range e.fields {
		vv := make([]byte, len(v))
		copy(vv, v)
		cp[k] = vv
	}
	return cp, true
}

// ZAdd implements Broker. ttl applies to the whole set and is refreshed
// on every add, matching the "history bounded to a rolling window"
// usage in this pipeline (radar:history:<day>, weather time-series).
func (b *InProcess) ZAdd(key string, score float64, member []byte, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.z[key]
	if !ok {
		e = &zsetEntry{members: make(map[string]float64)}
		b.z[key] = e
	}
	e.members[string(member)] = score
	e.expiresAt = expiryFor(ttl)
}

// ZRangeByScore implements Broker, returning members ordered by
// ascending score.
func (b *InProcess) ZRangeByScore(key string, min, max float64) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.z[key]
	if !ok || isExpired(e.expiresAt, time.Now()) {
		return nil
	}
	type scored struct {
		member string
		score  float64
	}
	var matches []scored
	for m, s := range e.members {
		if s >= min && s <= max {
			matches = append(matches, scored{m, s})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score < matches[j].score })
	out := make([][]byte, len(matches))
	for i, m := range matches {
		out[i] = []byte(m.member)
	}
	return out
}

// ZRemRangeByScore implements Broker.
func (b *InProcess) ZRemRangeByScore(key string, min, max float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.z[key]
	if !ok {
		return
	}
	for m, s := range e.members {
		if s >= min && s <= max {
			delete(e.members, m)
		}
	}
}

// Expire implements Broker.
func (b *InProcess) Expire(key string, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if e, ok := b.kv[key]; ok && !isExpired(e.expiresAt, now) {
		e.expiresAt = expiryFor(ttl)
		return true
	}
	if e, ok := b.h[key]; ok && !isExpired(e.expiresAt, now) {
		e.expiresAt = expiryFor(ttl)
		return true
	}
	if e, ok := b.z[key]; ok && !isExpired(e.expiresAt, now) {
		e.expiresAt = expiryFor(ttl)
		return true
	}
	return false
}

// Publish implements Broker. Delivery is best-effort: a subscriber
// whose buffer is full is skipped rather than blocking the publisher,
// matching spec's "loss of a single published message is tolerable for
// sensor readings and weather" policy. Durability for consolidated
// events is the Persister's own subscription plus batched commit, not
// this channel.
func (b *InProcess) Publish(channel string, payload []byte) {
	b.mu.Lock()
	subs := b.subs[channel]
	chans := make([]chan []byte, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- payload:
		default:
			b.log.WithEvent("broker_publish_dropped").Warn().
				Str("channel", channel).
				Msg("subscriber buffer full, dropping message")
		}
	}
}

// Subscribe implements Broker.
func (b *InProcess) Subscribe(channel string) (string, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := subscriptionID()
	ch := make(chan []byte, subscriberBuffer)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[string]chan []byte)
	}
	b.subs[channel][id] = ch
	return id, ch
}

// Unsubscribe implements Broker.
func (b *InProcess) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if chans, ok := b.subs[channel]; ok {
		if ch, ok := chans[id]; ok {
			close(ch)
			delete(chans, id)
		}
	}
}
