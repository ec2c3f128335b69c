package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shugur-Network/lens/internal/config"
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/store"
)

/* --- | Test doubles | --- */

type fakeConn struct {
	mu        sync.Mutex
	address   string
	opts      models.ConnectOptions
	ephemeral bool
	handler   domain.ConnectionHandler

	connected bool
	failDial  bool

	subs   map[string][]nostr.Filter
	closes []string
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	fail := c.failDial
	c.mu.Unlock()
	if fail {
		return fmt.Errorf("dial refused")
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.handler.OnConnected(c)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *fakeConn) SendSubscription(id string, filters []nostr.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = filters
	return nil
}

func (c *fakeConn) SendClose(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	c.closes = append(c.closes, id)
	return nil
}

func (c *fakeConn) SendEvent(ctx context.Context, evt *nostr.Event) error { return nil }

func (c *fakeConn) Address() string { return c.address }

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) IsEphemeral() bool { return c.ephemeral }

func (c *fakeConn) Options() models.ConnectOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *fakeConn) SetOptions(opts models.ConnectOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
}

func (c *fakeConn) Status() models.RelayStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.RelayStatus{
		Address:   c.address,
		Connected: c.connected,
		Ephemeral: c.ephemeral,
		Read:      c.opts.Read,
		Write:     c.opts.Write,
	}
}

func (c *fakeConn) setFailDial(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failDial = fail
}

func (c *fakeConn) subscription(id string) ([]nostr.Filter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.subs[id]
	return f, ok
}

type fakeFactory struct {
	mu       sync.Mutex
	failDial bool
	created  []*fakeConn
}

func (f *fakeFactory) NewConnection(address string, opts models.ConnectOptions,
	ephemeral bool, handler domain.ConnectionHandler) domain.RelayConnection {
	c := &fakeConn{
		address:   address,
		opts:      opts,
		ephemeral: ephemeral,
		handler:   handler,
		failDial:  f.failDial,
		subs:      make(map[string][]nostr.Filter),
	}
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c
}

func (f *fakeFactory) conns() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.created...)
}

/* --- | Helpers | --- */

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Relays: config.RelaysConfig{
			DialTimeout:   10 * time.Second,
			PingInterval:  30 * time.Second,
			PongTimeout:   60 * time.Second,
			WriteTimeout:  10 * time.Second,
			AckTimeout:    200 * time.Millisecond,
			ReadLimit:     524288,
			DialRate:      100,
			DialBurst:     100,
			MaxEventRate:  500,
			MaxEventBurst: 1000,
		},
		Cache:    config.CacheConfig{Driver: "memory", PreloadTimeout: time.Second},
		Identity: config.IdentityConfig{SecretKey: nostr.GeneratePrivateKey()},
		Workers:  config.WorkersConfig{Count: 2, QueueSize: 64},
	}
}

func buildTestEngine(t *testing.T, factory *fakeFactory) *Engine {
	t.Helper()
	b := NewEngineBuilder(context.Background(), testConfig(t)).WithConnectionFactory(factory)
	require.NoError(t, b.BuildIdentity())
	require.NoError(t, b.BuildCache())
	b.BuildWorkers()
	b.BuildQueryLayer()
	b.BuildPool()
	eng, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng
}

func connectRelay(t *testing.T, eng *Engine, factory *fakeFactory, address string) *fakeConn {
	t.Helper()
	before := len(factory.conns())
	eng.Connect(address, models.DefaultConnectOptions())
	require.Eventually(t, func() bool {
		conns := factory.conns()
		return len(conns) > before && conns[len(conns)-1].IsConnected()
	}, time.Second, 5*time.Millisecond)
	conns := factory.conns()
	return conns[len(conns)-1]
}

func signedEvent(t *testing.T, kind int, content string) *nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	evt := &nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      nostr.Tags{},
	}
	require.NoError(t, evt.Sign(sk))
	return evt
}

/* --- | Tests | --- */

func TestEngineRoutesInboundEventsIntoStore(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})
	_, ok := conn.subscription("feed")
	require.True(t, ok, "submission should fan out to the connected relay")

	evt := signedEvent(t, nostr.KindTextNote, "hello")
	conn.handler.OnEvent("feed", evt)

	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, evt.ID, st.Events()[0].ID)
}

func TestEngineRoutesContinuationSuffixToParent(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "abc",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	// Inbound id "abc-2" has no exact registry entry and must truncate to "abc".
	evt := signedEvent(t, nostr.KindTextNote, "continuation")
	conn.handler.OnEvent("abc-2", evt)

	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngineDropsEventForUnknownSubscription(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "known",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	conn.handler.OnEvent("stranger", signedEvent(t, nostr.KindTextNote, "lost"))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, st.Len())
}

func TestEngineDropsInvalidSignature(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	evt := signedEvent(t, nostr.KindTextNote, "tampered")
	evt.Content = "rewritten after signing"
	conn.handler.OnEvent("feed", evt)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, st.Len())
}

func TestEngineDropsRepeatDeliveryAcrossRelays(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn1 := connectRelay(t, eng, factory, "wss://one.example.org")
	conn2 := connectRelay(t, eng, factory, "wss://two.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	evt := signedEvent(t, nostr.KindTextNote, "same event twice")
	conn1.handler.OnEvent("feed", evt)
	conn2.handler.OnEvent("feed", evt)

	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, st.Len())
}

func TestEngineEOSEClearsLoadingFlag(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})
	require.True(t, st.Loading())

	conn.handler.OnEndOfStoredEvents("feed")
	assert.False(t, st.Loading())
}

func TestEngineEOSEForContinuationClearsParent(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	st := eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})
	require.True(t, st.Loading())

	conn.handler.OnEndOfStoredEvents("feed-1")
	assert.False(t, st.Loading())
}

func TestEngineCachesProfileEventsThroughWorkers(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)
	conn := connectRelay(t, eng, factory, "wss://relay.example.org")

	eng.Submit(store.PubkeyLatest, &models.Request{
		ID:      "profiles",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindProfileMetadata}}},
	})

	sk := nostr.GeneratePrivateKey()
	evt := &nostr.Event{
		Kind:      nostr.KindProfileMetadata,
		CreatedAt: nostr.Now(),
		Content:   `{"name":"alice","about":"tests"}`,
		Tags:      nostr.Tags{},
	}
	require.NoError(t, evt.Sign(sk))
	conn.handler.OnEvent("profiles", evt)

	require.Eventually(t, func() bool {
		rec, ok := eng.Cache().Profile(evt.PubKey)
		return ok && rec.Name == "alice"
	}, time.Second, 5*time.Millisecond)
}

func TestEngineSnapshotAndHook(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)

	var notified int
	unhook := eng.Hook(func() { notified++ })
	defer unhook()

	eng.Submit(store.Flat, &models.Request{
		ID:      "feed",
		Filters: []nostr.Filter{{Kinds: []int{nostr.KindTextNote}}},
	})

	snap := eng.Snapshot()
	require.Len(t, snap.Queries, 1)
	assert.Equal(t, "feed", snap.Queries[0].ID)
	assert.False(t, snap.Queries[0].Closing)
	assert.Equal(t, 1, notified)

	eng.Cancel("feed")
	assert.True(t, eng.Snapshot().Queries[0].Closing)
	eng.Uncancel("feed")
	assert.False(t, eng.Snapshot().Queries[0].Closing)
}

func TestEngineStartClosesCacheReady(t *testing.T) {
	factory := &fakeFactory{}
	eng := buildTestEngine(t, factory)

	require.NoError(t, eng.Start(context.Background()))

	select {
	case <-eng.CacheReady():
	case <-time.After(time.Second):
		t.Fatal("cache preload never signalled readiness")
	}
}
