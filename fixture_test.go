package iedserver_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/marrasen/iedserver"
	"github.com/marrasen/iedserver/memengine"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fixture struct {
	eng   *memengine.Engine
	model *iedserver.IedModel
	srv   *iedserver.IedServer
	clock *clock
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, opts ...iedserver.Option) *fixture {
	t.Helper()
	f := &fixture{
		eng:   memengine.NewSimpleIO(memengine.WithLogger(discard)),
		clock: newClock(),
		reg:   prometheus.NewRegistry(),
	}
	f.model = iedserver.NewIedModel(f.eng)
	base := []iedserver.Option{
		iedserver.WithLogger(discard),
		iedserver.WithClock(f.clock.Now),
		iedserver.WithMetrics(f.reg),
	}
	srv, err := iedserver.NewServer(f.model, f.eng, append(base, opts...)...)
	require.NoError(t, err)
	f.srv = srv
	t.Cleanup(srv.Destroy)
	return f
}

func (f *fixture) node(t *testing.T, ref string) iedserver.ModelNode {
	t.Helper()
	n, err := f.model.GetModelNodeByObjectReference(ref)
	require.NoError(t, err)
	return n
}

func (f *fixture) do(t *testing.T, ref string) *iedserver.DataObject {
	t.Helper()
	do, ok := f.node(t, ref).(*iedserver.DataObject)
	require.True(t, ok, "%s is not a data object", ref)
	return do
}

func (f *fixture) da(t *testing.T, ref string) *iedserver.DataAttribute {
	t.Helper()
	da, ok := f.node(t, ref).(*iedserver.DataAttribute)
	require.True(t, ok, "%s is not a data attribute", ref)
	return da
}

func (f *fixture) connect(t *testing.T, peer string) iedserver.Handle {
	t.Helper()
	h, err := f.eng.SimulateConnect(peer)
	require.NoError(t, err)
	return h
}

func (f *fixture) tick() {
	f.eng.SimulateTick(f.clock.Now())
}

func (f *fixture) boolValue(t *testing.T, ref string) bool {
	t.Helper()
	v, err := f.srv.GetAttributeValue(f.da(t, ref))
	require.NoError(t, err)
	b, err := v.Bool()
	require.NoError(t, err)
	return b
}

// selectEvent records one select state change.
type selectEvent struct {
	selected bool
	reason   iedserver.SelectStateChangedReason
}

type selectRecorder struct {
	mu     sync.Mutex
	events []selectEvent
}

func (r *selectRecorder) handler(_ *iedserver.ControlAction, selected bool, reason iedserver.SelectStateChangedReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, selectEvent{selected, reason})
}

func (r *selectRecorder) get() []selectEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]selectEvent(nil), r.events...)
}

const (
	spcso1 = "simpleIOGenericIO/GGIO1.SPCSO1"
	spcso2 = "simpleIOGenericIO/GGIO1.SPCSO2"
	spcso3 = "simpleIOGenericIO/GGIO1.SPCSO3"
	spcso4 = "simpleIOGenericIO/GGIO1.SPCSO4"
)
