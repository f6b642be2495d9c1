package iedserver_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrasen/iedserver"
	"github.com/marrasen/iedserver/memengine"
)

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	eng, model := newSimpleIOModel()
	cfg := iedserver.DefaultConfig()
	cfg.Server.Port = 0

	_, err := iedserver.NewServer(model, eng, iedserver.WithConfig(cfg), iedserver.WithLogger(discard))
	assert.Error(t, err)
	assert.Zero(t, eng.Installs("connection"))
}

func TestServerLifecycle(t *testing.T) {
	cfg := iedserver.DefaultConfig()
	cfg.Server.LocalIP = "127.0.0.1"
	cfg.Server.Port = 10102
	cfg.Server.Vendor = "marrasen"
	cfg.Server.Model = "simpleIO"
	cfg.Server.Revision = "1.0"
	f := newFixture(t, iedserver.WithConfig(cfg))

	vendor, model, revision := f.eng.Identity()
	assert.Equal(t, []string{"marrasen", "simpleIO", "1.0"}, []string{vendor, model, revision})
	assert.Equal(t, memengine.Version, f.srv.Version())

	require.NoError(t, f.srv.Start(context.Background()))
	assert.True(t, f.srv.IsRunning())
	assert.ErrorIs(t, f.srv.Start(context.Background()), iedserver.ErrServerRunning)

	conn := f.connect(t, "10.1.1.1:1234")
	c := f.srv.Connections()[0]
	assert.Equal(t, "127.0.0.1:10102", c.LocalAddress())
	assert.Equal(t, conn, c.Handle())

	f.srv.Stop()
	assert.False(t, f.srv.IsRunning())
	assert.False(t, c.IsValid(), "stopping closes every connection")

	f.srv.Destroy()
	assert.ErrorIs(t, f.srv.Start(context.Background()), iedserver.ErrServerStopped)
	assert.ErrorIs(t, f.srv.UpdateBooleanAttributeValue(f.da(t, spcso1+".stVal"), true), iedserver.ErrServerStopped)
}

func TestEngineTicker(t *testing.T) {
	eng := memengine.NewSimpleIO(memengine.WithLogger(discard), memengine.WithTickInterval(5*time.Millisecond))
	model := iedserver.NewIedModel(eng)
	cfg := iedserver.DefaultConfig()
	cfg.Control.DefaultSboTimeout = iedserver.Duration{Duration: 20 * time.Millisecond}
	srv, err := iedserver.NewServer(model, eng, iedserver.WithConfig(cfg), iedserver.WithLogger(discard))
	require.NoError(t, err)
	defer srv.Destroy()

	n, err := model.GetModelNodeByObjectReference(spcso2)
	require.NoError(t, err)
	do := n.(*iedserver.DataObject)

	deselected := make(chan iedserver.SelectStateChangedReason, 1)
	srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		return iedserver.CONTROL_RESULT_OK
	})
	srv.SetSelectStateChangedHandler(do, func(_ *iedserver.ControlAction, selected bool, reason iedserver.SelectStateChangedReason) {
		if !selected {
			deselected <- reason
		}
	})
	require.NoError(t, srv.Start(context.Background()))

	assertPositive(t, eng.SimulateSelect(do.Handle(), 0))
	select {
	case reason := <-deselected:
		assert.Equal(t, iedserver.SELECT_STATE_REASON_TIMEOUT, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("select did not time out")
	}
}

func TestUpdateAndReadValues(t *testing.T) {
	f := newFixture(t)
	mag := f.da(t, "simpleIOGenericIO/GGIO1.AnIn1.mag.f")
	q := f.da(t, "simpleIOGenericIO/GGIO1.AnIn1.q")
	ts := f.da(t, "simpleIOGenericIO/GGIO1.AnIn1.t")

	f.srv.LockDataModel()
	require.NoError(t, f.srv.UpdateFloatAttributeValue(mag, 42.5))
	require.NoError(t, f.srv.UpdateQuality(q, iedserver.QUALITY_VALIDITY_QUESTIONABLE|iedserver.QUALITY_DETAIL_OLD_DATA))
	require.NoError(t, f.srv.UpdateUTCTimeAttributeValue(ts, f.clock.Now().UnixMilli()))
	f.srv.UnlockDataModel()
	assert.Equal(t, 3, f.eng.Updates())

	v, err := f.srv.GetAttributeValue(mag)
	require.NoError(t, err)
	fv, err := v.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 42.5, fv, 1e-6)

	v, err = f.srv.GetAttributeValue(q)
	require.NoError(t, err)
	bits, err := v.Int64()
	require.NoError(t, err)
	assert.Equal(t, iedserver.QUALITY_VALIDITY_QUESTIONABLE, iedserver.Quality(bits).Validity())

	v, err = f.srv.GetAttributeValue(ts)
	require.NoError(t, err)
	ms, err := v.UTCTimeMs()
	require.NoError(t, err)
	assert.Equal(t, uint64(f.clock.Now().UnixMilli()), ms)

	stamp := iedserver.NewTimestamp(f.clock.Now())
	stamp.ClockNotSynchronized = true
	require.NoError(t, f.srv.UpdateTimestampAttributeValue(ts, stamp))
	v, err = f.srv.GetAttributeValue(ts)
	require.NoError(t, err)
	assert.Equal(t, stamp, v.Value)

	// Constructed attributes cannot be written directly.
	err = f.srv.UpdateAttributeValue(f.da(t, "simpleIOGenericIO/GGIO1.AnIn1.mag"), iedserver.NewFloatValue(1))
	assert.ErrorIs(t, err, memengine.ErrConstructed)
	assert.ErrorIs(t, f.srv.UpdateAttributeValue(nil, iedserver.NewFloatValue(1)), iedserver.ErrNodeNotFound)
}

func TestLockDataModelBlocksClients(t *testing.T) {
	f := newFixture(t)
	f.srv.SetWriteAccessPolicy(iedserver.DC, iedserver.ACCESS_POLICY_ALLOW)
	vendor := f.da(t, "simpleIOGenericIO/LLN0.NamPlt.vendor")

	f.srv.LockDataModel()
	require.NoError(t, f.srv.UpdateVisibleStringAttributeValue(vendor, "first"))

	written := make(chan iedserver.MmsDataAccessError, 1)
	go func() {
		written <- f.eng.SimulateWrite(0, vendor.Handle(), iedserver.NewVisibleStringValue("client"))
	}()
	ggio := f.node(t, "simpleIOGenericIO/GGIO1")
	read := make(chan iedserver.MmsDataAccessError, 1)
	go func() {
		read <- f.eng.SimulateRead(0, ggio.Handle(), 0, iedserver.MX)
	}()

	select {
	case <-written:
		t.Fatal("client write completed while the data model was locked")
	case <-read:
		t.Fatal("client read completed while the data model was locked")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, f.srv.UpdateVisibleStringAttributeValue(vendor, "second"))
	v, err := f.srv.GetAttributeValue(vendor)
	require.NoError(t, err)
	assert.Equal(t, "second", v.Value, "no client write between locked updates")
	f.srv.UnlockDataModel()

	select {
	case res := <-written:
		assert.Equal(t, iedserver.DATA_ACCESS_ERROR_SUCCESS, res)
	case <-time.After(2 * time.Second):
		t.Fatal("client write still blocked after UnlockDataModel")
	}
	select {
	case res := <-read:
		assert.Equal(t, iedserver.DATA_ACCESS_ERROR_SUCCESS, res)
	case <-time.After(2 * time.Second):
		t.Fatal("client read still blocked after UnlockDataModel")
	}
	v, err = f.srv.GetAttributeValue(vendor)
	require.NoError(t, err)
	assert.Equal(t, "client", v.Value)
}

func TestTypedUpdates(t *testing.T) {
	f := newFixture(t)
	vendor := f.da(t, "simpleIOGenericIO/LLN0.NamPlt.vendor")
	mod := f.da(t, "simpleIOGenericIO/LLN0.Mod.stVal")
	ctlNum := f.da(t, spcso1+".Oper.ctlNum")
	ind := f.da(t, "simpleIOGenericIO/GGIO1.Ind1.stVal")

	require.NoError(t, f.srv.UpdateVisibleStringAttributeValue(vendor, "marrasen"))
	require.NoError(t, f.srv.UpdateInt32AttributeValue(mod, 5))
	require.NoError(t, f.srv.UpdateUnsignedAttributeValue(ctlNum, 200))
	require.NoError(t, f.srv.UpdateInt64AttributeValue(mod, 3))
	require.NoError(t, f.srv.UpdateBooleanAttributeValue(ind, true))

	v, err := f.srv.GetAttributeValue(vendor)
	require.NoError(t, err)
	s, err := v.Str()
	require.NoError(t, err)
	assert.Equal(t, "marrasen", s)

	v, err = f.srv.GetAttributeValue(mod)
	require.NoError(t, err)
	assert.Equal(t, iedserver.Int64, v.Type)
	assert.True(t, f.boolValue(t, "simpleIOGenericIO/GGIO1.Ind1.stVal"))
}

func TestGetFunctionalConstrainedData(t *testing.T) {
	f := newFixture(t)
	anIn := f.do(t, "simpleIOGenericIO/GGIO1.AnIn2")
	require.NoError(t, f.srv.UpdateFloatAttributeValue(f.da(t, "simpleIOGenericIO/GGIO1.AnIn2.mag.f"), 7))

	v, err := f.srv.GetFunctionalConstrainedData(anIn, iedserver.MX)
	require.NoError(t, err)
	assert.Equal(t, iedserver.Structure, v.Type)
	elems := v.Value.([]*iedserver.MmsValue)
	require.Len(t, elems, 3, "mag, q and t")
	mag := elems[0].Value.([]*iedserver.MmsValue)
	require.Len(t, mag, 1)
	assert.Equal(t, float32(7), mag[0].Value)

	_, err = f.srv.GetFunctionalConstrainedData(anIn, iedserver.CO)
	assert.ErrorIs(t, err, iedserver.ErrNodeNotFound)
}

func TestPublishingAndTimeQuality(t *testing.T) {
	f := newFixture(t)
	f.srv.EnableGoosePublishing()
	assert.True(t, f.eng.GooseEnabled())
	f.srv.DisableGoosePublishing()
	assert.False(t, f.eng.GooseEnabled())

	tq := iedserver.TimeQuality{LeapSecondKnown: true, SubsecondPrecision: 10}
	f.srv.SetTimeQuality(tq)
	assert.Equal(t, tq, f.eng.TimeQuality())
}

func TestLogStorage(t *testing.T) {
	f := newFixture(t)

	storage, err := f.srv.NewLogStorage("memory", "")
	require.NoError(t, err)
	storage.SetMaxLogEntries(1000)
	limit, ok := f.eng.LogStorageMaxEntries(storage.Handle())
	require.True(t, ok)
	assert.Equal(t, 1000, limit)

	require.NoError(t, f.srv.SetLogStorage("GenericIO/LLN0$EventLog", storage))
	assert.Equal(t, storage.Handle(), f.eng.LogStorageOf("GenericIO/LLN0$EventLog"))
	assert.ErrorIs(t, f.srv.SetLogStorage("GenericIO/LLN0$Missing", storage), memengine.ErrUnknownLog)

	require.NoError(t, f.srv.SetLogStorage("GenericIO/LLN0$EventLog", nil))
	assert.Zero(t, f.eng.LogStorageOf("GenericIO/LLN0$EventLog"))
	storage.Close()
	storage.Close()
	_, ok = f.eng.LogStorageMaxEntries(storage.Handle())
	assert.False(t, ok)
}

func TestCapabilityAbsentWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	eng := memengine.NewSimpleIO(memengine.WithLogger(discard), memengine.WithoutLogService())
	srv, err := iedserver.NewServer(iedserver.NewIedModel(eng), eng, iedserver.WithLogger(logger))
	require.NoError(t, err)
	defer srv.Destroy()

	for i := 0; i < 3; i++ {
		_, err := srv.NewLogStorage("sqlite", "/tmp/log.db")
		assert.ErrorIs(t, err, iedserver.ErrCapabilityAbsent)
		err = srv.SetLogStorage("GenericIO/LLN0$EventLog", nil)
		assert.ErrorIs(t, err, iedserver.ErrCapabilityAbsent)
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "engine feature unavailable"), "one warning per call site")

	// The server keeps working.
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.IsRunning())
}
