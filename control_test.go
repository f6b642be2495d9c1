package iedserver_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marrasen/iedserver"
)

func assertNegative(t *testing.T, resp iedserver.ControlResponse, accessError iedserver.MmsDataAccessError, cause iedserver.ControlAddCause) {
	t.Helper()
	assert.Equal(t, iedserver.CONTROL_RESULT_FAILED, resp.Result)
	assert.Equal(t, accessError, resp.AccessError)
	assert.Equal(t, cause, resp.AddCause)
}

func assertPositive(t *testing.T, resp iedserver.ControlResponse) {
	t.Helper()
	assert.Equal(t, iedserver.CONTROL_RESULT_OK, resp.Result)
	assert.Equal(t, iedserver.DATA_ACCESS_ERROR_SUCCESS, resp.AccessError)
}

// switchHandler mirrors the control value into stVal the way an
// application drives an output.
func switchHandler(t *testing.T, f *fixture, do *iedserver.DataObject) iedserver.ControlHandler {
	stVal, err := do.ChildWithFC("stVal", iedserver.ST)
	require.NoError(t, err)
	return func(action *iedserver.ControlAction, ctlVal iedserver.MmsValue, test bool) iedserver.ControlHandlerResult {
		if test {
			return iedserver.CONTROL_RESULT_OK
		}
		on, err := action.CtlValBool()
		if err != nil {
			return iedserver.CONTROL_RESULT_FAILED
		}
		if err := f.srv.UpdateBooleanAttributeValue(stVal, on); err != nil {
			return iedserver.CONTROL_RESULT_FAILED
		}
		return iedserver.CONTROL_RESULT_OK
	}
}

func TestDirectOperate(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	conn := f.connect(t, "10.0.0.5:40001")

	var got *iedserver.ControlAction
	handler := switchHandler(t, f, do)
	f.srv.SetControlHandler(do, func(a *iedserver.ControlAction, v iedserver.MmsValue, test bool) iedserver.ControlHandlerResult {
		got = a
		return handler(a, v, test)
	})

	resp := f.eng.SimulateControl(iedserver.ControlRequest{
		Service:    iedserver.CONTROL_SERVICE_OPERATE,
		Object:     do.Handle(),
		Connection: conn,
		CtlVal:     iedserver.NewBooleanValue(true),
		OrCat:      iedserver.OR_CAT_STATION_CONTROL,
		OrIdent:    []byte("HMI\xe9"),
		CtlNum:     7,
	})
	assertPositive(t, resp)
	assert.True(t, f.boolValue(t, spcso1+".stVal"))

	require.NotNil(t, got)
	assert.Same(t, do, got.ControlObject())
	assert.False(t, got.IsSelect())
	assert.Equal(t, iedserver.OR_CAT_STATION_CONTROL, got.OrCat())
	assert.Equal(t, "HMIé", got.OrIdentString())
	assert.Equal(t, 7, got.CtlNum())
	require.NotNil(t, got.ClientConnection())
	assert.Equal(t, "10.0.0.5:40001", got.ClientConnection().PeerAddress())
	assert.Empty(t, f.eng.CommandTerminations(), "direct normal sends no termination")
}

func TestOperateWithoutControlHandler(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)

	var checked, waited bool
	f.srv.SetPerformCheckHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool, bool) iedserver.CheckHandlerResult {
		checked = true
		return iedserver.CONTROL_ACCEPTED
	})
	f.srv.SetWaitForExecutionHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool, bool) iedserver.ControlHandlerResult {
		waited = true
		return iedserver.CONTROL_RESULT_OK
	})

	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_NOT_SUPPORTED)
	assert.False(t, checked)
	assert.False(t, waited)

	// An object without any handler is rejected the same way.
	other := f.do(t, spcso3)
	resp = f.eng.SimulateOperate(other.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_NOT_SUPPORTED)
}

func TestStatusOnlyObjectRejected(t *testing.T) {
	f := newFixture(t)
	f.eng.SetControlModel(f.eng.Handle(spcso1), iedserver.CONTROL_MODEL_STATUS_ONLY, 0)
	do := f.do(t, spcso1)
	called := false
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		called = true
		return iedserver.CONTROL_RESULT_OK
	})

	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_NOT_SUPPORTED)
	assert.False(t, called)
	assert.Equal(t, iedserver.CONTROL_MODEL_STATUS_ONLY, f.srv.ControlModel(do))
}

func TestSelectOnDirectObjectRejected(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	resp := f.eng.SimulateSelect(do.Handle(), 0)
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_NOT_SUPPORTED)
}

func TestSBOOperateWithoutSelect(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	conn := f.connect(t, "10.0.0.5:40001")
	var calls atomic.Int32
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		calls.Add(1)
		return iedserver.CONTROL_RESULT_OK
	})

	resp := f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)
	assert.Zero(t, calls.Load())
}

func TestSBOSelectOperate(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	conn := f.connect(t, "10.0.0.5:40001")

	var rec selectRecorder
	var checks []bool
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetPerformCheckHandler(do, func(a *iedserver.ControlAction, _ iedserver.MmsValue, _, _ bool) iedserver.CheckHandlerResult {
		checks = append(checks, a.IsSelect())
		return iedserver.CONTROL_ACCEPTED
	})
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), conn))
	assert.Equal(t, []selectEvent{{true, iedserver.SELECT_STATE_REASON_SELECTED}}, rec.get())

	assertPositive(t, f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(true)))
	assert.True(t, f.boolValue(t, spcso2+".stVal"))
	assert.Equal(t, []bool{true, false}, checks, "check runs on select and on operate")
	assert.Equal(t, []selectEvent{
		{true, iedserver.SELECT_STATE_REASON_SELECTED},
		{false, iedserver.SELECT_STATE_REASON_OPERATED},
	}, rec.get())

	// The select is consumed by the operate.
	resp := f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(false))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)
}

func TestSBOSelectConflicts(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	a := f.connect(t, "10.0.0.5:40001")
	b := f.connect(t, "10.0.0.6:40002")
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), a))

	resp := f.eng.SimulateSelect(do.Handle(), b)
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_OBJECT_ALREADY_SELECTED)

	resp = f.eng.SimulateOperate(do.Handle(), b, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)

	resp = f.eng.SimulateCancel(do.Handle(), b)
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_LOCKED_BY_OTHER_CLIENT)

	assertPositive(t, f.eng.SimulateOperate(do.Handle(), a, iedserver.NewBooleanValue(true)))
}

func TestCheckRejects(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))
	f.srv.SetPerformCheckHandler(do, func(a *iedserver.ControlAction, _ iedserver.MmsValue, _, interlock bool) iedserver.CheckHandlerResult {
		if interlock {
			a.SetAddCause(iedserver.ADD_CAUSE_BLOCKED_BY_INTERLOCKING)
			return iedserver.CONTROL_OBJECT_ACCESS_DENIED
		}
		return iedserver.CONTROL_TEMPORARILY_UNAVAILABLE
	})

	resp := f.eng.SimulateSelect(do.Handle(), 0)
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_SELECT_FAILED)

	resp = f.eng.SimulateControl(iedserver.ControlRequest{
		Service:        iedserver.CONTROL_SERVICE_SELECT_WITH_VALUE,
		Object:         do.Handle(),
		CtlVal:         iedserver.NewBooleanValue(true),
		InterlockCheck: true,
	})
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_BLOCKED_BY_INTERLOCKING)
	assert.Empty(t, rec.get(), "a rejected select never reaches Selected")
	assert.False(t, f.boolValue(t, spcso2+".stVal"))
}

func TestControlFailureReportsHardwareFault(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	f.srv.SetControlHandler(do, func(a *iedserver.ControlAction, _ iedserver.MmsValue, _ bool) iedserver.ControlHandlerResult {
		a.SetError(iedserver.CONTROL_ERROR_OPERATOR_TEST)
		a.SetAddCause(iedserver.ADD_CAUSE_BLOCKED_BY_PROCESS)
		return iedserver.CONTROL_RESULT_FAILED
	})

	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_HARDWARE_FAULT, iedserver.ADD_CAUSE_BLOCKED_BY_PROCESS)
	assert.Equal(t, iedserver.CONTROL_ERROR_OPERATOR_TEST, resp.LastApplError)

	// The object is idle again.
	f.srv.SetControlHandler(do, switchHandler(t, f, do))
	assertPositive(t, f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true)))
}

func TestSelectTimeout(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), 0))

	f.clock.Advance(iedserver.DefaultSboTimeout - time.Second)
	f.tick()
	assert.Len(t, rec.get(), 1, "still selected before the deadline")

	f.clock.Advance(time.Second)
	f.tick()
	assert.Equal(t, selectEvent{false, iedserver.SELECT_STATE_REASON_TIMEOUT}, rec.get()[1])

	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)
}

func TestSelectTimeoutFromEngine(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso4)
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), 0))
	f.clock.Advance(10 * time.Second)

	// Operate after the deadline but before any tick still times out.
	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)
	assert.Equal(t, []selectEvent{
		{true, iedserver.SELECT_STATE_REASON_SELECTED},
		{false, iedserver.SELECT_STATE_REASON_TIMEOUT},
	}, rec.get())
}

func TestSelectTimeoutFromConfig(t *testing.T) {
	cfg := iedserver.DefaultConfig()
	cfg.Control.DefaultSboTimeout = iedserver.Duration{Duration: 2 * time.Second}
	f := newFixture(t, iedserver.WithConfig(cfg))
	do := f.do(t, spcso2)
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), 0))
	f.clock.Advance(2 * time.Second)
	f.tick()
	assert.Equal(t, []selectEvent{
		{true, iedserver.SELECT_STATE_REASON_SELECTED},
		{false, iedserver.SELECT_STATE_REASON_TIMEOUT},
	}, rec.get())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	conn := f.connect(t, "10.0.0.5:40001")
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	resp := f.eng.SimulateCancel(do.Handle(), conn)
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, iedserver.ADD_CAUSE_OBJECT_NOT_SELECTED)

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), conn))
	assertPositive(t, f.eng.SimulateCancel(do.Handle(), conn))
	assert.Equal(t, selectEvent{false, iedserver.SELECT_STATE_REASON_CANCELED}, rec.get()[1])

	// A canceled object can be selected again.
	assertPositive(t, f.eng.SimulateSelect(do.Handle(), conn))
}

func TestDisconnectReleasesSelection(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	a := f.connect(t, "10.0.0.5:40001")
	b := f.connect(t, "10.0.0.6:40002")
	var rec selectRecorder
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), a))
	f.eng.SimulateDisconnect(a)
	assert.Equal(t, selectEvent{false, iedserver.SELECT_STATE_REASON_DISCONNECTED}, rec.get()[1])

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), b))
}

func TestControlFromClosedConnectionRejected(t *testing.T) {
	f := newFixture(t)
	sbo := f.do(t, spcso2)
	direct := f.do(t, spcso1)
	a := f.connect(t, "10.0.0.5:40001")
	b := f.connect(t, "10.0.0.6:40002")
	f.srv.SetControlHandler(sbo, switchHandler(t, f, sbo))
	f.srv.SetControlHandler(direct, switchHandler(t, f, direct))
	f.eng.SimulateDisconnect(a)

	assertNegative(t, f.eng.SimulateSelect(sbo.Handle(), a),
		iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS)
	assertNegative(t, f.eng.SimulateOperate(direct.Handle(), a, iedserver.NewBooleanValue(true)),
		iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS)
	assert.False(t, f.boolValue(t, spcso1+".stVal"))

	assertPositive(t, f.eng.SimulateSelect(sbo.Handle(), b))
}

func TestDisconnectDuringSelectCheck(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso2)
	a := f.connect(t, "10.0.0.5:40001")
	b := f.connect(t, "10.0.0.6:40002")
	f.srv.SetControlHandler(do, switchHandler(t, f, do))
	f.srv.SetPerformCheckHandler(do, func(ca *iedserver.ControlAction, _ iedserver.MmsValue, _, _ bool) iedserver.CheckHandlerResult {
		if ca.ClientConnection().Handle() == a {
			f.eng.SimulateDisconnect(a)
		}
		return iedserver.CONTROL_ACCEPTED
	})

	assertNegative(t, f.eng.SimulateSelect(do.Handle(), a),
		iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS)
	assertPositive(t, f.eng.SimulateSelect(do.Handle(), b))
}

func TestWaitForExecutionPolling(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)

	var polls, controls atomic.Int32
	f.srv.SetWaitForExecutionHandler(do, func(_ *iedserver.ControlAction, _ iedserver.MmsValue, _, synchro bool) iedserver.ControlHandlerResult {
		assert.True(t, synchro)
		if polls.Add(1) < 3 {
			return iedserver.CONTROL_RESULT_WAITING
		}
		return iedserver.CONTROL_RESULT_OK
	})
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		controls.Add(1)
		return iedserver.CONTROL_RESULT_OK
	})

	resp := f.eng.SimulateControl(iedserver.ControlRequest{
		Service:      iedserver.CONTROL_SERVICE_OPERATE,
		Object:       do.Handle(),
		CtlVal:       iedserver.NewBooleanValue(true),
		SynchroCheck: true,
	})
	assertPositive(t, resp)
	assert.EqualValues(t, 1, polls.Load())
	assert.Zero(t, controls.Load())

	resp = f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(false))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION)

	f.tick()
	assert.EqualValues(t, 2, polls.Load())
	assert.Zero(t, controls.Load())

	f.tick()
	assert.EqualValues(t, 3, polls.Load())
	assert.EqualValues(t, 1, controls.Load())

	f.tick()
	assert.EqualValues(t, 3, polls.Load(), "idle objects are not polled")
}

func TestEnhancedAsyncTermination(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso3)
	conn := f.connect(t, "10.0.0.5:40001")

	var calls atomic.Int32
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		if calls.Add(1) == 1 {
			return iedserver.CONTROL_RESULT_WAITING
		}
		return iedserver.CONTROL_RESULT_OK
	})

	assertPositive(t, f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(true)))
	assert.Empty(t, f.eng.CommandTerminations())

	f.tick()
	terms := f.eng.CommandTerminations()
	require.Len(t, terms, 1)
	assert.Equal(t, do.Handle(), terms[0].Object)
	assert.Equal(t, conn, terms[0].Connection)
	assert.True(t, terms[0].Success)
}

func TestEnhancedAsyncFailure(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso4)
	conn := f.connect(t, "10.0.0.5:40001")

	var rec selectRecorder
	var calls atomic.Int32
	f.srv.SetSelectStateChangedHandler(do, rec.handler)
	f.srv.SetControlHandler(do, func(a *iedserver.ControlAction, _ iedserver.MmsValue, _ bool) iedserver.ControlHandlerResult {
		if calls.Add(1) == 1 {
			return iedserver.CONTROL_RESULT_WAITING
		}
		a.SetAddCause(iedserver.ADD_CAUSE_INVALID_POSITION)
		return iedserver.CONTROL_RESULT_FAILED
	})

	assertPositive(t, f.eng.SimulateSelect(do.Handle(), conn))
	assertPositive(t, f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(true)))
	f.tick()

	terms := f.eng.CommandTerminations()
	require.Len(t, terms, 1)
	assert.False(t, terms[0].Success)
	assert.Equal(t, iedserver.ADD_CAUSE_INVALID_POSITION, terms[0].AddCause)
	assert.Equal(t, iedserver.CONTROL_ERROR_UNKNOWN, terms[0].LastApplError)
	assert.Equal(t, selectEvent{false, iedserver.SELECT_STATE_REASON_OPERATE_FAILED}, rec.get()[1])
}

func TestNoTerminationAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso3)
	conn := f.connect(t, "10.0.0.5:40001")

	var calls atomic.Int32
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		if calls.Add(1) == 1 {
			return iedserver.CONTROL_RESULT_WAITING
		}
		return iedserver.CONTROL_RESULT_OK
	})

	assertPositive(t, f.eng.SimulateOperate(do.Handle(), conn, iedserver.NewBooleanValue(true)))
	f.eng.SimulateDisconnect(conn)
	f.tick()

	assert.EqualValues(t, 2, calls.Load(), "running executions finish after a disconnect")
	assert.Empty(t, f.eng.CommandTerminations())
}

func TestTimeActivatedOperate(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	at := f.clock.Now().Add(5 * time.Second)
	resp := f.eng.SimulateControl(iedserver.ControlRequest{
		Service:     iedserver.CONTROL_SERVICE_OPERATE,
		Object:      do.Handle(),
		CtlVal:      iedserver.NewBooleanValue(true),
		ControlTime: uint64(at.UnixMilli()),
	})
	assertPositive(t, resp)
	assert.False(t, f.boolValue(t, spcso1+".stVal"))

	f.clock.Advance(4 * time.Second)
	f.tick()
	assert.False(t, f.boolValue(t, spcso1+".stVal"))

	f.clock.Advance(time.Second)
	f.tick()
	assert.True(t, f.boolValue(t, spcso1+".stVal"))
}

func TestTimeActivatedOperateCanceled(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	conn := f.connect(t, "10.0.0.5:40001")
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	resp := f.eng.SimulateControl(iedserver.ControlRequest{
		Service:     iedserver.CONTROL_SERVICE_OPERATE,
		Object:      do.Handle(),
		Connection:  conn,
		CtlVal:      iedserver.NewBooleanValue(true),
		ControlTime: uint64(f.clock.Now().Add(time.Second).UnixMilli()),
	})
	assertPositive(t, resp)
	assertPositive(t, f.eng.SimulateCancel(do.Handle(), conn))

	f.clock.Advance(2 * time.Second)
	f.tick()
	assert.False(t, f.boolValue(t, spcso1+".stVal"))
}

func TestConcurrentOperateRejectedWhileBusy(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.srv.SetControlHandler(do, func(*iedserver.ControlAction, iedserver.MmsValue, bool) iedserver.ControlHandlerResult {
		close(entered)
		<-release
		return iedserver.CONTROL_RESULT_OK
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var first iedserver.ControlResponse
	go func() {
		defer wg.Done()
		first = f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	}()
	<-entered

	resp := f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(false))
	assertNegative(t, resp, iedserver.DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, iedserver.ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION)

	// Ticks skip an object whose handler is running.
	f.tick()

	close(release)
	wg.Wait()
	assertPositive(t, first)
}

func TestControlMetrics(t *testing.T) {
	f := newFixture(t)
	do := f.do(t, spcso1)
	f.srv.SetControlHandler(do, switchHandler(t, f, do))

	f.eng.SimulateOperate(do.Handle(), 0, iedserver.NewBooleanValue(true))
	f.eng.SimulateSelect(do.Handle(), 0)

	assert.Equal(t, 1.0, counterValue(t, f.reg, "iedserver_control_services_total", map[string]string{"service": "operate", "result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, f.reg, "iedserver_control_services_total", map[string]string{"service": "select", "result": "failed"}))
}
