package iedserver

import (
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/charmap"
)

// ControlHandler performs the actual operation. Returning
// CONTROL_RESULT_WAITING continues the execution asynchronously: the handler
// is polled again on every tick until it returns OK or FAILED.
type ControlHandler func(action *ControlAction, ctlVal MmsValue, test bool) ControlHandlerResult

// ControlWaitForExecutionHandler runs after the checks and before the
// control handler. CONTROL_RESULT_WAITING makes the server poll it again on
// the next tick. It is never called concurrently for the same object.
type ControlWaitForExecutionHandler func(action *ControlAction, ctlVal MmsValue, test, synchroCheck bool) ControlHandlerResult

// ControlPerformCheckHandler validates a select or operate before anything is
// actuated. It must not have side effects on the process.
type ControlPerformCheckHandler func(action *ControlAction, ctlVal MmsValue, test, interlockCheck bool) CheckHandlerResult

// ControlSelectStateChangedHandler is informed when an SBO object is selected
// or deselected.
type ControlSelectStateChangedHandler func(action *ControlAction, isSelected bool, reason SelectStateChangedReason)

type controlState int

const (
	controlIdle controlState = iota
	controlSelected
	controlWaitForActivation
	controlWaitForExecution
	controlOperating
)

func (s controlState) String() string {
	switch s {
	case controlIdle:
		return "idle"
	case controlSelected:
		return "selected"
	case controlWaitForActivation:
		return "wait-for-activation"
	case controlWaitForExecution:
		return "wait-for-execution"
	case controlOperating:
		return "operating"
	default:
		return "controlState(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s ControlService) String() string {
	switch s {
	case CONTROL_SERVICE_SELECT:
		return "select"
	case CONTROL_SERVICE_SELECT_WITH_VALUE:
		return "select_with_value"
	case CONTROL_SERVICE_OPERATE:
		return "operate"
	case CONTROL_SERVICE_CANCEL:
		return "cancel"
	default:
		return "unknown"
	}
}

func (r ControlHandlerResult) String() string {
	switch r {
	case CONTROL_RESULT_OK:
		return "ok"
	case CONTROL_RESULT_WAITING:
		return "waiting"
	default:
		return "failed"
	}
}

// ControlAction describes one control service invocation. It is passed to
// every handler of that invocation.
type ControlAction struct {
	object     *DataObject
	conn       *ClientConnection
	connHandle Handle
	isSelect   bool

	ctlVal         MmsValue
	test           bool
	orCat          OrCat
	orIdent        []byte
	ctlNum         int
	synchroCheck   bool
	interlockCheck bool
	controlTime    uint64
	t              Timestamp

	mu            sync.Mutex
	lastApplError ControlLastApplError
	errorSet      bool
	addCause      ControlAddCause
	addCauseSet   bool
}

func newControlAction(do *DataObject, conn *ClientConnection, req ControlRequest) *ControlAction {
	return &ControlAction{
		object:         do,
		conn:           conn,
		connHandle:     req.Connection,
		isSelect:       req.Service == CONTROL_SERVICE_SELECT || req.Service == CONTROL_SERVICE_SELECT_WITH_VALUE,
		ctlVal:         req.CtlVal,
		test:           req.Test,
		orCat:          req.OrCat,
		orIdent:        append([]byte(nil), req.OrIdent...),
		ctlNum:         req.CtlNum,
		synchroCheck:   req.SynchroCheck,
		interlockCheck: req.InterlockCheck,
		controlTime:    req.ControlTime,
		t:              req.T,
	}
}

// ControlObject returns the controllable data object.
func (a *ControlAction) ControlObject() *DataObject { return a.object }

// ClientConnection returns the requesting client, or nil for a locally
// initiated control.
func (a *ControlAction) ClientConnection() *ClientConnection { return a.conn }

func (a *ControlAction) IsSelect() bool       { return a.isSelect }
func (a *ControlAction) IsTest() bool         { return a.test }
func (a *ControlAction) OrCat() OrCat         { return a.orCat }
func (a *ControlAction) CtlNum() int          { return a.ctlNum }
func (a *ControlAction) SynchroCheck() bool   { return a.synchroCheck }
func (a *ControlAction) InterlockCheck() bool { return a.interlockCheck }
func (a *ControlAction) T() Timestamp         { return a.t }
func (a *ControlAction) CtlVal() MmsValue     { return a.ctlVal }

// OrIdent returns the raw originator identifier.
func (a *ControlAction) OrIdent() []byte {
	return append([]byte(nil), a.orIdent...)
}

// OrIdentString decodes the originator identifier as ISO 8859-1.
func (a *ControlAction) OrIdentString() string {
	b, err := charmap.ISO8859_1.NewDecoder().Bytes(a.orIdent)
	if err != nil {
		return string(a.orIdent)
	}
	return string(b)
}

// ControlTime is the scheduled execution time in ms since epoch, 0 when the
// operate is immediate.
func (a *ControlAction) ControlTime() uint64 { return a.controlTime }

// CtlValBool coerces the control value to bool.
func (a *ControlAction) CtlValBool() (bool, error) {
	return cast.ToBoolE(a.ctlVal.Value)
}

// CtlValInt coerces the control value to int64.
func (a *ControlAction) CtlValInt() (int64, error) {
	return cast.ToInt64E(a.ctlVal.Value)
}

// SetError sets the LastApplError reported with a negative response or
// command termination.
func (a *ControlAction) SetError(err ControlLastApplError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastApplError = err
	a.errorSet = true
}

// SetAddCause sets the AddCause reported with a negative response or
// command termination.
func (a *ControlAction) SetAddCause(cause ControlAddCause) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addCause = cause
	a.addCauseSet = true
}

func (a *ControlAction) reason(defaultCause ControlAddCause) (ControlLastApplError, ControlAddCause) {
	a.mu.Lock()
	defer a.mu.Unlock()
	lastApplError, addCause := CONTROL_ERROR_UNKNOWN, defaultCause
	if a.errorSet {
		lastApplError = a.lastApplError
	}
	if a.addCauseSet {
		addCause = a.addCause
	}
	return lastApplError, addCause
}

// negative builds a negative response. Causes set by a handler win over
// defaultCause.
func (a *ControlAction) negative(accessError MmsDataAccessError, defaultCause ControlAddCause) ControlResponse {
	lastApplError, addCause := a.reason(defaultCause)
	return ControlResponse{
		Result:        CONTROL_RESULT_FAILED,
		AccessError:   accessError,
		LastApplError: lastApplError,
		AddCause:      addCause,
	}
}

func positive() ControlResponse {
	return ControlResponse{Result: CONTROL_RESULT_OK, AccessError: DATA_ACCESS_ERROR_SUCCESS}
}

type controlHandlers struct {
	check            ControlPerformCheckHandler
	waitForExecution ControlWaitForExecutionHandler
	control          ControlHandler
	selectChanged    ControlSelectStateChangedHandler
}

// controlEntry is the handler set and select/operate state of one
// controllable object. busy is set while a handler of the object runs
// outside the lock.
type controlEntry struct {
	object *DataObject

	mu             sync.Mutex
	h              controlHandlers
	state          controlState
	busy           bool
	selectedBy     Handle
	selectDeadline time.Time
	selectAction   *ControlAction
	pending        *ControlAction
}

func (e *controlEntry) handlers() controlHandlers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h
}

// resetLocked returns the entry to Idle and hands back what the caller needs
// to report the deselect.
func (e *controlEntry) resetLocked() (*ControlAction, ControlSelectStateChangedHandler) {
	sel := e.selectAction
	if sel == nil {
		sel = e.pending
	}
	e.state = controlIdle
	e.busy = false
	e.selectedBy = 0
	e.selectDeadline = time.Time{}
	e.selectAction = nil
	e.pending = nil
	return sel, e.h.selectChanged
}

type controlTable struct {
	mu      sync.Mutex
	entries map[Handle]*controlEntry
}

func newControlTable() *controlTable {
	return &controlTable{entries: make(map[Handle]*controlEntry)}
}

// entry returns the entry for do, creating it under the table lock.
func (t *controlTable) entry(do *DataObject) *controlEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[do.handle]
	if !ok {
		e = &controlEntry{object: do}
		t.entries[do.handle] = e
	}
	return e
}

func (t *controlTable) lookup(h Handle) *controlEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[h]
}

func (t *controlTable) snapshot() []*controlEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*controlEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// SetControlHandler sets the operate handler of a controllable object.
// Without one, select and operate are rejected.
func (s *IedServer) SetControlHandler(do *DataObject, handler ControlHandler) {
	e := s.controls.entry(do)
	e.mu.Lock()
	e.h.control = handler
	e.mu.Unlock()
	s.installControlCallbacks()
}

// SetPerformCheckHandler sets the check handler. Without one every check
// is accepted.
func (s *IedServer) SetPerformCheckHandler(do *DataObject, handler ControlPerformCheckHandler) {
	e := s.controls.entry(do)
	e.mu.Lock()
	e.h.check = handler
	e.mu.Unlock()
	s.installControlCallbacks()
}

func (s *IedServer) SetWaitForExecutionHandler(do *DataObject, handler ControlWaitForExecutionHandler) {
	e := s.controls.entry(do)
	e.mu.Lock()
	e.h.waitForExecution = handler
	e.mu.Unlock()
	s.installControlCallbacks()
}

func (s *IedServer) SetSelectStateChangedHandler(do *DataObject, handler ControlSelectStateChangedHandler) {
	e := s.controls.entry(do)
	e.mu.Lock()
	e.h.selectChanged = handler
	e.mu.Unlock()
	s.installControlCallbacks()
}

// ControlModel returns the control model the engine configured for do.
func (s *IedServer) ControlModel(do *DataObject) ControlModel {
	return s.engine.ControlModel(do.handle)
}

func (s *IedServer) installControlCallbacks() {
	s.install(callbackControl, func() {
		s.engine.SetControlCallback(s.onControl)
		s.engine.SetTickCallback(s.Tick)
	})
}

func (s *IedServer) onControl(req ControlRequest) ControlResponse {
	resp := s.dispatchControl(req)
	s.metrics.observeControl(req.Service, resp.Result)
	s.logger.Debug("control service",
		"service", req.Service.String(),
		"object", uintptr(req.Object),
		"result", resp.Result.String(),
		"add_cause", int(resp.AddCause))
	return resp
}

func (s *IedServer) dispatchControl(req ControlRequest) ControlResponse {
	undefined := ControlResponse{
		Result:        CONTROL_RESULT_FAILED,
		AccessError:   DATA_ACCESS_ERROR_OBJECT_UNDEFINED,
		LastApplError: CONTROL_ERROR_UNKNOWN,
	}
	n, err := s.model.Resolve(req.Object)
	if err != nil {
		s.logger.Error("control on unresolvable object", "handle", uintptr(req.Object), "error", err)
		return undefined
	}
	do, err := asDataObject(n)
	if err != nil {
		s.logger.Error("control on non data object", "error", err)
		return undefined
	}

	a := newControlAction(do, s.conns.lookup(req.Connection), req)
	if req.Connection != 0 && a.conn == nil {
		// The association is already gone.
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS)
	}
	m := s.engine.ControlModel(req.Object)
	if m == CONTROL_MODEL_STATUS_ONLY {
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_NOT_SUPPORTED)
	}
	e := s.controls.lookup(req.Object)
	if e == nil {
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_NOT_SUPPORTED)
	}

	switch req.Service {
	case CONTROL_SERVICE_SELECT, CONTROL_SERVICE_SELECT_WITH_VALUE:
		return s.selectControl(e, m, a)
	case CONTROL_SERVICE_OPERATE:
		return s.operateControl(e, m, a)
	case CONTROL_SERVICE_CANCEL:
		return s.cancelControl(e, m, a)
	default:
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED, ADD_CAUSE_NOT_SUPPORTED)
	}
}

func (s *IedServer) selectControl(e *controlEntry, m ControlModel, a *ControlAction) ControlResponse {
	if !m.IsSBO() {
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_NOT_SUPPORTED)
	}
	e.mu.Lock()
	if e.h.control == nil {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_NOT_SUPPORTED)
	}
	if e.busy || e.state != controlIdle {
		cause := ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION
		if e.state == controlSelected {
			cause = ADD_CAUSE_OBJECT_ALREADY_SELECTED
		}
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, cause)
	}
	e.busy = true
	check := e.h.check
	e.mu.Unlock()

	res := CONTROL_ACCEPTED
	if check != nil {
		res = check(a, a.ctlVal, a.test, a.interlockCheck)
	}

	e.mu.Lock()
	e.busy = false
	if res != CONTROL_ACCEPTED {
		e.mu.Unlock()
		return a.negative(MmsDataAccessError(res), ADD_CAUSE_SELECT_FAILED)
	}
	if a.conn != nil && !a.conn.IsValid() {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS)
	}
	e.state = controlSelected
	e.selectedBy = a.connHandle
	e.selectDeadline = s.now().Add(s.sboTimeout(e.object))
	e.selectAction = a
	changed := e.h.selectChanged
	e.mu.Unlock()

	if changed != nil {
		changed(a, true, SELECT_STATE_REASON_SELECTED)
	}
	return positive()
}

func (s *IedServer) operateControl(e *controlEntry, m ControlModel, a *ControlAction) ControlResponse {
	now := s.now()
	e.mu.Lock()
	if e.h.control == nil {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_NOT_SUPPORTED)
	}
	if e.busy || e.state > controlSelected {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION)
	}
	if m.IsSBO() {
		if e.state != controlSelected || e.selectedBy != a.connHandle {
			e.mu.Unlock()
			return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_OBJECT_NOT_SELECTED)
		}
		if !now.Before(e.selectDeadline) {
			sel, changed := e.resetLocked()
			e.mu.Unlock()
			s.reportDeselect(changed, sel, SELECT_STATE_REASON_TIMEOUT)
			return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_OBJECT_NOT_SELECTED)
		}
	} else if e.state != controlIdle {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION)
	}
	e.busy = true
	check := e.h.check
	e.mu.Unlock()

	if check != nil {
		if res := check(a, a.ctlVal, a.test, a.interlockCheck); res != CONTROL_ACCEPTED {
			s.complete(e, m, a, false, false)
			return a.negative(MmsDataAccessError(res), ADD_CAUSE_UNKNOWN)
		}
	}

	if a.controlTime > uint64(now.UnixMilli()) {
		e.mu.Lock()
		e.state = controlWaitForActivation
		e.pending = a
		e.busy = false
		e.mu.Unlock()
		return positive()
	}
	return s.execute(e, m, a, controlWaitForExecution, false)
}

// execute runs the wait-for-execution stage (when from is
// controlWaitForExecution) and the control stage. The caller holds busy.
// async marks executions that continue after the operate response was
// already sent; they end with a command termination for enhanced models.
func (s *IedServer) execute(e *controlEntry, m ControlModel, a *ControlAction, from controlState, async bool) ControlResponse {
	h := e.handlers()
	if from == controlWaitForExecution && h.waitForExecution != nil {
		switch h.waitForExecution(a, a.ctlVal, a.test, a.synchroCheck) {
		case CONTROL_RESULT_WAITING:
			s.park(e, controlWaitForExecution, a)
			return positive()
		case CONTROL_RESULT_FAILED:
			return s.complete(e, m, a, false, async)
		}
	}
	if h.control == nil {
		return s.complete(e, m, a, false, async)
	}
	switch h.control(a, a.ctlVal, a.test) {
	case CONTROL_RESULT_OK:
		return s.complete(e, m, a, true, async)
	case CONTROL_RESULT_WAITING:
		s.park(e, controlOperating, a)
		return positive()
	default:
		return s.complete(e, m, a, false, async)
	}
}

func (s *IedServer) park(e *controlEntry, state controlState, a *ControlAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.pending = a
	e.busy = false
}

func (s *IedServer) complete(e *controlEntry, m ControlModel, a *ControlAction, success, async bool) ControlResponse {
	e.mu.Lock()
	_, changed := e.resetLocked()
	e.mu.Unlock()

	if m.IsSBO() {
		reason := SELECT_STATE_REASON_OPERATED
		if !success {
			reason = SELECT_STATE_REASON_OPERATE_FAILED
		}
		s.reportDeselect(changed, a, reason)
	}

	lastApplError, addCause := a.reason(ADD_CAUSE_UNKNOWN)
	if async && m.IsEnhanced() && (a.conn == nil || a.conn.IsValid()) {
		term := CommandTermination{Success: success}
		if !success {
			term.LastApplError = lastApplError
			term.AddCause = addCause
		}
		s.engine.SendCommandTermination(e.object.handle, a.connHandle, term)
	}
	if success {
		return positive()
	}
	return ControlResponse{
		Result:        CONTROL_RESULT_FAILED,
		AccessError:   DATA_ACCESS_ERROR_HARDWARE_FAULT,
		LastApplError: lastApplError,
		AddCause:      addCause,
	}
}

func (s *IedServer) cancelControl(e *controlEntry, m ControlModel, a *ControlAction) ControlResponse {
	e.mu.Lock()
	if e.busy || e.state == controlWaitForExecution || e.state == controlOperating {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE, ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION)
	}
	var owner Handle
	switch e.state {
	case controlSelected:
		owner = e.selectedBy
	case controlWaitForActivation:
		owner = e.pending.connHandle
	default:
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_OBJECT_NOT_SELECTED)
	}
	if owner != a.connHandle {
		e.mu.Unlock()
		return a.negative(DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED, ADD_CAUSE_LOCKED_BY_OTHER_CLIENT)
	}
	sel, changed := e.resetLocked()
	e.mu.Unlock()

	if m.IsSBO() {
		s.reportDeselect(changed, sel, SELECT_STATE_REASON_CANCELED)
	}
	return positive()
}

// Tick drives select timeouts, time activated operates and polling of
// handlers that returned CONTROL_RESULT_WAITING. The engine calls it
// periodically once control handlers are installed.
func (s *IedServer) Tick(now time.Time) {
	for _, e := range s.controls.snapshot() {
		s.tickControl(e, now)
	}
}

func (s *IedServer) tickControl(e *controlEntry, now time.Time) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return
	}
	switch e.state {
	case controlSelected:
		if now.Before(e.selectDeadline) {
			e.mu.Unlock()
			return
		}
		sel, changed := e.resetLocked()
		e.mu.Unlock()
		s.logger.Debug("select timed out", "object", e.object.ObjectReference(false))
		s.reportDeselect(changed, sel, SELECT_STATE_REASON_TIMEOUT)
	case controlWaitForActivation:
		a := e.pending
		if uint64(now.UnixMilli()) < a.controlTime {
			e.mu.Unlock()
			return
		}
		e.busy = true
		e.mu.Unlock()
		s.execute(e, s.engine.ControlModel(e.object.handle), a, controlWaitForExecution, true)
	case controlWaitForExecution, controlOperating:
		state, a := e.state, e.pending
		e.busy = true
		e.mu.Unlock()
		s.execute(e, s.engine.ControlModel(e.object.handle), a, state, true)
	default:
		e.mu.Unlock()
	}
}

// releaseControls deselects every object selected by the closed connection
// and drops its pending time activated operates. Running executions finish
// normally.
func (s *IedServer) releaseControls(conn Handle) {
	for _, e := range s.controls.snapshot() {
		e.mu.Lock()
		owned := !e.busy && ((e.state == controlSelected && e.selectedBy == conn) ||
			(e.state == controlWaitForActivation && e.pending.connHandle == conn))
		if !owned {
			e.mu.Unlock()
			continue
		}
		sel, changed := e.resetLocked()
		e.mu.Unlock()
		if s.engine.ControlModel(e.object.handle).IsSBO() {
			s.reportDeselect(changed, sel, SELECT_STATE_REASON_DISCONNECTED)
		}
	}
}

func (s *IedServer) reportDeselect(changed ControlSelectStateChangedHandler, a *ControlAction, reason SelectStateChangedReason) {
	s.metrics.observeDeselect(reason)
	if changed != nil && a != nil {
		changed(a, false, reason)
	}
}

func (s *IedServer) sboTimeout(do *DataObject) time.Duration {
	if t := s.engine.SboTimeout(do.handle); t > 0 {
		return t
	}
	return s.cfg.Control.DefaultSboTimeout.Duration
}
