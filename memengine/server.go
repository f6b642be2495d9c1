package memengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marrasen/iedserver"
)

var (
	ErrNotAttribute   = errors.New("memengine: handle is not a data attribute")
	ErrConstructed    = errors.New("memengine: attribute is constructed")
	ErrUnknownLog     = errors.New("memengine: unknown log reference")
	ErrInvalidSG      = errors.New("memengine: setting group out of range")
	ErrTooManyClients = errors.New("memengine: maximum number of connections reached")
	ErrRejected       = errors.New("memengine: association rejected")
)

func (e *Engine) Version() string { return Version }

// Start marks the engine as listening. With a tick interval configured it
// calls the tick callback until Stop or until ctx is done.
func (e *Engine) Start(ctx context.Context, localIP string, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("memengine: already listening on %s:%d", e.localIP, e.port)
	}
	e.running = true
	e.localIP, e.port = localIP, port
	if e.tickInterval > 0 {
		tctx, cancel := context.WithCancel(ctx)
		e.stopTicker = cancel
		e.tickerDone = make(chan struct{})
		go e.tickLoop(tctx, e.tickInterval, e.tickerDone)
	}
	e.logger.Info("engine started", "local_ip", localIP, "port", port)
	return nil
}

func (e *Engine) tickLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.SimulateTick(now)
		}
	}
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.stopTicker, e.tickerDone
	e.stopTicker, e.tickerDone = nil, nil
	conns := make([]iedserver.Handle, 0, len(e.conns))
	for h := range e.conns {
		conns = append(conns, h)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, h := range conns {
		e.SimulateDisconnect(h)
	}
	e.logger.Info("engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) OpenConnections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

func (e *Engine) SetServerIdentity(vendor, model, revision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity = [3]string{vendor, model, revision}
}

func (e *Engine) LockDataModel()   { e.dataMu.Lock() }
func (e *Engine) UnlockDataModel() { e.dataMu.Unlock() }

func (e *Engine) UpdateAttributeValue(da iedserver.Handle, value iedserver.MmsValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[da]
	if !ok || n.kind != iedserver.NODE_TYPE_DATA_ATTRIBUTE {
		return ErrNotAttribute
	}
	if len(n.children) > 0 {
		return ErrConstructed
	}
	n.value = value.Clone()
	e.updates++
	return nil
}

func (e *Engine) AttributeValue(da iedserver.Handle) (iedserver.MmsValue, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[da]
	if !ok || n.kind != iedserver.NODE_TYPE_DATA_ATTRIBUTE {
		return iedserver.MmsValue{}, false
	}
	return e.valueLocked(n), true
}

func (e *Engine) valueLocked(n *node) iedserver.MmsValue {
	if len(n.children) == 0 {
		return n.value.Clone()
	}
	elems := make([]*iedserver.MmsValue, 0, len(n.children))
	for _, c := range n.children {
		v := e.valueLocked(e.nodes[c])
		elems = append(elems, &v)
	}
	return iedserver.NewStructureValue(elems...)
}

func (e *Engine) FunctionalConstrainedData(do iedserver.Handle, fc iedserver.FC) (iedserver.MmsValue, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[do]
	if !ok || n.kind != iedserver.NODE_TYPE_DATA_OBJECT {
		return iedserver.MmsValue{}, false
	}
	v, found := e.fcDataLocked(n, fc)
	return v, found
}

func (e *Engine) fcDataLocked(n *node, fc iedserver.FC) (iedserver.MmsValue, bool) {
	var elems []*iedserver.MmsValue
	for _, h := range n.children {
		c := e.nodes[h]
		switch c.kind {
		case iedserver.NODE_TYPE_DATA_ATTRIBUTE:
			if c.fc == fc {
				v := e.valueLocked(c)
				elems = append(elems, &v)
			}
		case iedserver.NODE_TYPE_DATA_OBJECT:
			if v, ok := e.fcDataLocked(c, fc); ok {
				elems = append(elems, &v)
			}
		}
	}
	if len(elems) == 0 {
		return iedserver.MmsValue{}, false
	}
	return iedserver.NewStructureValue(elems...), true
}

func (e *Engine) EnableGoosePublishing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.goose = true
}

func (e *Engine) DisableGoosePublishing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.goose = false
}

func (e *Engine) SetTimeQuality(q iedserver.TimeQuality) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeQuality = q
}

func (e *Engine) SetLogStorage(logRef string, storage iedserver.Handle) error {
	if !e.logService {
		return fmt.Errorf("memengine: log service: %w", iedserver.ErrCapabilityAbsent)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.logs[logRef]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLog, logRef)
	}
	if storage != 0 {
		if _, ok := e.stores[storage]; !ok {
			return fmt.Errorf("memengine: unknown log storage %#x", uintptr(storage))
		}
	}
	e.logs[logRef] = storage
	return nil
}

// CreateLogStorage supports the "memory" backend only.
func (e *Engine) CreateLogStorage(backend, location string) (iedserver.Handle, error) {
	if !e.logService || backend != "memory" {
		return 0, fmt.Errorf("memengine: log storage backend %q: %w", backend, iedserver.ErrCapabilityAbsent)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.allocLocked()
	e.stores[h] = &logStorage{backend: backend, location: location}
	return h, nil
}

func (e *Engine) DestroyLogStorage(storage iedserver.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stores, storage)
	for ref, h := range e.logs {
		if h == storage {
			e.logs[ref] = 0
		}
	}
}

func (e *Engine) SetLogStorageMaxEntries(storage iedserver.Handle, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stores[storage]; ok {
		s.maxEntries = n
	}
}

func (e *Engine) ChangeActiveSettingGroup(h iedserver.Handle, sg int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setActiveSGLocked(h, sg)
}

func (e *Engine) setActiveSGLocked(h iedserver.Handle, sg int) error {
	s, ok := e.sgcbs[h]
	if !ok {
		return fmt.Errorf("memengine: unknown SGCB %#x", uintptr(h))
	}
	cur, err := iedserver.SettingGroupFromValue(s.value)
	if err != nil {
		return err
	}
	if sg < 1 || sg > cur.NumOfSG {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidSG, sg, cur.NumOfSG)
	}
	cur.ActSG = sg
	s.value = sgcbValue(cur)
	return nil
}

func (e *Engine) ControlModel(ctrl iedserver.Handle) iedserver.ControlModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[ctrl]; ok {
		return n.ctlModel
	}
	return iedserver.CONTROL_MODEL_STATUS_ONLY
}

func (e *Engine) SboTimeout(ctrl iedserver.Handle) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[ctrl]; ok {
		return n.sboTimeout
	}
	return 0
}

func (e *Engine) SendCommandTermination(ctrl, conn iedserver.Handle, term iedserver.CommandTermination) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terms = append(e.terms, CommandTermination{Object: ctrl, Connection: conn, CommandTermination: term})
}

func (e *Engine) ConnectionPeerAddress(conn iedserver.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conns[conn]; ok {
		return c.peer
	}
	return ""
}

func (e *Engine) ConnectionLocalAddress(conn iedserver.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conns[conn]; ok {
		return c.local
	}
	return ""
}

func (e *Engine) ConnectionSecurityToken(conn iedserver.Handle) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conns[conn]; ok {
		return c.token
	}
	return nil
}

// AbortConnection drops the connection and delivers the disconnect
// indication.
func (e *Engine) AbortConnection(conn iedserver.Handle) bool {
	e.mu.Lock()
	_, ok := e.conns[conn]
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.SimulateDisconnect(conn)
	return true
}

func (e *Engine) installed(kind string) {
	e.installs[kind]++
	e.logger.Debug("callback installed", "kind", kind)
}

func (e *Engine) SetConnectionCallback(fn iedserver.ConnectionCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.connection = fn
	e.installed("connection")
}

func (e *Engine) SetControlCallback(fn iedserver.ControlCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.control = fn
	e.installed("control")
}

func (e *Engine) SetTickCallback(fn iedserver.TickCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.tick = fn
	e.installed("tick")
}

func (e *Engine) SetWriteAccessCallback(fn iedserver.WriteAccessCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.writeAccess = fn
	e.installed("write_access")
}

func (e *Engine) SetRCBEventCallback(fn iedserver.RCBEventCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.rcb = fn
	e.installed("rcb")
}

func (e *Engine) SetGoCBEventCallback(fn iedserver.GoCBEventCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.gocb = fn
	e.installed("gocb")
}

func (e *Engine) SetSVCBEventCallback(fn iedserver.SVCBEventCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.svcb = fn
	e.installed("svcb")
}

func (e *Engine) SetReadAccessCallback(fn iedserver.ReadAccessCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.readAccess = fn
	e.installed("read_access")
}

func (e *Engine) SetDirectoryAccessCallback(fn iedserver.DirectoryAccessCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.directoryAccess = fn
	e.installed("directory_access")
}

func (e *Engine) SetDataSetAccessCallback(fn iedserver.DataSetAccessCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.dataSetAccess = fn
	e.installed("dataset_access")
}

func (e *Engine) SetControlBlockAccessCallback(fn iedserver.ControlBlockAccessCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.controlBlockAccess = fn
	e.installed("control_block_access")
}

func (e *Engine) SetSettingGroupCallbacks(cb iedserver.SettingGroupCallbacks) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.settingGroup = cb
	e.installed("setting_group")
}

func (e *Engine) SetAuthenticatorCallback(fn iedserver.AuthenticatorCallback) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.cb.authenticator = fn
	e.installed("authenticator")
}

func (e *Engine) callbacks() callbacks {
	e.cbMu.RLock()
	defer e.cbMu.RUnlock()
	return e.cb
}
