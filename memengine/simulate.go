package memengine

import (
	"fmt"
	"time"

	"github.com/marrasen/iedserver"
)

// Association describes an incoming client association.
type Association struct {
	Peer   string
	Local  string
	Auth   iedserver.AuthenticationParameter
	AppRef iedserver.IsoApplicationReference
}

// SimulateConnect accepts a client association from peer and delivers the
// connect indication.
func (e *Engine) SimulateConnect(peer string) (iedserver.Handle, error) {
	return e.SimulateAssociate(Association{Peer: peer})
}

// SimulateAssociate runs the authenticator (if installed) and on success
// registers the connection and delivers the connect indication.
func (e *Engine) SimulateAssociate(as Association) (iedserver.Handle, error) {
	e.mu.Lock()
	if e.maxConnections > 0 && len(e.conns) >= e.maxConnections {
		e.mu.Unlock()
		return 0, ErrTooManyClients
	}
	e.mu.Unlock()

	cb := e.callbacks()
	var token any
	if cb.authenticator != nil {
		ok, t := cb.authenticator(as.Auth, as.AppRef)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrRejected, as.Peer)
		}
		token = t
	}

	e.mu.Lock()
	h := e.allocLocked()
	local := as.Local
	if local == "" {
		local = fmt.Sprintf("%s:%d", e.localIP, e.port)
	}
	e.conns[h] = &connection{peer: as.Peer, local: local, token: token}
	e.mu.Unlock()

	if cb.connection != nil {
		cb.connection(h, true)
	}
	return h, nil
}

// SimulateDisconnect delivers the disconnect indication and then releases
// the connection, so its addresses are still readable inside the callback.
// The indication is delivered even for unknown handles, like a stack that
// reports a connection twice.
func (e *Engine) SimulateDisconnect(conn iedserver.Handle) {
	if cb := e.callbacks(); cb.connection != nil {
		cb.connection(conn, false)
	}
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
}

// SimulateControl delivers a control service. Without an installed control
// callback the service is rejected the way a stack without control support
// would. Control services are serialized per object by the server, not by
// the data model lock.
func (e *Engine) SimulateControl(req iedserver.ControlRequest) iedserver.ControlResponse {
	cb := e.callbacks()
	if cb.control == nil {
		return iedserver.ControlResponse{
			Result:        iedserver.CONTROL_RESULT_FAILED,
			AccessError:   iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED,
			LastApplError: iedserver.CONTROL_ERROR_UNKNOWN,
			AddCause:      iedserver.ADD_CAUSE_NOT_SUPPORTED,
		}
	}
	if req.CtlNum == 0 {
		req.CtlNum = -1
	}
	return cb.control(req)
}

func (e *Engine) SimulateSelect(do, conn iedserver.Handle) iedserver.ControlResponse {
	return e.SimulateControl(iedserver.ControlRequest{Service: iedserver.CONTROL_SERVICE_SELECT, Object: do, Connection: conn})
}

func (e *Engine) SimulateSelectWithValue(do, conn iedserver.Handle, ctlVal iedserver.MmsValue) iedserver.ControlResponse {
	return e.SimulateControl(iedserver.ControlRequest{Service: iedserver.CONTROL_SERVICE_SELECT_WITH_VALUE, Object: do, Connection: conn, CtlVal: ctlVal})
}

func (e *Engine) SimulateOperate(do, conn iedserver.Handle, ctlVal iedserver.MmsValue) iedserver.ControlResponse {
	return e.SimulateControl(iedserver.ControlRequest{Service: iedserver.CONTROL_SERVICE_OPERATE, Object: do, Connection: conn, CtlVal: ctlVal})
}

func (e *Engine) SimulateCancel(do, conn iedserver.Handle) iedserver.ControlResponse {
	return e.SimulateControl(iedserver.ControlRequest{Service: iedserver.CONTROL_SERVICE_CANCEL, Object: do, Connection: conn})
}

// SimulateTick calls the tick callback once.
func (e *Engine) SimulateTick(now time.Time) {
	if cb := e.callbacks(); cb.tick != nil {
		cb.tick(now)
	}
}

// SimulateWrite delivers a client write to da and stores the value when the
// write access callback accepts it. Without a callback writes are denied.
// Writes, reads, access checks and control block events run under the data
// model lock, so they wait while the application holds LockDataModel.
func (e *Engine) SimulateWrite(conn, da iedserver.Handle, value iedserver.MmsValue) iedserver.MmsDataAccessError {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.mu.Lock()
	n, ok := e.nodes[da]
	leaf := ok && n.kind == iedserver.NODE_TYPE_DATA_ATTRIBUTE && len(n.children) == 0
	e.mu.Unlock()
	if !leaf {
		return iedserver.DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}

	cb := e.callbacks()
	if cb.writeAccess == nil {
		return iedserver.DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
	}
	result := cb.writeAccess(da, value, conn)
	if result == iedserver.DATA_ACCESS_ERROR_SUCCESS {
		e.mu.Lock()
		n.value = value.Clone()
		e.updates++
		e.mu.Unlock()
	}
	return result
}

// SimulateRCBEvent delivers a report control block event. Enable and disable
// events also update the block.
func (e *Engine) SimulateRCBEvent(rcbHandle, conn iedserver.Handle, event iedserver.RCBEventType, parameterName string, serviceError iedserver.MmsDataAccessError) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.mu.Lock()
	r, ok := e.rcbs[rcbHandle]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("memengine: unknown RCB %#x", uintptr(rcbHandle))
	}
	switch event {
	case iedserver.RCB_EVENT_ENABLE:
		r.values.Ena = true
	case iedserver.RCB_EVENT_DISABLE:
		r.values.Ena = false
	case iedserver.RCB_EVENT_RESERVED:
		r.values.Resv = true
	case iedserver.RCB_EVENT_UNRESERVED:
		r.values.Resv = false
	}
	e.mu.Unlock()

	if cb := e.callbacks(); cb.rcb != nil {
		cb.rcb(rcbHandle, conn, event, parameterName, serviceError)
	}
	return nil
}

func (e *Engine) SimulateGoCBEvent(gcbHandle iedserver.Handle, event iedserver.GoCBEventType) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.mu.Lock()
	g, ok := e.gocbs[gcbHandle]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("memengine: unknown GoCB %#x", uintptr(gcbHandle))
	}
	switch event {
	case iedserver.GOCB_EVENT_ENABLE:
		g.values.GoEna = true
	case iedserver.GOCB_EVENT_DISABLE:
		g.values.GoEna = false
	}
	e.mu.Unlock()

	if cb := e.callbacks(); cb.gocb != nil {
		cb.gocb(gcbHandle, event)
	}
	return nil
}

func (e *Engine) SimulateSVCBEvent(svcbHandle iedserver.Handle, event iedserver.SVCBEventType) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.mu.Lock()
	s, ok := e.svcbs[svcbHandle]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("memengine: unknown SVCB %#x", uintptr(svcbHandle))
	}
	s.enabled = event == iedserver.SVCB_EVENT_ENABLE
	e.mu.Unlock()

	if cb := e.callbacks(); cb.svcb != nil {
		cb.svcb(svcbHandle, event)
	}
	return nil
}

// SimulateRead asks the read access callback whether conn may read do (or
// the whole logical node when do is 0) with functional constraint fc.
func (e *Engine) SimulateRead(conn, ln, do iedserver.Handle, fc iedserver.FC) iedserver.MmsDataAccessError {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	cb := e.callbacks()
	if cb.readAccess == nil {
		return iedserver.DATA_ACCESS_ERROR_SUCCESS
	}
	return cb.readAccess(e.NodeParent(ln), ln, do, fc, conn)
}

func (e *Engine) SimulateDirectory(conn iedserver.Handle, category iedserver.DirectoryCategory, ld iedserver.Handle) bool {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	cb := e.callbacks()
	if cb.directoryAccess == nil {
		return true
	}
	return cb.directoryAccess(conn, category, ld)
}

func (e *Engine) SimulateDataSetAccess(conn iedserver.Handle, operation iedserver.DataSetOperation, dataSetRef string) bool {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	cb := e.callbacks()
	if cb.dataSetAccess == nil {
		return true
	}
	return cb.dataSetAccess(conn, operation, dataSetRef)
}

func (e *Engine) SimulateControlBlockAccess(conn iedserver.Handle, class iedserver.ACSIClass, ln iedserver.Handle, objectName, subObjectName string, access iedserver.ControlBlockAccessType) bool {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	cb := e.callbacks()
	if cb.controlBlockAccess == nil {
		return true
	}
	return cb.controlBlockAccess(conn, class, e.NodeParent(ln), ln, objectName, subObjectName, access)
}

// SimulateSetActiveSettingGroup is a client write of SGCB.ActSG. The change
// is applied when the callback (if any) accepts it.
func (e *Engine) SimulateSetActiveSettingGroup(sgcbHandle, conn iedserver.Handle, sg int) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if cb := e.callbacks(); cb.settingGroup.ActiveChanged != nil {
		if !cb.settingGroup.ActiveChanged(sgcbHandle, sg, conn) {
			return fmt.Errorf("memengine: active setting group %d: %w", sg, ErrRejected)
		}
	}
	return e.ChangeActiveSettingGroup(sgcbHandle, sg)
}

// SimulateSetEditSettingGroup is a client write of SGCB.EditSG.
func (e *Engine) SimulateSetEditSettingGroup(sgcbHandle, conn iedserver.Handle, sg int) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if cb := e.callbacks(); cb.settingGroup.EditChanged != nil {
		if !cb.settingGroup.EditChanged(sgcbHandle, sg, conn) {
			return fmt.Errorf("memengine: edit setting group %d: %w", sg, ErrRejected)
		}
	}
	return e.updateSG(sgcbHandle, func(cur *iedserver.SettingGroup) error {
		if sg < 0 || sg > cur.NumOfSG {
			return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidSG, sg, cur.NumOfSG)
		}
		cur.EditSG = sg
		return nil
	})
}

// SimulateConfirmEdit is a client write of SGCB.CnfEdit.
func (e *Engine) SimulateConfirmEdit(sgcbHandle iedserver.Handle) error {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	var editSG int
	err := e.updateSG(sgcbHandle, func(cur *iedserver.SettingGroup) error {
		editSG = cur.EditSG
		cur.CnfEdit = true
		return nil
	})
	if err != nil {
		return err
	}
	if cb := e.callbacks(); cb.settingGroup.EditConfirmation != nil {
		cb.settingGroup.EditConfirmation(sgcbHandle, editSG)
	}
	return nil
}

func (e *Engine) updateSG(h iedserver.Handle, fn func(*iedserver.SettingGroup) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sgcbs[h]
	if !ok {
		return fmt.Errorf("memengine: unknown SGCB %#x", uintptr(h))
	}
	cur, err := iedserver.SettingGroupFromValue(s.value)
	if err != nil {
		return err
	}
	if err := fn(&cur); err != nil {
		return err
	}
	s.value = sgcbValue(cur)
	return nil
}

// SVCBEnabled reports the state last set by SimulateSVCBEvent.
func (e *Engine) SVCBEnabled(h iedserver.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.svcbs[h]; ok {
		return s.enabled
	}
	return false
}

// LogStorageMaxEntries returns the entry limit of a storage.
func (e *Engine) LogStorageMaxEntries(h iedserver.Handle) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stores[h]
	if !ok {
		return 0, false
	}
	return s.maxEntries, true
}
