package iedserver

import (
	"fmt"
	"sync"
)

type (
	// ConnectionIndicationHandler is called after a client connected and
	// after it disconnected. On disconnect conn is still valid during the
	// call and invalid afterwards.
	ConnectionIndicationHandler func(server *IedServer, conn *ClientConnection, connected bool)

	RCBEventHandler  func(rcb *ReportControlBlock, conn *ClientConnection, event RCBEventType, parameterName string, serviceError MmsDataAccessError)
	GoCBEventHandler func(gcb *GSEControlBlock, event GoCBEventType)
	SVCBEventHandler func(svcb *SVControlBlock, event SVCBEventType)

	// WriteAccessHandler decides a client write. DATA_ACCESS_ERROR_SUCCESS
	// accepts the value.
	WriteAccessHandler func(da *DataAttribute, value MmsValue, conn *ClientConnection) MmsDataAccessError

	// ReadAccessHandler gates reads. do is nil when the whole logical node
	// is read.
	ReadAccessHandler func(ld *LogicalDevice, ln *LogicalNode, do *DataObject, fc FC, conn *ClientConnection) MmsDataAccessError

	DirectoryAccessHandler    func(conn *ClientConnection, category DirectoryCategory, ld *LogicalDevice) bool
	DataSetAccessHandler      func(conn *ClientConnection, operation DataSetOperation, dataSetRef string) bool
	ControlBlockAccessHandler func(conn *ClientConnection, class ACSIClass, ld *LogicalDevice, ln *LogicalNode, objectName, subObjectName string, access ControlBlockAccessType) bool

	// ActiveSettingGroupChangedHandler may veto a change of the active
	// setting group by returning false.
	ActiveSettingGroupChangedHandler    func(sgcb *SettingGroupControlBlock, newActSG int, conn *ClientConnection) bool
	EditSettingGroupChangedHandler      func(sgcb *SettingGroupControlBlock, newEditSG int, conn *ClientConnection) bool
	EditSettingGroupConfirmationHandler func(sgcb *SettingGroupControlBlock, editSG int)
)

type callbackKind int

const (
	callbackConnection callbackKind = iota
	callbackControl
	callbackWriteAccess
	callbackRCB
	callbackGoCB
	callbackSVCB
	callbackReadAccess
	callbackDirectoryAccess
	callbackDataSetAccess
	callbackControlBlockAccess
	callbackSettingGroup
	callbackAuthenticator
)

var callbackKindNames = map[callbackKind]string{
	callbackConnection:         "connection",
	callbackControl:            "control",
	callbackWriteAccess:        "write_access",
	callbackRCB:                "rcb",
	callbackGoCB:               "gocb",
	callbackSVCB:               "svcb",
	callbackReadAccess:         "read_access",
	callbackDirectoryAccess:    "directory_access",
	callbackDataSetAccess:      "dataset_access",
	callbackControlBlockAccess: "control_block_access",
	callbackSettingGroup:       "setting_group",
	callbackAuthenticator:      "authenticator",
}

func (k callbackKind) String() string {
	if n, ok := callbackKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("callbackKind(%d)", int(k))
}

type sgcbHandlers struct {
	sgcb             *SettingGroupControlBlock
	activeChanged    ActiveSettingGroupChangedHandler
	editChanged      EditSettingGroupChangedHandler
	editConfirmation EditSettingGroupConfirmationHandler
}

type svcbHandler struct {
	svcb    *SVControlBlock
	handler SVCBEventHandler
}

type writeBinding struct {
	da      *DataAttribute
	handler WriteAccessHandler
}

// router holds one handler slot per event class. Handlers are read under the
// lock and called without it.
type router struct {
	mu sync.RWMutex

	connection         ConnectionIndicationHandler
	rcb                RCBEventHandler
	gocb               GoCBEventHandler
	readAccess         ReadAccessHandler
	directoryAccess    DirectoryAccessHandler
	dataSetAccess      DataSetAccessHandler
	controlBlockAccess ControlBlockAccessHandler
	authenticator      AuthenticatorHandler

	svcbs         map[Handle]svcbHandler
	sgcbs         map[Handle]*sgcbHandlers
	writeBindings map[Handle]writeBinding
	writePolicy   map[FC]AccessPolicy
}

func newRouter(policy map[FC]AccessPolicy) *router {
	r := &router{
		svcbs:         make(map[Handle]svcbHandler),
		sgcbs:         make(map[Handle]*sgcbHandlers),
		writeBindings: make(map[Handle]writeBinding),
		writePolicy:   make(map[FC]AccessPolicy, len(policy)),
	}
	for fc, p := range policy {
		r.writePolicy[fc] = p
	}
	return r
}

// install runs fn the first time a handler of the given kind is registered.
func (s *IedServer) install(kind callbackKind, fn func()) {
	s.installMu.Lock()
	defer s.installMu.Unlock()
	if s.installed[kind] {
		return
	}
	s.installed[kind] = true
	fn()
	s.logger.Debug("installed engine callback", "kind", kind.String())
}

// SetConnectionIndicationHandler sets the handler for client connect and
// disconnect indications.
func (s *IedServer) SetConnectionIndicationHandler(handler ConnectionIndicationHandler) {
	s.router.mu.Lock()
	s.router.connection = handler
	s.router.mu.Unlock()
}

func (s *IedServer) onConnection(h Handle, connected bool) {
	s.metrics.observeEvent(callbackConnection)
	if connected {
		conn, replaced := s.conns.add(s.engine, h)
		if replaced != nil {
			s.logger.Warn("connect indication for registered handle, previous connection dropped",
				"handle", uintptr(h), "previous", replaced.ID().String())
			s.releaseControls(h)
		}
		s.metrics.setConnections(s.conns.len())
		s.logger.Info("client connected", "connection", conn.ID().String(), "peer", conn.PeerAddress())
		if handler := s.connectionHandler(); handler != nil {
			handler(s, conn, true)
		}
		return
	}

	conn, ok := s.conns.remove(h)
	if !ok {
		s.logger.Debug("disconnect indication for unknown connection", "handle", uintptr(h))
		return
	}
	s.metrics.setConnections(s.conns.len())
	s.releaseControls(h)
	s.logger.Info("client disconnected", "connection", conn.ID().String())
	if handler := s.connectionHandler(); handler != nil {
		handler(s, conn, false)
	}
	conn.invalidate()
	// A select whose check was running during the first release stored the
	// selection while the connection was still valid.
	s.releaseControls(h)
}

func (s *IedServer) connectionHandler() ConnectionIndicationHandler {
	s.router.mu.RLock()
	defer s.router.mu.RUnlock()
	return s.router.connection
}

// SetRCBEventHandler sets the handler for report control block events.
func (s *IedServer) SetRCBEventHandler(handler RCBEventHandler) {
	s.router.mu.Lock()
	s.router.rcb = handler
	s.router.mu.Unlock()
	s.install(callbackRCB, func() { s.engine.SetRCBEventCallback(s.onRCBEvent) })
}

func (s *IedServer) onRCBEvent(rcbHandle, connHandle Handle, event RCBEventType, parameterName string, serviceError MmsDataAccessError) {
	s.metrics.observeEvent(callbackRCB)
	s.router.mu.RLock()
	handler := s.router.rcb
	s.router.mu.RUnlock()
	if handler == nil {
		return
	}
	ln, err := s.resolveLogicalNode(s.engine.RCBParent(rcbHandle))
	if err != nil {
		s.logger.Error("RCB event for unresolvable logical node", "rcb", uintptr(rcbHandle), "error", err)
		return
	}
	handler(ln.reportControlBlock(rcbHandle), s.conns.lookup(connHandle), event, parameterName, serviceError)
}

// SetGoCBEventHandler sets the handler for GOOSE control block events.
func (s *IedServer) SetGoCBEventHandler(handler GoCBEventHandler) {
	s.router.mu.Lock()
	s.router.gocb = handler
	s.router.mu.Unlock()
	s.install(callbackGoCB, func() { s.engine.SetGoCBEventCallback(s.onGoCBEvent) })
}

func (s *IedServer) onGoCBEvent(gcbHandle Handle, event GoCBEventType) {
	s.metrics.observeEvent(callbackGoCB)
	s.router.mu.RLock()
	handler := s.router.gocb
	s.router.mu.RUnlock()
	if handler == nil {
		return
	}
	ln, err := s.resolveLogicalNode(s.engine.GoCBParent(gcbHandle))
	if err != nil {
		s.logger.Error("GoCB event for unresolvable logical node", "gocb", uintptr(gcbHandle), "error", err)
		return
	}
	handler(ln.gseControlBlock(gcbHandle), event)
}

// SetSVCBHandler sets the event handler of one sampled value control block.
// A nil handler removes it.
func (s *IedServer) SetSVCBHandler(svcb *SVControlBlock, handler SVCBEventHandler) {
	s.router.mu.Lock()
	if handler == nil {
		delete(s.router.svcbs, svcb.handle)
	} else {
		s.router.svcbs[svcb.handle] = svcbHandler{svcb: svcb, handler: handler}
	}
	s.router.mu.Unlock()
	s.install(callbackSVCB, func() { s.engine.SetSVCBEventCallback(s.onSVCBEvent) })
}

func (s *IedServer) onSVCBEvent(svcbHandle Handle, event SVCBEventType) {
	s.metrics.observeEvent(callbackSVCB)
	s.router.mu.RLock()
	b, ok := s.router.svcbs[svcbHandle]
	s.router.mu.RUnlock()
	if ok {
		b.handler(b.svcb, event)
	}
}

// SetWriteAccessPolicy sets the default decision for client writes to
// attributes of the given functional constraint that have no write access
// handler.
func (s *IedServer) SetWriteAccessPolicy(fc FC, policy AccessPolicy) {
	s.router.mu.Lock()
	s.router.writePolicy[fc] = policy
	s.router.mu.Unlock()
	s.installWriteAccess()
}

// WriteAccessPolicy returns the default policy for fc.
func (s *IedServer) WriteAccessPolicy(fc FC) AccessPolicy {
	s.router.mu.RLock()
	defer s.router.mu.RUnlock()
	return s.router.policyLocked(fc)
}

func (r *router) policyLocked(fc FC) AccessPolicy {
	if p, ok := r.writePolicy[fc]; ok {
		return p
	}
	return ACCESS_POLICY_DENY
}

// HandleWriteAccess binds handler to a single attribute. If da is
// constructed the binding applies to its leaf attributes, like
// HandleWriteAccessForComplexAttribute. A nil handler removes the bindings.
func (s *IedServer) HandleWriteAccess(da *DataAttribute, handler WriteAccessHandler) error {
	return s.HandleWriteAccessForComplexAttribute(da, handler)
}

// HandleWriteAccessForComplexAttribute binds handler to every leaf attribute
// below da (or da itself if it is a leaf).
func (s *IedServer) HandleWriteAccessForComplexAttribute(da *DataAttribute, handler WriteAccessHandler) error {
	targets, err := writeTargets(da, NONE)
	if err != nil {
		return fmt.Errorf("HandleWriteAccessForComplexAttribute %s: %w", da.ObjectReference(false), err)
	}
	s.bindWriteAccess(targets, handler)
	return nil
}

// HandleWriteAccessForDataObject binds handler to every leaf attribute with
// functional constraint fc below do, including nested data objects.
func (s *IedServer) HandleWriteAccessForDataObject(do *DataObject, fc FC, handler WriteAccessHandler) error {
	targets, err := writeTargets(do, fc)
	if err != nil {
		return fmt.Errorf("HandleWriteAccessForDataObject %s[%s]: %w", do.ObjectReference(false), fc, err)
	}
	s.bindWriteAccess(targets, handler)
	return nil
}

func (s *IedServer) bindWriteAccess(targets []*DataAttribute, handler WriteAccessHandler) {
	s.router.mu.Lock()
	for _, da := range targets {
		if handler == nil {
			delete(s.router.writeBindings, da.handle)
			continue
		}
		s.router.writeBindings[da.handle] = writeBinding{da: da, handler: handler}
	}
	s.router.mu.Unlock()
	s.installWriteAccess()
}

// writeTargets flattens a subtree into the leaf attributes a write binding
// applies to. For a data object only attributes whose top level FC equals fc
// are followed; for an attribute fc is ignored.
func writeTargets(root ModelNode, fc FC) ([]*DataAttribute, error) {
	var out []*DataAttribute
	var walk func(n ModelNode, filter bool) error
	walk = func(n ModelNode, filter bool) error {
		children, err := n.Children()
		if err != nil {
			return err
		}
		if da, ok := n.(*DataAttribute); ok && len(children) == 0 {
			out = append(out, da)
			return nil
		}
		for _, c := range children {
			switch child := c.(type) {
			case *DataObject:
				if err := walk(child, filter); err != nil {
					return err
				}
			case *DataAttribute:
				if filter && child.FC() != fc {
					continue
				}
				if err := walk(child, false); err != nil {
					return err
				}
			}
		}
		return nil
	}
	_, isDO := root.(*DataObject)
	if err := walk(root, isDO); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *IedServer) installWriteAccess() {
	s.install(callbackWriteAccess, func() { s.engine.SetWriteAccessCallback(s.onWriteAccess) })
}

func (s *IedServer) onWriteAccess(daHandle Handle, value MmsValue, connHandle Handle) MmsDataAccessError {
	s.metrics.observeEvent(callbackWriteAccess)
	s.router.mu.RLock()
	b, bound := s.router.writeBindings[daHandle]
	s.router.mu.RUnlock()

	if bound {
		result := b.handler(b.da, value, s.conns.lookup(connHandle))
		s.metrics.observeWrite("handler", result == DATA_ACCESS_ERROR_SUCCESS)
		return result
	}

	fc := s.engine.AttributeFC(daHandle)
	s.router.mu.RLock()
	policy := s.router.policyLocked(fc)
	s.router.mu.RUnlock()
	if policy == ACCESS_POLICY_ALLOW {
		s.metrics.observeWrite("policy", true)
		return DATA_ACCESS_ERROR_SUCCESS
	}
	s.metrics.observeWrite("policy", false)
	return DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
}

// SetReadAccessHandler sets the handler that gates client reads.
func (s *IedServer) SetReadAccessHandler(handler ReadAccessHandler) {
	s.router.mu.Lock()
	s.router.readAccess = handler
	s.router.mu.Unlock()
	s.install(callbackReadAccess, func() { s.engine.SetReadAccessCallback(s.onReadAccess) })
}

func (s *IedServer) onReadAccess(ldHandle, lnHandle, doHandle Handle, fc FC, connHandle Handle) MmsDataAccessError {
	s.metrics.observeEvent(callbackReadAccess)
	s.router.mu.RLock()
	handler := s.router.readAccess
	s.router.mu.RUnlock()
	if handler == nil {
		return DATA_ACCESS_ERROR_SUCCESS
	}
	ld, err := s.resolveLogicalDevice(ldHandle)
	if err != nil {
		s.logger.Error("read access for unresolvable logical device", "error", err)
		return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	ln, err := s.resolveLogicalNode(lnHandle)
	if err != nil {
		s.logger.Error("read access for unresolvable logical node", "error", err)
		return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
	}
	var do *DataObject
	if doHandle != 0 {
		n, err := s.model.Resolve(doHandle)
		if err == nil {
			do, err = asDataObject(n)
		}
		if err != nil {
			s.logger.Error("read access for unresolvable data object", "error", err)
			return DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT
		}
	}
	return handler(ld, ln, do, fc, s.conns.lookup(connHandle))
}

// SetDirectoryAccessHandler sets the handler that filters directory
// listings. Returning false hides the entry.
func (s *IedServer) SetDirectoryAccessHandler(handler DirectoryAccessHandler) {
	s.router.mu.Lock()
	s.router.directoryAccess = handler
	s.router.mu.Unlock()
	s.install(callbackDirectoryAccess, func() { s.engine.SetDirectoryAccessCallback(s.onDirectoryAccess) })
}

func (s *IedServer) onDirectoryAccess(connHandle Handle, category DirectoryCategory, ldHandle Handle) bool {
	s.metrics.observeEvent(callbackDirectoryAccess)
	s.router.mu.RLock()
	handler := s.router.directoryAccess
	s.router.mu.RUnlock()
	if handler == nil {
		return true
	}
	var ld *LogicalDevice
	if ldHandle != 0 {
		var err error
		if ld, err = s.resolveLogicalDevice(ldHandle); err != nil {
			s.logger.Error("directory access for unresolvable logical device", "error", err)
			return false
		}
	}
	return handler(s.conns.lookup(connHandle), category, ld)
}

// SetDataSetAccessHandler sets the handler that gates data set services.
func (s *IedServer) SetDataSetAccessHandler(handler DataSetAccessHandler) {
	s.router.mu.Lock()
	s.router.dataSetAccess = handler
	s.router.mu.Unlock()
	s.install(callbackDataSetAccess, func() { s.engine.SetDataSetAccessCallback(s.onDataSetAccess) })
}

func (s *IedServer) onDataSetAccess(connHandle Handle, operation DataSetOperation, dataSetRef string) bool {
	s.metrics.observeEvent(callbackDataSetAccess)
	s.router.mu.RLock()
	handler := s.router.dataSetAccess
	s.router.mu.RUnlock()
	if handler == nil {
		return true
	}
	return handler(s.conns.lookup(connHandle), operation, dataSetRef)
}

// SetControlBlockAccessHandler sets the handler that gates reads and writes
// of control blocks.
func (s *IedServer) SetControlBlockAccessHandler(handler ControlBlockAccessHandler) {
	s.router.mu.Lock()
	s.router.controlBlockAccess = handler
	s.router.mu.Unlock()
	s.install(callbackControlBlockAccess, func() { s.engine.SetControlBlockAccessCallback(s.onControlBlockAccess) })
}

func (s *IedServer) onControlBlockAccess(connHandle Handle, class ACSIClass, ldHandle, lnHandle Handle, objectName, subObjectName string, access ControlBlockAccessType) bool {
	s.metrics.observeEvent(callbackControlBlockAccess)
	s.router.mu.RLock()
	handler := s.router.controlBlockAccess
	s.router.mu.RUnlock()
	if handler == nil {
		return true
	}
	ld, err := s.resolveLogicalDevice(ldHandle)
	if err != nil {
		s.logger.Error("control block access for unresolvable logical device", "error", err)
		return false
	}
	ln, err := s.resolveLogicalNode(lnHandle)
	if err != nil {
		s.logger.Error("control block access for unresolvable logical node", "error", err)
		return false
	}
	return handler(s.conns.lookup(connHandle), class, ld, ln, objectName, subObjectName, access)
}

func (s *IedServer) sgcbEntryLocked(sgcb *SettingGroupControlBlock) *sgcbHandlers {
	e, ok := s.router.sgcbs[sgcb.handle]
	if !ok {
		e = &sgcbHandlers{sgcb: sgcb}
		s.router.sgcbs[sgcb.handle] = e
	}
	return e
}

func (s *IedServer) SetActiveSettingGroupChangedHandler(sgcb *SettingGroupControlBlock, handler ActiveSettingGroupChangedHandler) {
	s.router.mu.Lock()
	s.sgcbEntryLocked(sgcb).activeChanged = handler
	s.router.mu.Unlock()
	s.installSettingGroup()
}

func (s *IedServer) SetEditSettingGroupChangedHandler(sgcb *SettingGroupControlBlock, handler EditSettingGroupChangedHandler) {
	s.router.mu.Lock()
	s.sgcbEntryLocked(sgcb).editChanged = handler
	s.router.mu.Unlock()
	s.installSettingGroup()
}

func (s *IedServer) SetEditSettingGroupConfirmationHandler(sgcb *SettingGroupControlBlock, handler EditSettingGroupConfirmationHandler) {
	s.router.mu.Lock()
	s.sgcbEntryLocked(sgcb).editConfirmation = handler
	s.router.mu.Unlock()
	s.installSettingGroup()
}

func (s *IedServer) installSettingGroup() {
	s.install(callbackSettingGroup, func() {
		s.engine.SetSettingGroupCallbacks(SettingGroupCallbacks{
			ActiveChanged:    s.onActiveSettingGroupChanged,
			EditChanged:      s.onEditSettingGroupChanged,
			EditConfirmation: s.onEditSettingGroupConfirmation,
		})
	})
}

func (s *IedServer) sgcbHandlersFor(h Handle) (sgcbHandlers, bool) {
	s.router.mu.RLock()
	defer s.router.mu.RUnlock()
	e, ok := s.router.sgcbs[h]
	if !ok {
		return sgcbHandlers{}, false
	}
	return *e, true
}

func (s *IedServer) onActiveSettingGroupChanged(sgcbHandle Handle, newActSG int, connHandle Handle) bool {
	s.metrics.observeEvent(callbackSettingGroup)
	e, ok := s.sgcbHandlersFor(sgcbHandle)
	if !ok || e.activeChanged == nil {
		return true
	}
	return e.activeChanged(e.sgcb, newActSG, s.conns.lookup(connHandle))
}

func (s *IedServer) onEditSettingGroupChanged(sgcbHandle Handle, newEditSG int, connHandle Handle) bool {
	s.metrics.observeEvent(callbackSettingGroup)
	e, ok := s.sgcbHandlersFor(sgcbHandle)
	if !ok || e.editChanged == nil {
		return true
	}
	return e.editChanged(e.sgcb, newEditSG, s.conns.lookup(connHandle))
}

func (s *IedServer) onEditSettingGroupConfirmation(sgcbHandle Handle, editSG int) {
	s.metrics.observeEvent(callbackSettingGroup)
	e, ok := s.sgcbHandlersFor(sgcbHandle)
	if ok && e.editConfirmation != nil {
		e.editConfirmation(e.sgcb, editSG)
	}
}

// SetAuthenticator sets the handler that accepts or rejects associations.
func (s *IedServer) SetAuthenticator(handler AuthenticatorHandler) {
	s.router.mu.Lock()
	s.router.authenticator = handler
	s.router.mu.Unlock()
	s.install(callbackAuthenticator, func() { s.engine.SetAuthenticatorCallback(s.onAuthenticate) })
}

func (s *IedServer) onAuthenticate(param AuthenticationParameter, appRef IsoApplicationReference) (bool, any) {
	s.metrics.observeEvent(callbackAuthenticator)
	s.router.mu.RLock()
	handler := s.router.authenticator
	s.router.mu.RUnlock()
	if handler == nil {
		return true, nil
	}
	ok, token := handler(param, appRef)
	if !ok {
		s.logger.Warn("association rejected by authenticator", "mechanism", int(param.Mechanism))
	}
	return ok, token
}

func (s *IedServer) resolveLogicalNode(h Handle) (*LogicalNode, error) {
	n, err := s.model.Resolve(h)
	if err != nil {
		return nil, err
	}
	return asLogicalNode(n)
}

func (s *IedServer) resolveLogicalDevice(h Handle) (*LogicalDevice, error) {
	n, err := s.model.Resolve(h)
	if err != nil {
		return nil, err
	}
	return asLogicalDevice(n)
}
