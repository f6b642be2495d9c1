package iedserver

import (
	"context"
	"time"
)

// ModelEngine is the read side of the protocol engine: everything needed to
// classify a native handle and walk the native model tree. The engine owns
// the tree; callers only ever see handles.
type ModelEngine interface {
	NodeType(node Handle) NodeType
	NodeParent(node Handle) Handle
	// NodeChildren returns the direct children in model order.
	NodeChildren(node Handle) []Handle
	NodeChild(node Handle, name string) Handle
	NodeName(node Handle) string
	ObjectReference(node Handle, withoutIedName bool) string
	NodeByObjectReference(ref string) Handle
	NodeByShortObjectReference(ref string) Handle
	DeviceByInst(ldInst string) Handle
	Devices() []Handle
	AttributeFC(da Handle) FC
	AttributeType(da Handle) DataAttributeType

	// RCBs and GoCBs list the control blocks hosted by a logical node.
	RCBs(ln Handle) []Handle
	RCBParent(rcb Handle) Handle
	RCBValues(rcb Handle) ReportControlBlockValues
	GoCBs(ln Handle) []Handle
	GoCBParent(gcb Handle) Handle
	GoCBValues(gcb Handle) GoCBValues
	SVCB(ln Handle, name string) Handle
	SVCBName(svcb Handle) string
	SettingGroupControlBlock(ld Handle) Handle
	SGCBValues(sgcb Handle) SettingGroup
}

// Engine is the full protocol engine contract consumed by IedServer.
//
// The Set*Callback methods install the engine-facing trampolines. IedServer
// calls each of them at most once, the first time an application handler of
// that kind is registered. The engine may invoke callbacks from any goroutine.
type Engine interface {
	ModelEngine

	Version() string
	Start(ctx context.Context, localIP string, port int) error
	Stop()
	IsRunning() bool
	OpenConnections() int
	SetServerIdentity(vendor, model, revision string)

	LockDataModel()
	UnlockDataModel()
	UpdateAttributeValue(da Handle, value MmsValue) error
	AttributeValue(da Handle) (MmsValue, bool)
	FunctionalConstrainedData(do Handle, fc FC) (MmsValue, bool)

	EnableGoosePublishing()
	DisableGoosePublishing()
	SetTimeQuality(q TimeQuality)
	// SetLogStorage binds (storage != 0) or unbinds (storage == 0) a log
	// storage backend to the log with the given reference.
	SetLogStorage(logRef string, storage Handle) error
	// CreateLogStorage opens a storage backend by name. Backends the engine
	// was built without return an error wrapping ErrCapabilityAbsent.
	CreateLogStorage(backend, location string) (Handle, error)
	DestroyLogStorage(storage Handle)
	SetLogStorageMaxEntries(storage Handle, n int)
	ChangeActiveSettingGroup(sgcb Handle, sg int) error

	ControlModel(ctrl Handle) ControlModel
	// SboTimeout returns the configured select timeout of the control
	// object, or zero when the object does not carry one.
	SboTimeout(ctrl Handle) time.Duration
	SendCommandTermination(ctrl, conn Handle, term CommandTermination)

	ConnectionPeerAddress(conn Handle) string
	ConnectionLocalAddress(conn Handle) string
	ConnectionSecurityToken(conn Handle) any
	AbortConnection(conn Handle) bool

	SetConnectionCallback(fn ConnectionCallback)
	SetControlCallback(fn ControlCallback)
	SetTickCallback(fn TickCallback)
	SetWriteAccessCallback(fn WriteAccessCallback)
	SetRCBEventCallback(fn RCBEventCallback)
	SetGoCBEventCallback(fn GoCBEventCallback)
	SetSVCBEventCallback(fn SVCBEventCallback)
	SetReadAccessCallback(fn ReadAccessCallback)
	SetDirectoryAccessCallback(fn DirectoryAccessCallback)
	SetDataSetAccessCallback(fn DataSetAccessCallback)
	SetControlBlockAccessCallback(fn ControlBlockAccessCallback)
	SetSettingGroupCallbacks(cb SettingGroupCallbacks)
	SetAuthenticatorCallback(fn AuthenticatorCallback)
}

// Engine-facing trampolines. They carry raw handles only.
type (
	ConnectionCallback  func(conn Handle, connected bool)
	ControlCallback     func(req ControlRequest) ControlResponse
	TickCallback        func(now time.Time)
	WriteAccessCallback func(da Handle, value MmsValue, conn Handle) MmsDataAccessError
	RCBEventCallback    func(rcb, conn Handle, event RCBEventType, parameterName string, serviceError MmsDataAccessError)
	GoCBEventCallback   func(gcb Handle, event GoCBEventType)
	SVCBEventCallback   func(svcb Handle, event SVCBEventType)
	ReadAccessCallback  func(ld, ln, do Handle, fc FC, conn Handle) MmsDataAccessError

	DirectoryAccessCallback    func(conn Handle, category DirectoryCategory, ld Handle) bool
	DataSetAccessCallback      func(conn Handle, operation DataSetOperation, dataSetRef string) bool
	ControlBlockAccessCallback func(conn Handle, class ACSIClass, ld, ln Handle, objectName, subObjectName string, access ControlBlockAccessType) bool
	AuthenticatorCallback      func(param AuthenticationParameter, appRef IsoApplicationReference) (accepted bool, securityToken any)
)

// SettingGroupCallbacks groups the three setting group trampolines.
type SettingGroupCallbacks struct {
	ActiveChanged    func(sgcb Handle, newActSG int, conn Handle) bool
	EditChanged      func(sgcb Handle, newEditSG int, conn Handle) bool
	EditConfirmation func(sgcb Handle, editSG int)
}

// ControlService is the control service a client invoked.
type ControlService int

const (
	CONTROL_SERVICE_SELECT ControlService = iota
	CONTROL_SERVICE_SELECT_WITH_VALUE
	CONTROL_SERVICE_OPERATE
	CONTROL_SERVICE_CANCEL
)

// ControlRequest is a control service invocation forwarded by the engine.
type ControlRequest struct {
	Service        ControlService
	Object         Handle // controllable data object
	Connection     Handle // zero for locally initiated controls
	CtlVal         MmsValue
	Test           bool
	OrCat          OrCat
	OrIdent        []byte
	CtlNum         int // 0..255, -1 when not present
	SynchroCheck   bool
	InterlockCheck bool
	// ControlTime is the scheduled execution time in ms since epoch; 0 means immediate.
	ControlTime uint64
	T           Timestamp
}

// ControlResponse tells the engine how to answer the control service.
type ControlResponse struct {
	// Result is CONTROL_RESULT_OK for a positive response,
	// CONTROL_RESULT_WAITING when execution continues asynchronously and
	// CONTROL_RESULT_FAILED for a negative response.
	Result        ControlHandlerResult
	AccessError   MmsDataAccessError
	LastApplError ControlLastApplError
	AddCause      ControlAddCause
}

// CommandTermination is sent for enhanced-security controls after an
// asynchronous execution has finished.
type CommandTermination struct {
	Success       bool
	LastApplError ControlLastApplError
	AddCause      ControlAddCause
}

// TimeQuality holds the flags applied to timestamps generated by the engine.
type TimeQuality struct {
	LeapSecondKnown      bool
	ClockFailure         bool
	ClockNotSynchronized bool
	SubsecondPrecision   int
}
