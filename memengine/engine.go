// Package memengine is an in-memory iedserver.Engine. It keeps the data
// model tree, control blocks and connections in memory and exposes Simulate
// methods that play the role of the wire side: every Simulate call invokes
// the installed callback the way a protocol stack would on receiving the
// corresponding client service.
package memengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marrasen/iedserver"
)

const Version = "memengine 1.0.0"

type node struct {
	handle   iedserver.Handle
	kind     iedserver.NodeType
	name     string
	parent   iedserver.Handle
	children []iedserver.Handle

	// attributes
	fc     iedserver.FC
	daType iedserver.DataAttributeType
	value  iedserver.MmsValue

	// controllable data objects
	ctlModel   iedserver.ControlModel
	sboTimeout time.Duration

	rcbs  []iedserver.Handle
	gocbs []iedserver.Handle
	svcbs []iedserver.Handle
	sgcb  iedserver.Handle
}

type rcb struct {
	parent iedserver.Handle
	values iedserver.ReportControlBlockValues
}

type gocb struct {
	parent iedserver.Handle
	values iedserver.GoCBValues
}

type svcb struct {
	parent  iedserver.Handle
	name    string
	enabled bool
}

type sgcb struct {
	device iedserver.Handle
	value  iedserver.MmsValue
}

type connection struct {
	peer  string
	local string
	token any
}

type logStorage struct {
	backend    string
	location   string
	maxEntries int
}

// Engine is the in-memory engine. All methods are safe for concurrent use.
// Callbacks are invoked without any engine lock held.
type Engine struct {
	logger *slog.Logger

	iedName        string
	maxConnections int
	tickInterval   time.Duration
	logService     bool

	mu      sync.Mutex
	next    iedserver.Handle
	nodes   map[iedserver.Handle]*node
	devices []iedserver.Handle
	rcbs    map[iedserver.Handle]*rcb
	gocbs   map[iedserver.Handle]*gocb
	svcbs   map[iedserver.Handle]*svcb
	sgcbs   map[iedserver.Handle]*sgcb
	conns   map[iedserver.Handle]*connection
	stores  map[iedserver.Handle]*logStorage
	logs    map[string]iedserver.Handle

	running     bool
	localIP     string
	port        int
	stopTicker  context.CancelFunc
	tickerDone  chan struct{}
	identity    [3]string
	goose       bool
	timeQuality iedserver.TimeQuality
	terms       []CommandTermination
	updates     int

	dataMu sync.Mutex

	cbMu     sync.RWMutex
	cb       callbacks
	installs map[string]int
}

type callbacks struct {
	connection         iedserver.ConnectionCallback
	control            iedserver.ControlCallback
	tick               iedserver.TickCallback
	writeAccess        iedserver.WriteAccessCallback
	rcb                iedserver.RCBEventCallback
	gocb               iedserver.GoCBEventCallback
	svcb               iedserver.SVCBEventCallback
	readAccess         iedserver.ReadAccessCallback
	directoryAccess    iedserver.DirectoryAccessCallback
	dataSetAccess      iedserver.DataSetAccessCallback
	controlBlockAccess iedserver.ControlBlockAccessCallback
	settingGroup       iedserver.SettingGroupCallbacks
	authenticator      iedserver.AuthenticatorCallback
}

// CommandTermination records a command termination sent to a client.
type CommandTermination struct {
	Object     iedserver.Handle
	Connection iedserver.Handle
	iedserver.CommandTermination
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConnections limits concurrent associations; 0 means unlimited.
func WithMaxConnections(n int) Option {
	return func(e *Engine) { e.maxConnections = n }
}

// WithTickInterval makes a started engine call the tick callback
// periodically. Without it ticks only happen through SimulateTick.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// WithoutLogService builds an engine without log support: log storage
// operations fail with iedserver.ErrCapabilityAbsent.
func WithoutLogService() Option {
	return func(e *Engine) { e.logService = false }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an empty engine for an IED named iedName.
func New(iedName string, opts ...Option) *Engine {
	e := &Engine{
		logger:     slog.Default().With("component", "memengine"),
		iedName:    iedName,
		logService: true,
		next:       0x100,
		nodes:      make(map[iedserver.Handle]*node),
		rcbs:       make(map[iedserver.Handle]*rcb),
		gocbs:      make(map[iedserver.Handle]*gocb),
		svcbs:      make(map[iedserver.Handle]*svcb),
		sgcbs:      make(map[iedserver.Handle]*sgcb),
		conns:      make(map[iedserver.Handle]*connection),
		stores:     make(map[iedserver.Handle]*logStorage),
		logs:       make(map[string]iedserver.Handle),
		installs:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IedName returns the IED name used as object reference prefix.
func (e *Engine) IedName() string { return e.iedName }

func (e *Engine) allocLocked() iedserver.Handle {
	e.next++
	return e.next
}

func (e *Engine) addNodeLocked(parent iedserver.Handle, kind iedserver.NodeType, name string) *node {
	n := &node{handle: e.allocLocked(), kind: kind, name: name, parent: parent}
	e.nodes[n.handle] = n
	if p, ok := e.nodes[parent]; ok {
		p.children = append(p.children, n.handle)
	}
	return n
}

// AddLogicalDevice adds a logical device with the given ldInst.
func (e *Engine) AddLogicalDevice(ldInst string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.addNodeLocked(0, iedserver.NODE_TYPE_LOGICAL_DEVICE, ldInst)
	e.devices = append(e.devices, n.handle)
	return n.handle
}

func (e *Engine) AddLogicalNode(ld iedserver.Handle, name string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addNodeLocked(ld, iedserver.NODE_TYPE_LOGICAL_NODE, name).handle
}

// AddDataObject adds a data object below a logical node or another data
// object.
func (e *Engine) AddDataObject(parent iedserver.Handle, name string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addNodeLocked(parent, iedserver.NODE_TYPE_DATA_OBJECT, name).handle
}

// AddDataAttribute adds an attribute below a data object or a constructed
// attribute. Attributes below a constructed attribute inherit its FC.
func (e *Engine) AddDataAttribute(parent iedserver.Handle, name string, fc iedserver.FC, daType iedserver.DataAttributeType, value iedserver.MmsValue) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.addNodeLocked(parent, iedserver.NODE_TYPE_DATA_ATTRIBUTE, name)
	n.fc = fc
	if p, ok := e.nodes[parent]; ok && p.kind == iedserver.NODE_TYPE_DATA_ATTRIBUTE {
		n.fc = p.fc
		p.daType = iedserver.DA_TYPE_CONSTRUCTED
	}
	n.daType = daType
	n.value = value
	return n.handle
}

// SetControlModel configures a controllable data object.
func (e *Engine) SetControlModel(do iedserver.Handle, model iedserver.ControlModel, sboTimeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[do]; ok {
		n.ctlModel = model
		n.sboTimeout = sboTimeout
	}
}

func (e *Engine) AddRCB(ln iedserver.Handle, values iedserver.ReportControlBlockValues) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.allocLocked()
	e.rcbs[h] = &rcb{parent: ln, values: values}
	if n, ok := e.nodes[ln]; ok {
		n.rcbs = append(n.rcbs, h)
	}
	return h
}

func (e *Engine) AddGoCB(ln iedserver.Handle, values iedserver.GoCBValues) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.allocLocked()
	e.gocbs[h] = &gocb{parent: ln, values: values}
	if n, ok := e.nodes[ln]; ok {
		n.gocbs = append(n.gocbs, h)
	}
	return h
}

func (e *Engine) AddSVCB(ln iedserver.Handle, name string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.allocLocked()
	e.svcbs[h] = &svcb{parent: ln, name: name}
	if n, ok := e.nodes[ln]; ok {
		n.svcbs = append(n.svcbs, h)
	}
	return h
}

// AddSGCB adds a setting group control block with numOfSG groups to a
// logical device. Group actSG is active and being edited.
func (e *Engine) AddSGCB(ld iedserver.Handle, numOfSG, actSG int) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.allocLocked()
	e.sgcbs[h] = &sgcb{device: ld, value: sgcbValue(iedserver.SettingGroup{NumOfSG: numOfSG, ActSG: actSG, EditSG: actSG})}
	if n, ok := e.nodes[ld]; ok {
		n.sgcb = h
	}
	return h
}

func sgcbValue(sg iedserver.SettingGroup) iedserver.MmsValue {
	num := iedserver.NewInt32Value(int32(sg.NumOfSG))
	act := iedserver.NewInt32Value(int32(sg.ActSG))
	edit := iedserver.NewInt32Value(int32(sg.EditSG))
	cnf := iedserver.NewBooleanValue(sg.CnfEdit)
	return iedserver.NewStructureValue(&num, &act, &edit, &cnf)
}

// AddLog declares a log that a storage can be bound to.
func (e *Engine) AddLog(logRef string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs[logRef] = 0
}

// LogStorageOf returns the storage bound to logRef, or 0.
func (e *Engine) LogStorageOf(logRef string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logs[logRef]
}

// Reparent rewires the parent link of a node without touching child lists.
// It exists to build corrupt graphs in tests.
func (e *Engine) Reparent(h, parent iedserver.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		n.parent = parent
	}
}

// Retag overwrites the type tag of a node. Like Reparent it exists for
// integrity tests.
func (e *Engine) Retag(h iedserver.Handle, kind iedserver.NodeType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		n.kind = kind
	}
}

// Handle looks up a node by full object reference and panics when it does
// not exist. It is meant for building tests and examples.
func (e *Engine) Handle(ref string) iedserver.Handle {
	h := e.NodeByObjectReference(ref)
	if h == 0 {
		panic(fmt.Sprintf("memengine: no node %q", ref))
	}
	return h
}

// CommandTerminations returns the command terminations sent so far.
func (e *Engine) CommandTerminations() []CommandTermination {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CommandTermination(nil), e.terms...)
}

// Installs returns how often the callback of the given kind was installed,
// e.g. "control" or "rcb".
func (e *Engine) Installs(kind string) int {
	e.cbMu.RLock()
	defer e.cbMu.RUnlock()
	return e.installs[kind]
}

// Updates returns the number of attribute updates applied.
func (e *Engine) Updates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates
}

func (e *Engine) GooseEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.goose
}

func (e *Engine) Identity() (vendor, model, revision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity[0], e.identity[1], e.identity[2]
}

func (e *Engine) TimeQuality() iedserver.TimeQuality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeQuality
}

var _ iedserver.Engine = (*Engine)(nil)
