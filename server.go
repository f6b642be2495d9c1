package iedserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IedServer connects an IedModel to a protocol engine: it resolves every
// engine callback into managed model nodes and connections and dispatches it
// to the registered handlers.
type IedServer struct {
	model   *IedModel
	engine  Engine
	cfg     Config
	logger  *slog.Logger
	metrics *serverMetrics
	reg     prometheus.Registerer
	now     func() time.Time

	installMu sync.Mutex
	installed map[callbackKind]bool

	router   *router
	controls *controlTable
	conns    *connectionRegistry

	capMu     sync.Mutex
	capWarned map[string]bool

	mu        sync.Mutex
	destroyed bool
}

// Option configures an IedServer.
type Option func(*IedServer)

// WithLogger sets the logger. The default is slog.Default() tagged with
// component=iedserver.
func WithLogger(logger *slog.Logger) Option {
	return func(s *IedServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfig replaces DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(s *IedServer) {
		s.cfg = cfg
	}
}

// WithMetrics registers the server collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *IedServer) {
		s.reg = reg
	}
}

// WithClock overrides time.Now for select deadlines and activation times.
func WithClock(now func() time.Time) Option {
	return func(s *IedServer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a server for model on engine. The connection and write
// access callbacks are installed immediately: the connection registry and
// the default write policy apply whether or not handlers are registered.
func NewServer(model *IedModel, engine Engine, opts ...Option) (*IedServer, error) {
	s := &IedServer{
		model:     model,
		engine:    engine,
		cfg:       DefaultConfig(),
		now:       time.Now,
		installed: make(map[callbackKind]bool),
		controls:  newControlTable(),
		conns:     newConnectionRegistry(),
		capWarned: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if err = s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewServer: %w", err)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "iedserver")
	}
	if s.metrics, err = newServerMetrics(s.cfg.Metrics.Namespace, s.reg, func() float64 { return float64(model.Len()) }); err != nil {
		return nil, fmt.Errorf("NewServer: %w", err)
	}
	policies, err := s.cfg.writePolicies()
	if err != nil {
		return nil, fmt.Errorf("NewServer: %w", err)
	}
	s.router = newRouter(policies)

	if s.cfg.Server.Vendor != "" || s.cfg.Server.Model != "" || s.cfg.Server.Revision != "" {
		engine.SetServerIdentity(s.cfg.Server.Vendor, s.cfg.Server.Model, s.cfg.Server.Revision)
	}
	s.install(callbackConnection, func() { engine.SetConnectionCallback(s.onConnection) })
	s.installWriteAccess()
	return s, nil
}

// Model returns the model the server was created with.
func (s *IedServer) Model() *IedModel { return s.model }

// Version returns the engine version string.
func (s *IedServer) Version() string { return s.engine.Version() }

// Start starts listening on the configured address and port.
func (s *IedServer) Start(ctx context.Context) error {
	if err := s.alive(); err != nil {
		return err
	}
	if s.engine.IsRunning() {
		return ErrServerRunning
	}
	addr, port := s.cfg.Server.LocalIP, s.cfg.Server.Port
	if err := s.engine.Start(ctx, addr, port); err != nil {
		return fmt.Errorf("Start %s:%d: %w", addr, port, err)
	}
	s.logger.Info("server started", "local_ip", addr, "port", port, "engine", s.engine.Version())
	return nil
}

// Stop stops listening and closes all connections.
func (s *IedServer) Stop() {
	if !s.engine.IsRunning() {
		return
	}
	s.engine.Stop()
	s.logger.Info("server stopped")
}

// Destroy stops the server. Every later call that needs the engine returns
// ErrServerStopped.
func (s *IedServer) Destroy() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *IedServer) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrServerStopped
	}
	return nil
}

func (s *IedServer) IsRunning() bool { return s.engine.IsRunning() }

// OpenConnections returns the number of client connections the engine
// reports.
func (s *IedServer) OpenConnections() int { return s.engine.OpenConnections() }

// Connections returns the currently registered client connections.
func (s *IedServer) Connections() []*ClientConnection { return s.conns.all() }

// SetServerIdentity sets vendor, model and revision of the server.
func (s *IedServer) SetServerIdentity(vendor, model, revision string) {
	s.engine.SetServerIdentity(vendor, model, revision)
}

// LockDataModel blocks client access to the data model until
// UnlockDataModel, so a group of updates is observed atomically. It must
// not be called from a write, read, access or control block handler: those
// already run under the engine's data model lock and reentrant locking
// deadlocks.
func (s *IedServer) LockDataModel() { s.engine.LockDataModel() }

func (s *IedServer) UnlockDataModel() { s.engine.UnlockDataModel() }

// UpdateAttributeValue writes value to da and triggers reporting.
func (s *IedServer) UpdateAttributeValue(da *DataAttribute, value MmsValue) error {
	if err := s.alive(); err != nil {
		return err
	}
	if da == nil {
		return fmt.Errorf("UpdateAttributeValue: %w", ErrNodeNotFound)
	}
	if err := s.engine.UpdateAttributeValue(da.handle, value); err != nil {
		return fmt.Errorf("UpdateAttributeValue %s: %w", da.ObjectReference(false), err)
	}
	return nil
}

func (s *IedServer) UpdateBooleanAttributeValue(da *DataAttribute, value bool) error {
	return s.UpdateAttributeValue(da, NewBooleanValue(value))
}

func (s *IedServer) UpdateInt32AttributeValue(da *DataAttribute, value int32) error {
	return s.UpdateAttributeValue(da, NewInt32Value(value))
}

func (s *IedServer) UpdateInt64AttributeValue(da *DataAttribute, value int64) error {
	return s.UpdateAttributeValue(da, NewInt64Value(value))
}

func (s *IedServer) UpdateUnsignedAttributeValue(da *DataAttribute, value uint32) error {
	return s.UpdateAttributeValue(da, NewUint32Value(value))
}

func (s *IedServer) UpdateFloatAttributeValue(da *DataAttribute, value float32) error {
	return s.UpdateAttributeValue(da, NewFloatValue(value))
}

func (s *IedServer) UpdateVisibleStringAttributeValue(da *DataAttribute, value string) error {
	return s.UpdateAttributeValue(da, NewVisibleStringValue(value))
}

// UpdateUTCTimeAttributeValue sets a timestamp attribute from ms since epoch.
func (s *IedServer) UpdateUTCTimeAttributeValue(da *DataAttribute, ms int64) error {
	return s.UpdateAttributeValue(da, NewUTCTimeValue(uint64(ms)))
}

// UpdateTimestampAttributeValue sets a timestamp attribute including its
// time quality flags.
func (s *IedServer) UpdateTimestampAttributeValue(da *DataAttribute, ts Timestamp) error {
	return s.UpdateAttributeValue(da, NewTimestampValue(ts))
}

func (s *IedServer) UpdateQuality(da *DataAttribute, q Quality) error {
	return s.UpdateAttributeValue(da, NewQualityValue(q))
}

// GetAttributeValue returns a copy of the current value of da.
func (s *IedServer) GetAttributeValue(da *DataAttribute) (MmsValue, error) {
	v, ok := s.engine.AttributeValue(da.handle)
	if !ok {
		return MmsValue{}, fmt.Errorf("GetAttributeValue %s: %w", da.ObjectReference(false), ErrNodeNotFound)
	}
	return v.Clone(), nil
}

// GetFunctionalConstrainedData returns the structure of all attributes of
// do with functional constraint fc.
func (s *IedServer) GetFunctionalConstrainedData(do *DataObject, fc FC) (MmsValue, error) {
	v, ok := s.engine.FunctionalConstrainedData(do.handle, fc)
	if !ok {
		return MmsValue{}, fmt.Errorf("GetFunctionalConstrainedData %s[%s]: %w", do.ObjectReference(false), fc, ErrNodeNotFound)
	}
	return v, nil
}

func (s *IedServer) EnableGoosePublishing()  { s.engine.EnableGoosePublishing() }
func (s *IedServer) DisableGoosePublishing() { s.engine.DisableGoosePublishing() }

// SetTimeQuality sets the flags of timestamps generated by the engine.
func (s *IedServer) SetTimeQuality(q TimeQuality) { s.engine.SetTimeQuality(q) }

// ChangeActiveSettingGroup switches the active setting group locally. The
// active setting group changed handler is not consulted.
func (s *IedServer) ChangeActiveSettingGroup(sgcb *SettingGroupControlBlock, sg int) error {
	if err := s.engine.ChangeActiveSettingGroup(sgcb.handle, sg); err != nil {
		return fmt.Errorf("ChangeActiveSettingGroup %d: %w", sg, err)
	}
	return nil
}

// SetLogStorage binds storage to the log logRef (e.g. "GenericIO/LLN0$EventLog").
// A nil storage unbinds it. Engines without log support fail with
// ErrCapabilityAbsent; that is reported once and the server keeps running.
func (s *IedServer) SetLogStorage(logRef string, storage *LogStorage) error {
	var h Handle
	if storage != nil {
		h = storage.Handle()
	}
	if err := s.engine.SetLogStorage(logRef, h); err != nil {
		s.capabilityAbsent("SetLogStorage", err)
		return fmt.Errorf("SetLogStorage %q: %w", logRef, err)
	}
	return nil
}

// NewLogStorage opens a log storage backend on the server's engine.
func (s *IedServer) NewLogStorage(backend, location string) (*LogStorage, error) {
	l, err := NewLogStorage(s.engine, backend, location)
	if err != nil {
		s.capabilityAbsent("NewLogStorage/"+backend, err)
		return nil, err
	}
	return l, nil
}

func (s *IedServer) capabilityAbsent(site string, err error) {
	if !errors.Is(err, ErrCapabilityAbsent) {
		return
	}
	s.capMu.Lock()
	warned := s.capWarned[site]
	s.capWarned[site] = true
	s.capMu.Unlock()
	if !warned {
		s.logger.Warn("engine feature unavailable", "call", site, "error", err)
	}
}
