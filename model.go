package iedserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxResolveDepth bounds a single parent-chain resolution. A valid model is
// LD > LN > DO > DA with nested DOs and DAs, far shallower than this.
const maxResolveDepth = 64

var (
	errRepeatedHandle = errors.New("handle repeated in parent chain")
	errChainTooDeep   = fmt.Errorf("parent chain deeper than %d", maxResolveDepth)
	errParentMismatch = errors.New("parent node type cannot own child")
)

// IedModel is the managed view of the engine's data model tree. It owns the
// identity cache: for every live handle at most one ModelNode exists, so
// handlers can compare nodes with ==.
type IedModel struct {
	engine ModelEngine

	mu    sync.Mutex
	nodes map[Handle]ModelNode
}

// NewIedModel creates the managed model for the tree the engine was built
// with. Nodes are materialized lazily on first use.
func NewIedModel(engine ModelEngine) *IedModel {
	return &IedModel{
		engine: engine,
		nodes:  make(map[Handle]ModelNode),
	}
}

// Resolve returns the managed node for a native handle, creating it and any
// missing ancestors on first use. A broken handle graph yields an
// *IntegrityError.
func (m *IedModel) Resolve(h Handle) (ModelNode, error) {
	if h == 0 {
		return nil, ErrNilHandle
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes == nil {
		return nil, ErrModelDestroyed
	}
	return m.resolveLocked(h)
}

// MustResolve is Resolve for callers that treat a failed resolution as a
// broken program. It panics with the resolution diagnostic.
func (m *IedModel) MustResolve(h Handle) ModelNode {
	n, err := m.Resolve(h)
	if err != nil {
		panic(err)
	}
	return n
}

func (m *IedModel) resolveLocked(h Handle) (ModelNode, error) {
	if n, ok := m.nodes[h]; ok {
		return n, nil
	}

	// Walk up until a cached ancestor or the root device, then materialize
	// top-down so every new node gets its parent pointer at construction.
	var chain []Handle
	seen := make(map[Handle]struct{})
	var parent ModelNode
	for cur := h; cur != 0; {
		if n, ok := m.nodes[cur]; ok {
			parent = n
			break
		}
		if _, dup := seen[cur]; dup {
			return nil, &IntegrityError{Handle: h, Chain: append(chain, cur), Reason: errRepeatedHandle}
		}
		if len(chain) >= maxResolveDepth {
			return nil, &IntegrityError{Handle: h, Chain: chain, Reason: errChainTooDeep}
		}
		seen[cur] = struct{}{}
		chain = append(chain, cur)
		cur = m.engine.NodeParent(cur)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		n, err := m.newNode(chain[i], parent)
		if err != nil {
			return nil, &IntegrityError{Handle: h, Chain: chain, Reason: err}
		}
		m.nodes[chain[i]] = n
		parent = n
	}
	return parent, nil
}

func (m *IedModel) newNode(h Handle, parent ModelNode) (ModelNode, error) {
	base := modelNode{model: m, handle: h, parent: parent}
	switch t := m.engine.NodeType(h); t {
	case NODE_TYPE_LOGICAL_DEVICE:
		if parent != nil {
			return nil, fmt.Errorf("%w: logical device under %s", errParentMismatch, parent.NodeType())
		}
		return &LogicalDevice{modelNode: base}, nil
	case NODE_TYPE_LOGICAL_NODE:
		if _, ok := parent.(*LogicalDevice); !ok {
			return nil, fmt.Errorf("%w: logical node under %s", errParentMismatch, nodeTypeOf(parent))
		}
		return &LogicalNode{modelNode: base}, nil
	case NODE_TYPE_DATA_OBJECT:
		switch parent.(type) {
		case *LogicalNode, *DataObject:
		default:
			return nil, fmt.Errorf("%w: data object under %s", errParentMismatch, nodeTypeOf(parent))
		}
		return &DataObject{modelNode: base}, nil
	case NODE_TYPE_DATA_ATTRIBUTE:
		switch parent.(type) {
		case *DataObject, *DataAttribute:
		default:
			return nil, fmt.Errorf("%w: data attribute under %s", errParentMismatch, nodeTypeOf(parent))
		}
		return &DataAttribute{modelNode: base}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownNodeType, int(t))
	}
}

func nodeTypeOf(n ModelNode) string {
	if n == nil {
		return "<root>"
	}
	return n.NodeType().String()
}

// Len returns the number of cached nodes.
func (m *IedModel) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

// GetModelNodeByObjectReference looks up a node by its full object
// reference, e.g. "simpleIOGenericIO/GGIO1.SPCSO1.stVal".
func (m *IedModel) GetModelNodeByObjectReference(ref string) (ModelNode, error) {
	h := m.engine.NodeByObjectReference(ref)
	if h == 0 {
		return nil, fmt.Errorf("GetModelNodeByObjectReference %q: %w", ref, ErrNodeNotFound)
	}
	return m.Resolve(h)
}

// GetModelNodeByShortObjectReference looks up a node by a reference without
// the IED name prefix, e.g. "GenericIO/GGIO1.SPCSO1".
func (m *IedModel) GetModelNodeByShortObjectReference(ref string) (ModelNode, error) {
	h := m.engine.NodeByShortObjectReference(ref)
	if h == 0 {
		return nil, fmt.Errorf("GetModelNodeByShortObjectReference %q: %w", ref, ErrNodeNotFound)
	}
	return m.Resolve(h)
}

// GetDeviceByInst returns the logical device with the given ldInst.
func (m *IedModel) GetDeviceByInst(ldInst string) (*LogicalDevice, error) {
	h := m.engine.DeviceByInst(ldInst)
	if h == 0 {
		return nil, fmt.Errorf("GetDeviceByInst %q: %w", ldInst, ErrNodeNotFound)
	}
	n, err := m.Resolve(h)
	if err != nil {
		return nil, err
	}
	ld, ok := n.(*LogicalDevice)
	if !ok {
		return nil, fmt.Errorf("GetDeviceByInst %q is %s: %w", ldInst, n.NodeType(), ErrWrongNodeType)
	}
	return ld, nil
}

// Devices returns the logical devices in model order.
func (m *IedModel) Devices() ([]*LogicalDevice, error) {
	handles := m.engine.Devices()
	lds := make([]*LogicalDevice, 0, len(handles))
	for _, h := range handles {
		n, err := m.Resolve(h)
		if err != nil {
			return nil, err
		}
		ld, ok := n.(*LogicalDevice)
		if !ok {
			return nil, &IntegrityError{Handle: h, Reason: fmt.Errorf("%w: device list entry is %s", errParentMismatch, n.NodeType())}
		}
		lds = append(lds, ld)
	}
	return lds, nil
}

// Preload materializes the whole tree, walking logical devices concurrently.
// It returns the number of cached nodes afterwards.
func (m *IedModel) Preload(ctx context.Context) (int, error) {
	lds, err := m.Devices()
	if err != nil {
		return 0, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, ld := range lds {
		ld := ld
		eg.Go(func() error {
			return m.preloadNode(ctx, ld)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("Preload: %w", err)
	}
	return m.Len(), nil
}

func (m *IedModel) preloadNode(ctx context.Context, n ModelNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, err := n.Children()
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := m.preloadNode(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Destroy drops the identity cache. Nodes obtained earlier stay readable as
// values but every operation that needs the cache returns ErrModelDestroyed.
func (m *IedModel) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nil
}

// Snapshot renders the current tree into the printable DataModel form. Engines
// that also report control models and attribute values get both filled in.
func (m *IedModel) Snapshot() (DataModel, error) {
	var dm DataModel
	src, _ := m.engine.(snapshotSource)
	lds, err := m.Devices()
	if err != nil {
		return dm, err
	}
	for _, ld := range lds {
		children, err := ld.Children()
		if err != nil {
			return dm, err
		}
		dev := LD{Name: ld.Name(), Ref: ld.ObjectReference(false)}
		for _, c := range children {
			ln, ok := c.(*LogicalNode)
			if !ok {
				continue
			}
			node, err := snapshotLN(src, ln)
			if err != nil {
				return dm, err
			}
			dev.Nodes = append(dev.Nodes, node)
		}
		dm.Devices = append(dm.Devices, dev)
	}
	return dm, nil
}

func snapshotLN(src snapshotSource, ln *LogicalNode) (LN, error) {
	out := LN{Name: ln.Name(), Ref: ln.ObjectReference(false)}
	children, err := ln.Children()
	if err != nil {
		return out, err
	}
	for _, c := range children {
		do, ok := c.(*DataObject)
		if !ok {
			continue
		}
		obj, err := snapshotDO(src, do)
		if err != nil {
			return out, err
		}
		out.Objects = append(out.Objects, obj)
	}
	rcbs, err := ln.ReportControlBlocks()
	if err != nil {
		return out, err
	}
	for _, rcb := range rcbs {
		v := rcb.Values()
		out.Reports = append(out.Reports, Report{
			Name:     v.Name,
			Ref:      rcb.ObjectReference(),
			Buffered: v.Buffered,
			Enabled:  v.Ena,
			RptID:    v.RptId,
			DataSet:  v.DatSet,
			ConfRev:  v.ConfRev,
		})
	}
	return out, nil
}

func snapshotDO(src snapshotSource, do *DataObject) (DO, error) {
	out := DO{Name: do.Name(), Ref: do.ObjectReference(false)}
	if src != nil {
		out.Control = src.ControlModel(do.handle)
	}
	children, err := do.Children()
	if err != nil {
		return out, err
	}
	for _, c := range children {
		switch n := c.(type) {
		case *DataAttribute:
			da, err := snapshotDA(src, n)
			if err != nil {
				return out, err
			}
			out.Attributes = append(out.Attributes, da)
		case *DataObject:
			sub, err := snapshotDO(src, n)
			if err != nil {
				return out, err
			}
			out.Objects = append(out.Objects, sub)
		}
	}
	return out, nil
}

func snapshotDA(src snapshotSource, da *DataAttribute) (DA, error) {
	out := DA{Name: da.Name(), Ref: da.ObjectReference(false), FC: da.FC()}
	children, err := da.Children()
	if err != nil {
		return out, err
	}
	if len(children) == 0 && src != nil {
		if v, ok := src.AttributeValue(da.handle); ok {
			out.Value = &v
		}
	}
	for _, c := range children {
		if sub, ok := c.(*DataAttribute); ok {
			s, err := snapshotDA(src, sub)
			if err != nil {
				return out, err
			}
			out.Attributes = append(out.Attributes, s)
		}
	}
	return out, nil
}
