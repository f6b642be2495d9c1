package iedserver

import (
	"fmt"
	"sync"
)

// ModelNode is one node of the IED data model. The concrete type is always
// one of *LogicalDevice, *LogicalNode, *DataObject or *DataAttribute.
type ModelNode interface {
	Handle() Handle
	NodeType() NodeType
	Name() string
	// Parent returns nil for a logical device.
	Parent() ModelNode
	Children() ([]ModelNode, error)
	Child(name string) (ModelNode, error)
	ObjectReference(withoutIedName bool) string
	Model() *IedModel

	isModelNode()
}

type modelNode struct {
	model  *IedModel
	handle Handle
	parent ModelNode
}

func (n *modelNode) Handle() Handle    { return n.handle }
func (n *modelNode) Parent() ModelNode { return n.parent }
func (n *modelNode) Model() *IedModel  { return n.model }
func (n *modelNode) isModelNode()      {}

func (n *modelNode) Name() string {
	return n.model.engine.NodeName(n.handle)
}

func (n *modelNode) ObjectReference(withoutIedName bool) string {
	return n.model.engine.ObjectReference(n.handle, withoutIedName)
}

// Children resolves the direct children in model order. Repeated calls
// return the same node values.
func (n *modelNode) Children() ([]ModelNode, error) {
	handles := n.model.engine.NodeChildren(n.handle)
	children := make([]ModelNode, 0, len(handles))
	for _, h := range handles {
		c, err := n.model.Resolve(h)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, nil
}

func (n *modelNode) Child(name string) (ModelNode, error) {
	h := n.model.engine.NodeChild(n.handle, name)
	if h == 0 {
		return nil, fmt.Errorf("Child %q of %s: %w", name, n.ObjectReference(false), ErrNodeNotFound)
	}
	return n.model.Resolve(h)
}

// LogicalDevice is the root of a model subtree.
type LogicalDevice struct {
	modelNode

	sgcbOnce sync.Once
	sgcb     *SettingGroupControlBlock
}

func (ld *LogicalDevice) NodeType() NodeType { return NODE_TYPE_LOGICAL_DEVICE }

// SettingGroupControlBlock returns the device's SGCB or nil when the device
// has no setting groups.
func (ld *LogicalDevice) SettingGroupControlBlock() *SettingGroupControlBlock {
	ld.sgcbOnce.Do(func() {
		h := ld.model.engine.SettingGroupControlBlock(ld.handle)
		if h != 0 {
			ld.sgcb = &SettingGroupControlBlock{handle: h, device: ld}
		}
	})
	return ld.sgcb
}

// LogicalNode owns the wrappers of the control blocks it hosts so that
// events for the same block always deliver the same wrapper.
type LogicalNode struct {
	modelNode

	mu    sync.Mutex
	rcbs  map[Handle]*ReportControlBlock
	gocbs map[Handle]*GSEControlBlock
	svcbs map[Handle]*SVControlBlock
}

func (ln *LogicalNode) NodeType() NodeType { return NODE_TYPE_LOGICAL_NODE }

// LogicalDevice returns the owning device.
func (ln *LogicalNode) LogicalDevice() *LogicalDevice {
	ld, _ := ln.parent.(*LogicalDevice)
	return ld
}

func (ln *LogicalNode) reportControlBlock(h Handle) *ReportControlBlock {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if rcb, ok := ln.rcbs[h]; ok {
		return rcb
	}
	if ln.rcbs == nil {
		ln.rcbs = make(map[Handle]*ReportControlBlock)
	}
	rcb := &ReportControlBlock{handle: h, parent: ln}
	ln.rcbs[h] = rcb
	return rcb
}

// ReportControlBlocks returns the node's report control blocks.
func (ln *LogicalNode) ReportControlBlocks() ([]*ReportControlBlock, error) {
	if err := ln.alive(); err != nil {
		return nil, err
	}
	handles := ln.model.engine.RCBs(ln.handle)
	rcbs := make([]*ReportControlBlock, 0, len(handles))
	for _, h := range handles {
		rcbs = append(rcbs, ln.reportControlBlock(h))
	}
	return rcbs, nil
}

func (ln *LogicalNode) gseControlBlock(h Handle) *GSEControlBlock {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if gcb, ok := ln.gocbs[h]; ok {
		return gcb
	}
	if ln.gocbs == nil {
		ln.gocbs = make(map[Handle]*GSEControlBlock)
	}
	gcb := &GSEControlBlock{handle: h, parent: ln}
	ln.gocbs[h] = gcb
	return gcb
}

// GSEControlBlocks returns the node's GOOSE control blocks.
func (ln *LogicalNode) GSEControlBlocks() ([]*GSEControlBlock, error) {
	if err := ln.alive(); err != nil {
		return nil, err
	}
	handles := ln.model.engine.GoCBs(ln.handle)
	gcbs := make([]*GSEControlBlock, 0, len(handles))
	for _, h := range handles {
		gcbs = append(gcbs, ln.gseControlBlock(h))
	}
	return gcbs, nil
}

// SVControlBlock returns the sampled value control block with the given name.
func (ln *LogicalNode) SVControlBlock(name string) (*SVControlBlock, error) {
	if err := ln.alive(); err != nil {
		return nil, err
	}
	h := ln.model.engine.SVCB(ln.handle, name)
	if h == 0 {
		return nil, fmt.Errorf("SVControlBlock %q of %s: %w", name, ln.ObjectReference(false), ErrNodeNotFound)
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if svcb, ok := ln.svcbs[h]; ok {
		return svcb, nil
	}
	if ln.svcbs == nil {
		ln.svcbs = make(map[Handle]*SVControlBlock)
	}
	svcb := &SVControlBlock{handle: h, parent: ln}
	ln.svcbs[h] = svcb
	return svcb, nil
}

func (ln *LogicalNode) alive() error {
	ln.model.mu.Lock()
	defer ln.model.mu.Unlock()
	if ln.model.nodes == nil {
		return ErrModelDestroyed
	}
	return nil
}

// DataObject is a data object, possibly nested in another data object.
// Controllable objects (Oper/SBOw children) carry the control handlers.
type DataObject struct {
	modelNode
}

func (do *DataObject) NodeType() NodeType { return NODE_TYPE_DATA_OBJECT }

// LogicalNode returns the logical node that hosts this object, walking up
// through enclosing data objects.
func (do *DataObject) LogicalNode() *LogicalNode {
	for p := do.parent; p != nil; p = p.Parent() {
		if ln, ok := p.(*LogicalNode); ok {
			return ln
		}
	}
	return nil
}

// ChildWithFC returns the child attribute with the given name and
// functional constraint.
func (do *DataObject) ChildWithFC(name string, fc FC) (*DataAttribute, error) {
	n, err := do.Child(name)
	if err != nil {
		return nil, err
	}
	da, ok := n.(*DataAttribute)
	if !ok || da.FC() != fc {
		return nil, fmt.Errorf("ChildWithFC %s[%s] of %s: %w", name, fc, do.ObjectReference(false), ErrNodeNotFound)
	}
	return da, nil
}

// DataAttribute is a basic or constructed attribute.
type DataAttribute struct {
	modelNode
}

func (da *DataAttribute) NodeType() NodeType { return NODE_TYPE_DATA_ATTRIBUTE }

// FC returns the functional constraint of the attribute.
func (da *DataAttribute) FC() FC {
	return da.model.engine.AttributeFC(da.handle)
}

func (da *DataAttribute) Type() DataAttributeType {
	return da.model.engine.AttributeType(da.handle)
}

// asDataAttribute and friends convert a resolved node, reporting a mismatch
// as ErrWrongNodeType.
func asDataAttribute(n ModelNode) (*DataAttribute, error) {
	da, ok := n.(*DataAttribute)
	if !ok {
		return nil, fmt.Errorf("%s is %s: %w", n.ObjectReference(false), n.NodeType(), ErrWrongNodeType)
	}
	return da, nil
}

func asDataObject(n ModelNode) (*DataObject, error) {
	do, ok := n.(*DataObject)
	if !ok {
		return nil, fmt.Errorf("%s is %s: %w", n.ObjectReference(false), n.NodeType(), ErrWrongNodeType)
	}
	return do, nil
}

func asLogicalNode(n ModelNode) (*LogicalNode, error) {
	ln, ok := n.(*LogicalNode)
	if !ok {
		return nil, fmt.Errorf("%s is %s: %w", n.ObjectReference(false), n.NodeType(), ErrWrongNodeType)
	}
	return ln, nil
}

func asLogicalDevice(n ModelNode) (*LogicalDevice, error) {
	ld, ok := n.(*LogicalDevice)
	if !ok {
		return nil, fmt.Errorf("%s is %s: %w", n.ObjectReference(false), n.NodeType(), ErrWrongNodeType)
	}
	return ld, nil
}
