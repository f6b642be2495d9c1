package iedserver

// PhyComAddress is the layer 2 destination of a GOOSE or SV publisher.
type PhyComAddress struct {
	VlanPriority uint8
	VlanID       uint16
	AppID        uint16
	DstAddress   [6]byte
}

// GoCBValues is the engine's current view of a GOOSE control block.
type GoCBValues struct {
	Name    string
	GoEna   bool
	GoID    string
	DatSet  string
	ConfRev uint32
	NdsCom  bool
	MinTime uint32 // ms
	MaxTime uint32 // ms
	Address PhyComAddress
}

// GSEControlBlock wraps an engine GOOSE control block. Like RCBs, wrappers
// are cached on the owning LogicalNode.
type GSEControlBlock struct {
	handle Handle
	parent *LogicalNode
}

func (g *GSEControlBlock) Handle() Handle       { return g.handle }
func (g *GSEControlBlock) Parent() *LogicalNode { return g.parent }

func (g *GSEControlBlock) Values() GoCBValues {
	return g.parent.model.engine.GoCBValues(g.handle)
}

func (g *GSEControlBlock) GetName() string { return g.Values().Name }
func (g *GSEControlBlock) IsEnabled() bool { return g.Values().GoEna }

// ObjectReference returns <LD>/<LN>.GO.<name>.
func (g *GSEControlBlock) ObjectReference() string {
	return g.parent.ObjectReference(false) + "." + GO.String() + "." + g.GetName()
}
