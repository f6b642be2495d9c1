package iedserver

// SVControlBlock wraps an engine sampled value control block.
type SVControlBlock struct {
	handle Handle
	parent *LogicalNode
}

func (s *SVControlBlock) Handle() Handle       { return s.handle }
func (s *SVControlBlock) Parent() *LogicalNode { return s.parent }

func (s *SVControlBlock) GetName() string {
	return s.parent.model.engine.SVCBName(s.handle)
}
