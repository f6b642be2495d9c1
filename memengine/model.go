package memengine

import (
	"strings"

	"github.com/marrasen/iedserver"
)

func (e *Engine) NodeType(h iedserver.Handle) iedserver.NodeType {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		return n.kind
	}
	return iedserver.NodeType(-1)
}

func (e *Engine) NodeParent(h iedserver.Handle) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		return n.parent
	}
	return 0
}

func (e *Engine) NodeChildren(h iedserver.Handle) []iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		return append([]iedserver.Handle(nil), n.children...)
	}
	return nil
}

func (e *Engine) NodeChild(h iedserver.Handle, name string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.childLocked(h, name)
}

func (e *Engine) childLocked(h iedserver.Handle, name string) iedserver.Handle {
	n, ok := e.nodes[h]
	if !ok {
		return 0
	}
	for _, c := range n.children {
		if e.nodes[c].name == name {
			return c
		}
	}
	return 0
}

func (e *Engine) NodeName(h iedserver.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[h]; ok {
		return n.name
	}
	return ""
}

// ObjectReference formats <IED><LD>/<LN>.<DO>.<DA>. Without the IED name
// the logical device part is the bare ldInst.
func (e *Engine) ObjectReference(h iedserver.Handle, withoutIedName bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var parts []string
	seen := make(map[iedserver.Handle]bool)
	for cur := h; cur != 0 && !seen[cur]; {
		seen[cur] = true
		n, ok := e.nodes[cur]
		if !ok {
			break
		}
		if n.kind == iedserver.NODE_TYPE_LOGICAL_DEVICE {
			ld := n.name
			if !withoutIedName {
				ld = e.iedName + ld
			}
			if len(parts) == 0 {
				return ld
			}
			return ld + "/" + strings.Join(parts, ".")
		}
		parts = append([]string{n.name}, parts...)
		cur = n.parent
	}
	return strings.Join(parts, ".")
}

func (e *Engine) NodeByObjectReference(ref string) iedserver.Handle {
	ldPart, rest, _ := strings.Cut(ref, "/")
	if !strings.HasPrefix(ldPart, e.iedName) {
		return 0
	}
	return e.lookup(strings.TrimPrefix(ldPart, e.iedName), rest)
}

func (e *Engine) NodeByShortObjectReference(ref string) iedserver.Handle {
	ldPart, rest, _ := strings.Cut(ref, "/")
	return e.lookup(ldPart, rest)
}

func (e *Engine) lookup(ldInst, path string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.deviceLocked(ldInst)
	if cur == 0 || path == "" {
		return cur
	}
	for _, name := range strings.Split(path, ".") {
		if cur = e.childLocked(cur, name); cur == 0 {
			return 0
		}
	}
	return cur
}

func (e *Engine) DeviceByInst(ldInst string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceLocked(ldInst)
}

func (e *Engine) deviceLocked(ldInst string) iedserver.Handle {
	for _, h := range e.devices {
		if e.nodes[h].name == ldInst {
			return h
		}
	}
	return 0
}

func (e *Engine) Devices() []iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]iedserver.Handle(nil), e.devices...)
}

func (e *Engine) AttributeFC(da iedserver.Handle) iedserver.FC {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[da]; ok && n.kind == iedserver.NODE_TYPE_DATA_ATTRIBUTE {
		return n.fc
	}
	return iedserver.NONE
}

func (e *Engine) AttributeType(da iedserver.Handle) iedserver.DataAttributeType {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[da]; ok {
		return n.daType
	}
	return iedserver.DA_TYPE_CONSTRUCTED
}

func (e *Engine) RCBs(ln iedserver.Handle) []iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[ln]; ok {
		return append([]iedserver.Handle(nil), n.rcbs...)
	}
	return nil
}

func (e *Engine) RCBParent(h iedserver.Handle) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rcbs[h]; ok {
		return r.parent
	}
	return 0
}

func (e *Engine) RCBValues(h iedserver.Handle) iedserver.ReportControlBlockValues {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rcbs[h]; ok {
		v := r.values
		v.Owner = append([]byte(nil), r.values.Owner...)
		return v
	}
	return iedserver.ReportControlBlockValues{}
}

func (e *Engine) GoCBs(ln iedserver.Handle) []iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[ln]; ok {
		return append([]iedserver.Handle(nil), n.gocbs...)
	}
	return nil
}

func (e *Engine) GoCBParent(h iedserver.Handle) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gocbs[h]; ok {
		return g.parent
	}
	return 0
}

func (e *Engine) GoCBValues(h iedserver.Handle) iedserver.GoCBValues {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gocbs[h]; ok {
		return g.values
	}
	return iedserver.GoCBValues{}
}

func (e *Engine) SVCB(ln iedserver.Handle, name string) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[ln]
	if !ok {
		return 0
	}
	for _, h := range n.svcbs {
		if e.svcbs[h].name == name {
			return h
		}
	}
	return 0
}

func (e *Engine) SVCBName(h iedserver.Handle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.svcbs[h]; ok {
		return s.name
	}
	return ""
}

func (e *Engine) SettingGroupControlBlock(ld iedserver.Handle) iedserver.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[ld]; ok {
		return n.sgcb
	}
	return 0
}

func (e *Engine) SGCBValues(h iedserver.Handle) iedserver.SettingGroup {
	e.mu.Lock()
	s, ok := e.sgcbs[h]
	var v iedserver.MmsValue
	if ok {
		v = s.value
	}
	e.mu.Unlock()
	if !ok {
		return iedserver.SettingGroup{}
	}
	sg, err := iedserver.SettingGroupFromValue(v)
	if err != nil {
		e.logger.Error("corrupt SGCB value", "sgcb", uintptr(h), "error", err)
	}
	return sg
}
