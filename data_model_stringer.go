package iedserver

import (
	"fmt"
	"strings"
)

// treeWriter renders snapshot nodes one per line, two spaces per level.
type treeWriter struct {
	b     strings.Builder
	depth int
}

func (w *treeWriter) printf(format string, args ...any) {
	w.b.WriteString(strings.Repeat("  ", w.depth))
	fmt.Fprintf(&w.b, format, args...)
}

// appendf continues the current line.
func (w *treeWriter) appendf(format string, args ...any) { fmt.Fprintf(&w.b, format, args...) }

func (w *treeWriter) end() { w.b.WriteByte('\n') }

func (w *treeWriter) nested(fn func()) {
	w.depth++
	fn()
	w.depth--
}

func render(write func(*treeWriter)) string {
	var w treeWriter
	write(&w)
	return strings.TrimSuffix(w.b.String(), "\n")
}

func (dm DataModel) String() string { return render(dm.write) }
func (ld LD) String() string        { return render(ld.write) }
func (ln LN) String() string        { return render(ln.write) }
func (r Report) String() string     { return render(r.write) }
func (d DO) String() string         { return render(d.write) }
func (da DA) String() string        { return render(da.write) }

func (dm DataModel) write(w *treeWriter) {
	w.printf("DataModel")
	w.end()
	w.nested(func() {
		for _, ld := range dm.Devices {
			ld.write(w)
		}
	})
}

func (ld LD) write(w *treeWriter) {
	w.printf("LD %s (%s)", ld.Name, ld.Ref)
	w.end()
	w.nested(func() {
		for _, ln := range ld.Nodes {
			ln.write(w)
		}
	})
}

func (ln LN) write(w *treeWriter) {
	w.printf("LN %s (%s)", ln.Name, ln.Ref)
	w.end()
	w.nested(func() {
		for _, d := range ln.Objects {
			d.write(w)
		}
		for _, r := range ln.Reports {
			r.write(w)
		}
	})
}

func (r Report) write(w *treeWriter) {
	kind, state := "URCB", "disabled"
	if r.Buffered {
		kind = "BRCB"
	}
	if r.Enabled {
		state = "enabled"
	}
	w.printf("%s %s %s rptID=%s datSet=%s confRev=%d (%s)", kind, r.Name, state, r.RptID, r.DataSet, r.ConfRev, r.Ref)
	w.end()
}

func (d DO) write(w *treeWriter) {
	w.printf("DO %s", d.Name)
	if d.Control != CONTROL_MODEL_STATUS_ONLY {
		w.appendf(" ctlModel=%s", d.Control)
	}
	w.end()
	w.nested(func() {
		for _, da := range d.Attributes {
			da.write(w)
		}
		for _, sub := range d.Objects {
			sub.write(w)
		}
	})
}

func (da DA) write(w *treeWriter) {
	w.printf("DA %s [%s]", da.Name, da.FC)
	if da.Value != nil {
		w.appendf(" = %s", da.Value)
	}
	w.end()
	w.nested(func() {
		for _, child := range da.Attributes {
			child.write(w)
		}
	})
}

func (m ControlModel) String() string {
	switch m {
	case CONTROL_MODEL_STATUS_ONLY:
		return "status-only"
	case CONTROL_MODEL_DIRECT_NORMAL:
		return "direct-with-normal-security"
	case CONTROL_MODEL_SBO_NORMAL:
		return "sbo-with-normal-security"
	case CONTROL_MODEL_DIRECT_ENHANCED:
		return "direct-with-enhanced-security"
	case CONTROL_MODEL_SBO_ENHANCED:
		return "sbo-with-enhanced-security"
	}
	return fmt.Sprintf("ControlModel(%d)", int(m))
}
