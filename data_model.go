package iedserver

// DataModel is a printable snapshot of an IedModel, see IedModel.Snapshot.
type DataModel struct {
	Devices []LD
}

// LD is a logical device and the logical nodes it hosts.
type LD struct {
	Name  string
	Ref   string
	Nodes []LN
}

// LN is a logical node with its data objects and report control blocks.
type LN struct {
	Name    string
	Ref     string
	Objects []DO
	Reports []Report
}

// Report is the state of one report control block when the snapshot was
// taken. Buffered and unbuffered blocks share the type.
type Report struct {
	Name     string
	Ref      string
	Buffered bool
	Enabled  bool
	RptID    string
	DataSet  string
	ConfRev  uint32
}

// DO is a data object. Control is CONTROL_MODEL_STATUS_ONLY for objects that
// cannot be operated, or when the engine does not report control models.
type DO struct {
	Name       string
	Ref        string
	Control    ControlModel
	Attributes []DA
	Objects    []DO
}

// DA is a data attribute. Value is set on leaves only, and only when the
// engine exposes attribute values.
type DA struct {
	Name       string
	Ref        string
	FC         FC
	Value      *MmsValue
	Attributes []DA
}

// snapshotSource is the optional part of an engine that Snapshot uses to
// fill control models and leaf values.
type snapshotSource interface {
	ControlModel(ctrl Handle) ControlModel
	AttributeValue(da Handle) (MmsValue, bool)
}
