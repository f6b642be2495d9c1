package iedserver

import "strings"

// TrgOps are the trigger options of a report control block.
type TrgOps struct {
	DataChange            bool // Value change
	QualityChange         bool // Quality change
	DataUpdate            bool // Data update
	TriggeredPeriodically bool // Periodic trigger (integrity)
	Gi                    bool // GI (general interrogation) trigger
	Transient             bool // Transient
}

// OptFlds are the optional report fields of a report control block.
type OptFlds struct {
	SequenceNumber     bool // Sequence number
	TimeOfEntry        bool // Report timestamp
	ReasonForInclusion bool // Reason code (reason for inclusion)
	DataSetName        bool // Data set
	DataReference      bool // Data reference
	BufferOverflow     bool // Buffer overflow indicator
	EntryID            bool // Report entry identifier
	ConfigRevision     bool // Configuration revision
	Segmentation       bool
}

// TrgOpsFromBits decodes the TrgOps bit string.
func TrgOpsFromBits(g int) TrgOps {
	return TrgOps{
		DataChange:            IsBitSet(g, 0),
		QualityChange:         IsBitSet(g, 1),
		DataUpdate:            IsBitSet(g, 2),
		TriggeredPeriodically: IsBitSet(g, 3),
		Gi:                    IsBitSet(g, 4),
		Transient:             IsBitSet(g, 5),
	}
}

// Bits encodes the trigger options as a bit string.
func (t TrgOps) Bits() int {
	return setBits(t.DataChange, t.QualityChange, t.DataUpdate, t.TriggeredPeriodically, t.Gi, t.Transient)
}

// OptFldsFromBits decodes the OptFlds bit string.
func OptFldsFromBits(g int) OptFlds {
	return OptFlds{
		SequenceNumber:     IsBitSet(g, 0),
		TimeOfEntry:        IsBitSet(g, 1),
		ReasonForInclusion: IsBitSet(g, 2),
		DataSetName:        IsBitSet(g, 3),
		DataReference:      IsBitSet(g, 4),
		BufferOverflow:     IsBitSet(g, 5),
		EntryID:            IsBitSet(g, 6),
		ConfigRevision:     IsBitSet(g, 7),
		Segmentation:       IsBitSet(g, 8),
	}
}

func (o OptFlds) Bits() int {
	return setBits(o.SequenceNumber, o.TimeOfEntry, o.ReasonForInclusion, o.DataSetName,
		o.DataReference, o.BufferOverflow, o.EntryID, o.ConfigRevision, o.Segmentation)
}

func setBits(flags ...bool) int {
	var g int
	for i, f := range flags {
		if f {
			g |= 1 << i
		}
	}
	return g
}

func IsBitSet(val int, pos int) bool {
	return (val & (1 << pos)) != 0
}

// ReportControlBlockValues is the engine's current view of an RCB.
type ReportControlBlockValues struct {
	Name     string
	Buffered bool
	Ena      bool    // Enable
	IntgPd   int     // Integrity period (ms)
	BufTm    int     // Buffer time (ms)
	Resv     bool    // Reservation for URCB
	ResvTms  int     // Reservation time for BRCB (s)
	TrgOps   TrgOps  // Trigger options
	OptFlds  OptFlds // Report options
	RptId    string  // RCB report ID
	DatSet   string  // Data set reference
	ConfRev  uint32
	// Owner is the current owner if reserved or enabled.
	Owner []byte
}

// ReportControlBlock wraps an engine report control block. Wrappers are
// cached on the owning LogicalNode, so every event for the same block
// delivers the same *ReportControlBlock.
type ReportControlBlock struct {
	handle Handle
	parent *LogicalNode
}

func (r *ReportControlBlock) Handle() Handle       { return r.handle }
func (r *ReportControlBlock) Parent() *LogicalNode { return r.parent }

// Values reads the current RCB values from the engine.
func (r *ReportControlBlock) Values() ReportControlBlockValues {
	return r.parent.model.engine.RCBValues(r.handle)
}

func (r *ReportControlBlock) GetName() string    { return r.Values().Name }
func (r *ReportControlBlock) GetRptID() string   { return r.Values().RptId }
func (r *ReportControlBlock) GetDataSet() string { return r.Values().DatSet }
func (r *ReportControlBlock) IsBuffered() bool   { return r.Values().Buffered }
func (r *ReportControlBlock) IsEnabled() bool    { return r.Values().Ena }

// ObjectReference returns <LD>/<LN>.<BR|RP>.<name>.
func (r *ReportControlBlock) ObjectReference() string {
	v := r.Values()
	fc := RP
	if v.Buffered {
		fc = BR
	}
	return r.parent.ObjectReference(false) + "." + fc.String() + "." + v.Name
}

// UsesDataSet reports whether the RCB points at dataSetRef. Both the MMS
// ("LN$DS") and the ACSI ("LN.DS") separator forms compare equal.
func (r *ReportControlBlock) UsesDataSet(dataSetRef string) bool {
	return sameDataSet(r.Values().DatSet, dataSetRef)
}

func sameDataSet(a, b string) bool {
	norm := func(s string) string {
		return strings.ReplaceAll(s, "$", ".")
	}
	return norm(a) == norm(b)
}
