package memengine

import (
	"fmt"
	"time"

	"github.com/marrasen/iedserver"
)

// SimpleIOName is the IED name of the model built by NewSimpleIO.
const SimpleIOName = "simpleIO"

// NewSimpleIO returns an engine holding the generic I/O model: IED simpleIO
// with logical device GenericIO, LLN0 and GGIO1 with four analog inputs
// (AnIn1..4), four controllable single point outputs (SPCSO1..4) and four
// indications (Ind1..4).
//
// The outputs use the four control models in order: SPCSO1 direct normal,
// SPCSO2 SBO normal, SPCSO3 direct enhanced and SPCSO4 SBO enhanced with a
// select timeout of 10s.
func NewSimpleIO(opts ...Option) *Engine {
	e := New(SimpleIOName, opts...)
	ld := e.AddLogicalDevice("GenericIO")

	lln0 := e.AddLogicalNode(ld, "LLN0")
	e.addCommon(lln0)
	e.AddRCB(lln0, iedserver.ReportControlBlockValues{
		Name:    "EventsRCB01",
		IntgPd:  1000,
		BufTm:   50,
		TrgOps:  iedserver.TrgOps{DataChange: true, QualityChange: true, Gi: true},
		OptFlds: iedserver.OptFlds{SequenceNumber: true, TimeOfEntry: true, ReasonForInclusion: true, DataSetName: true},
		RptId:   "Events",
		DatSet:  "simpleIOGenericIO/LLN0$Events",
		ConfRev: 1,
	})
	e.AddRCB(lln0, iedserver.ReportControlBlockValues{
		Name:     "EventsBRCB01",
		Buffered: true,
		IntgPd:   1000,
		BufTm:    50,
		TrgOps:   iedserver.TrgOps{DataChange: true, QualityChange: true, Gi: true},
		OptFlds:  iedserver.OptFlds{SequenceNumber: true, TimeOfEntry: true, EntryID: true, ConfigRevision: true},
		RptId:    "Events",
		DatSet:   "simpleIOGenericIO/LLN0$Events",
		ConfRev:  1,
	})
	e.AddRCB(lln0, iedserver.ReportControlBlockValues{
		Name:    "MeasurementsRCB01",
		IntgPd:  5000,
		TrgOps:  iedserver.TrgOps{DataChange: true, TriggeredPeriodically: true, Gi: true},
		OptFlds: iedserver.OptFlds{SequenceNumber: true, DataSetName: true, DataReference: true},
		RptId:   "Measurements",
		DatSet:  "simpleIOGenericIO/LLN0$Measurements",
		ConfRev: 1,
	})
	e.AddGoCB(lln0, iedserver.GoCBValues{
		Name:    "gcbEvents",
		GoID:    "events",
		DatSet:  "simpleIOGenericIO/LLN0$Events",
		ConfRev: 2,
		MinTime: 1000,
		MaxTime: 3000,
		Address: iedserver.PhyComAddress{
			VlanPriority: 4,
			AppID:        0x1000,
			DstAddress:   [6]byte{0x01, 0x0c, 0xcd, 0x01, 0x00, 0x01},
		},
	})
	e.AddSVCB(lln0, "MSVCB01")
	e.AddSGCB(ld, 5, 1)
	e.AddLog("GenericIO/LLN0$EventLog")

	ggio := e.AddLogicalNode(ld, "GGIO1")
	e.addCommon(ggio)
	for i := 1; i <= 4; i++ {
		anIn := e.AddDataObject(ggio, fmt.Sprintf("AnIn%d", i))
		mag := e.AddDataAttribute(anIn, "mag", iedserver.MX, iedserver.DA_TYPE_CONSTRUCTED, iedserver.MmsValue{})
		e.AddDataAttribute(mag, "f", iedserver.MX, iedserver.DA_TYPE_FLOAT32, iedserver.NewFloatValue(0))
		e.AddDataAttribute(anIn, "q", iedserver.MX, iedserver.DA_TYPE_QUALITY, iedserver.NewQualityValue(iedserver.QUALITY_VALIDITY_GOOD))
		e.AddDataAttribute(anIn, "t", iedserver.MX, iedserver.DA_TYPE_TIMESTAMP, iedserver.NewUTCTimeValue(0))
	}

	models := []iedserver.ControlModel{
		iedserver.CONTROL_MODEL_DIRECT_NORMAL,
		iedserver.CONTROL_MODEL_SBO_NORMAL,
		iedserver.CONTROL_MODEL_DIRECT_ENHANCED,
		iedserver.CONTROL_MODEL_SBO_ENHANCED,
	}
	for i, m := range models {
		var sboTimeout time.Duration
		if m == iedserver.CONTROL_MODEL_SBO_ENHANCED {
			sboTimeout = 10 * time.Second
		}
		e.addSPC(ggio, fmt.Sprintf("SPCSO%d", i+1), m, sboTimeout)
	}

	for i := 1; i <= 4; i++ {
		ind := e.AddDataObject(ggio, fmt.Sprintf("Ind%d", i))
		e.AddDataAttribute(ind, "stVal", iedserver.ST, iedserver.DA_TYPE_BOOLEAN, iedserver.NewBooleanValue(false))
		e.AddDataAttribute(ind, "q", iedserver.ST, iedserver.DA_TYPE_QUALITY, iedserver.NewQualityValue(iedserver.QUALITY_VALIDITY_GOOD))
		e.AddDataAttribute(ind, "t", iedserver.ST, iedserver.DA_TYPE_TIMESTAMP, iedserver.NewUTCTimeValue(0))
	}
	return e
}

// addCommon adds Mod, Beh, Health and NamPlt.
func (e *Engine) addCommon(ln iedserver.Handle) {
	for _, name := range []string{"Mod", "Beh", "Health"} {
		do := e.AddDataObject(ln, name)
		e.AddDataAttribute(do, "stVal", iedserver.ST, iedserver.DA_TYPE_ENUMERATED, iedserver.NewInt32Value(1))
		e.AddDataAttribute(do, "q", iedserver.ST, iedserver.DA_TYPE_QUALITY, iedserver.NewQualityValue(iedserver.QUALITY_VALIDITY_GOOD))
		e.AddDataAttribute(do, "t", iedserver.ST, iedserver.DA_TYPE_TIMESTAMP, iedserver.NewUTCTimeValue(0))
	}
	namPlt := e.AddDataObject(ln, "NamPlt")
	e.AddDataAttribute(namPlt, "vendor", iedserver.DC, iedserver.DA_TYPE_VISIBLE_STRING_255, iedserver.NewVisibleStringValue(""))
	e.AddDataAttribute(namPlt, "swRev", iedserver.DC, iedserver.DA_TYPE_VISIBLE_STRING_255, iedserver.NewVisibleStringValue(""))
	e.AddDataAttribute(namPlt, "d", iedserver.DC, iedserver.DA_TYPE_VISIBLE_STRING_255, iedserver.NewVisibleStringValue(""))
}

func (e *Engine) addSPC(ln iedserver.Handle, name string, m iedserver.ControlModel, sboTimeout time.Duration) {
	do := e.AddDataObject(ln, name)
	e.AddDataAttribute(do, "stVal", iedserver.ST, iedserver.DA_TYPE_BOOLEAN, iedserver.NewBooleanValue(false))
	e.AddDataAttribute(do, "q", iedserver.ST, iedserver.DA_TYPE_QUALITY, iedserver.NewQualityValue(iedserver.QUALITY_VALIDITY_GOOD))
	e.AddDataAttribute(do, "t", iedserver.ST, iedserver.DA_TYPE_TIMESTAMP, iedserver.NewUTCTimeValue(0))

	services := []string{"Oper"}
	if m.IsSBO() {
		services = append(services, "SBOw", "Cancel")
	}
	for _, svc := range services {
		co := e.AddDataAttribute(do, svc, iedserver.CO, iedserver.DA_TYPE_CONSTRUCTED, iedserver.MmsValue{})
		e.AddDataAttribute(co, "ctlVal", iedserver.CO, iedserver.DA_TYPE_BOOLEAN, iedserver.NewBooleanValue(false))
		origin := e.AddDataAttribute(co, "origin", iedserver.CO, iedserver.DA_TYPE_CONSTRUCTED, iedserver.MmsValue{})
		e.AddDataAttribute(origin, "orCat", iedserver.CO, iedserver.DA_TYPE_ENUMERATED, iedserver.NewInt32Value(0))
		e.AddDataAttribute(origin, "orIdent", iedserver.CO, iedserver.DA_TYPE_OCTET_STRING_64, iedserver.NewOctetStringValue(nil))
		e.AddDataAttribute(co, "ctlNum", iedserver.CO, iedserver.DA_TYPE_INT8U, iedserver.NewUint32Value(0))
		e.AddDataAttribute(co, "T", iedserver.CO, iedserver.DA_TYPE_TIMESTAMP, iedserver.NewUTCTimeValue(0))
		e.AddDataAttribute(co, "Test", iedserver.CO, iedserver.DA_TYPE_BOOLEAN, iedserver.NewBooleanValue(false))
		if svc != "Cancel" {
			e.AddDataAttribute(co, "Check", iedserver.CO, iedserver.DA_TYPE_GENERIC_BITSTRING, iedserver.NewBitStringValue(0))
		}
	}
	e.AddDataAttribute(do, "ctlModel", iedserver.CF, iedserver.DA_TYPE_ENUMERATED, iedserver.NewInt32Value(int32(m)))
	if m.IsSBO() {
		e.AddDataAttribute(do, "sboTimeout", iedserver.CF, iedserver.DA_TYPE_INT32U, iedserver.NewUint32Value(uint32(sboTimeout/time.Millisecond)))
	}
	e.SetControlModel(do, m, sboTimeout)
}
