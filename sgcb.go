package iedserver

import (
	"fmt"

	"github.com/spf13/cast"
)

// SettingGroup holds the values of a setting group control block.
type SettingGroup struct {
	NumOfSG int
	ActSG   int
	EditSG  int
	CnfEdit bool
}

// SettingGroupFromValue decodes an SGCB structure value in model order
// (NumOfSG, ActSG, EditSG, CnfEdit).
func SettingGroupFromValue(v MmsValue) (SettingGroup, error) {
	var sg SettingGroup
	elems, ok := v.Value.([]*MmsValue)
	if v.Type != Structure || !ok || len(elems) < 4 {
		return sg, fmt.Errorf("SettingGroupFromValue: not an SGCB structure: %s", v)
	}
	for i, e := range elems[:4] {
		if e == nil {
			return sg, fmt.Errorf("SettingGroupFromValue: element %d missing", i)
		}
	}
	var err error
	if sg.NumOfSG, err = cast.ToIntE(elems[0].Value); err != nil {
		return sg, fmt.Errorf("SettingGroupFromValue NumOfSG: %w", err)
	}
	if sg.ActSG, err = cast.ToIntE(elems[1].Value); err != nil {
		return sg, fmt.Errorf("SettingGroupFromValue ActSG: %w", err)
	}
	if sg.EditSG, err = cast.ToIntE(elems[2].Value); err != nil {
		return sg, fmt.Errorf("SettingGroupFromValue EditSG: %w", err)
	}
	if sg.CnfEdit, err = cast.ToBoolE(elems[3].Value); err != nil {
		return sg, fmt.Errorf("SettingGroupFromValue CnfEdit: %w", err)
	}
	return sg, nil
}

// SettingGroupControlBlock wraps the SGCB of a logical device.
type SettingGroupControlBlock struct {
	handle Handle
	device *LogicalDevice
}

func (s *SettingGroupControlBlock) Handle() Handle                { return s.handle }
func (s *SettingGroupControlBlock) LogicalDevice() *LogicalDevice { return s.device }

// Values reads the current SGCB values from the engine.
func (s *SettingGroupControlBlock) Values() SettingGroup {
	return s.device.model.engine.SGCBValues(s.handle)
}
