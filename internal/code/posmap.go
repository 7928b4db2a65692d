package code

import "sort"

// Mapping records one contiguous correspondence between the synthesized unit
// and the user's original input. Lines are 1-based, bytes 0-based.
type Mapping struct {
	UnitStartLine int
	UserStartLine int
	LineCount     int
	UnitStartByte int
	UserStartByte int
	ByteLen       int
}

// PosMap is a pair of monotonic offset translations between synthesized
// output and original input, backed by a sorted list of range
// correspondences built alongside the synthesizer's wrapping step.
type PosMap struct {
	mappings []Mapping
}

// Add appends a correspondence. Mappings must be added in unit order.
func (m *PosMap) Add(mapping Mapping) {
	m.mappings = append(m.mappings, mapping)
}

// Mappings returns the recorded correspondences.
func (m *PosMap) Mappings() []Mapping { return m.mappings }

// UnitLineToUser translates a 1-based line in the synthesized unit to the
// original input. Lines belonging to generated code report ok=false.
func (m *PosMap) UnitLineToUser(line int) (int, bool) {
	i := sort.Search(len(m.mappings), func(i int) bool {
		return m.mappings[i].UnitStartLine+m.mappings[i].LineCount > line
	})
	if i >= len(m.mappings) || line < m.mappings[i].UnitStartLine {
		return 0, false
	}
	mp := m.mappings[i]
	return mp.UserStartLine + (line - mp.UnitStartLine), true
}

// UserLineToUnit translates a 1-based line in the original input to the
// synthesized unit.
func (m *PosMap) UserLineToUnit(line int) (int, bool) {
	for _, mp := range m.mappings {
		if line >= mp.UserStartLine && line < mp.UserStartLine+mp.LineCount {
			return mp.UnitStartLine + (line - mp.UserStartLine), true
		}
	}
	return 0, false
}

// UnitByteToUser translates a byte offset in the synthesized unit to the
// original input.
func (m *PosMap) UnitByteToUser(off int) (int, bool) {
	i := sort.Search(len(m.mappings), func(i int) bool {
		return m.mappings[i].UnitStartByte+m.mappings[i].ByteLen > off
	})
	if i >= len(m.mappings) || off < m.mappings[i].UnitStartByte {
		return 0, false
	}
	mp := m.mappings[i]
	return mp.UserStartByte + (off - mp.UnitStartByte), true
}

// UserByteToUnit translates a byte offset in the original input to the
// synthesized unit.
func (m *PosMap) UserByteToUnit(off int) (int, bool) {
	for _, mp := range m.mappings {
		if off >= mp.UserStartByte && off < mp.UserStartByte+mp.ByteLen {
			return mp.UnitStartByte + (off - mp.UserStartByte), true
		}
	}
	return 0, false
}
