package phase

import "encoding/json"

// entryJSON is the wire shape for one phase slot within a Set: the phase
// itself plus whether this step's quality gates consider it mandatory.
type entryJSON struct {
	Phase
	Mandatory bool `json:"mandatory"`
}

// setJSON is the wire shape of a Set, modeled on the teacher's
// MarshalJSON/Alias-struct convention (workflow/entity.go
// WorkflowEntityPayload) since Set's real fields are unexported maps that
// encoding/json cannot see directly.
type setJSON struct {
	AllPhasesMandatory bool        `json:"all_phases_mandatory"`
	Phases             []entryJSON `json:"phases"`
}

// MarshalJSON serialises every phase in canonical order along with its
// mandatoriness, so that a Set round-trips losslessly through a step
// file's tdd_phase_tracking field.
func (s *Set) MarshalJSON() ([]byte, error) {
	out := setJSON{AllPhasesMandatory: s.AllPhasesMandatory}
	for _, n := range Order {
		p, ok := s.phases[n]
		if !ok {
			continue
		}
		out.Phases = append(out.Phases, entryJSON{Phase: *p, Mandatory: s.mandatory[n]})
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstructs a Set from its wire form.
func (s *Set) UnmarshalJSON(data []byte) error {
	var in setJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.AllPhasesMandatory = in.AllPhasesMandatory
	s.phases = make(map[Name]*Phase, len(in.Phases))
	s.mandatory = make(map[Name]bool, len(in.Phases))
	for _, e := range in.Phases {
		p := e.Phase
		s.phases[p.Name] = &p
		s.mandatory[p.Name] = e.Mandatory
	}
	return nil
}
