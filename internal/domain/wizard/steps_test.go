package wizard

import (
	"testing"

	"github.com/mccd/mccd/internal/domain/certificate"
)

func TestSteps_CoverEveryColumnOnce(t *testing.T) {
	seen := make(map[string]int)
	for _, s := range Steps {
		for _, f := range s.Fields {
			seen[f]++
			if !certificate.IsColumn(f) {
				t.Errorf("step %s: %s is not a column", s.Name, f)
			}
		}
	}
	for _, name := range certificate.ColumnNames() {
		if seen[name] != 1 {
			t.Errorf("%s owned by %d steps", name, seen[name])
		}
	}
	if len(Steps) != StepCount {
		t.Errorf("expected %d steps, got %d", StepCount, len(Steps))
	}
}

func TestStepByNumber(t *testing.T) {
	if s, ok := StepByNumber(StepFetalInfant); !ok || s.Name != "fetal_infant" {
		t.Errorf("unexpected step %+v", s)
	}
	for _, n := range []int{0, 9, -1} {
		if _, ok := StepByNumber(n); ok {
			t.Errorf("expected %d out of range", n)
		}
	}
}

func controllerFor(n int, state *State) *StepController {
	step, _ := StepByNumber(n)
	var slots *SlotGroup
	switch step.Group {
	case GroupCauses:
		slots = NewCauseSlots(state)
	case GroupContributing:
		slots = NewContributingSlots(state)
	}
	return NewStepController(step, state, slots)
}

func TestStepController_SubmitMergesAndAdvances(t *testing.T) {
	state := NewState(nil)
	c := controllerFor(StepAdministrative, state)

	errs := c.Submit(certificate.Record{
		"deceased_full_name": "Kwame Asante",
		"date_of_birth":      "1950-02-11",
		"gender":             "male",
		"date_of_death":      "2024-03-01",
		"folder_number":      "",
		"cause_a_description": "outside this step",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if state.Step() != StepCauseChain {
		t.Errorf("expected step 2, got %d", state.Step())
	}
	d := state.Data()
	if d["deceased_full_name"] != "Kwame Asante" {
		t.Errorf("expected merged name, got %v", d["deceased_full_name"])
	}
	if _, ok := d["cause_a_description"]; ok {
		t.Error("expected fields of other steps ignored")
	}
	if v, ok := d["folder_number"]; !ok || v != nil {
		t.Errorf("expected blank folder number as null, got %#v", v)
	}
}

func TestStepController_FailureLeavesStateUnchanged(t *testing.T) {
	state := NewState(nil)
	c := controllerFor(StepAdministrative, state)
	errs := c.Submit(certificate.Record{"deceased_full_name": "Kwame", "date_of_birth": "2024-03-02", "date_of_death": "2024-03-01", "gender": "male"})
	if len(errs) == 0 {
		t.Fatal("expected date order error")
	}
	if state.Step() != 1 || state.Dirty() {
		t.Error("expected no merge and no step change")
	}
	if state.Value("deceased_full_name") != nil {
		t.Error("expected nothing merged")
	}
}

func TestStepController_Required(t *testing.T) {
	c := controllerFor(StepCauseChain, NewState(nil))
	errs := c.Submit(certificate.Record{"cause_a_interval": "2 days"})
	if len(errs) == 0 || errs[0].Field != "cause_a_description" {
		t.Errorf("expected cause A required, got %v", errs)
	}
}

func TestStepController_ConditionalRules(t *testing.T) {
	tests := []struct {
		name   string
		step   int
		values certificate.Record
		field  string
	}{
		{"surgery date", StepOtherMedical, certificate.Record{"surgery_within_4_weeks": "yes", "surgery_reason": "appendix"}, "surgery_date"},
		{"external cause", StepMannerLocation, certificate.Record{"manner_of_death": certificate.MannerExternalCause}, "external_cause_date"},
		{"other location", StepMannerLocation, certificate.Record{"manner_of_death": "disease", "death_location": "other"}, "death_location_other"},
		{"pregnancy timing", StepFetalInfant, certificate.Record{"was_deceased_pregnant": "yes"}, "pregnancy_timing"},
		{"hours range", StepFetalInfant, certificate.Record{"is_fetal_infant_death": true, "hours_if_death_within_24h": 25}, "hours_if_death_within_24h"},
		{"mother age range", StepFetalInfant, certificate.Record{"is_fetal_infant_death": true, "mother_age_years": "9"}, "mother_age_years"},
	}
	for _, tt := range tests {
		errs := controllerFor(tt.step, NewState(nil)).Submit(tt.values)
		found := false
		for _, e := range errs {
			if e.Field == tt.field {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected error on %s, got %v", tt.name, tt.field, errs)
		}
	}
}

func TestStepController_HiddenSlotsForceCleared(t *testing.T) {
	state := NewState(nil)
	c := controllerFor(StepCauseChain, state)
	c.slots.Add()

	errs := c.Submit(certificate.Record{
		"cause_a_description": "Sepsis",
		"cause_b_description": "Pneumonia",
		"cause_c_description": "stale hidden value",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	d := state.Data()
	if d["cause_b_description"] != "Pneumonia" {
		t.Error("expected visible slot merged")
	}
	if v, ok := d["cause_c_description"]; !ok || v != nil {
		t.Errorf("expected hidden slot forced to null, got %#v", v)
	}
}

func TestStepController_ChainGap(t *testing.T) {
	state := NewState(nil)
	c := controllerFor(StepCauseChain, state)
	c.slots.Add()
	c.slots.Add()
	errs := c.Submit(certificate.Record{"cause_a_description": "a", "cause_c_description": "c"})
	if len(errs) == 0 || errs[0].Field != "cause_b_description" {
		t.Errorf("expected gap reported on b, got %v", errs)
	}
}

func TestStepController_ClearOnlyOwnStep(t *testing.T) {
	state := NewState(certificate.Record{
		"deceased_full_name":    "Ama",
		"is_fetal_infant_death": true,
		"stillbirth":            "no",
	})
	c := controllerFor(StepFetalInfant, state)
	c.Clear()

	d := state.Data()
	if d["deceased_full_name"] != "Ama" {
		t.Error("expected other steps untouched")
	}
	if d["is_fetal_infant_death"] != false || d["stillbirth"] != nil {
		t.Errorf("expected fetal step reset, got %v %v", d["is_fetal_infant_death"], d["stillbirth"])
	}
}

func TestStepController_ClearHidesSlots(t *testing.T) {
	state := NewState(fullChain())
	c := controllerFor(StepCauseChain, state)
	c.Clear()
	if len(c.slots.Visible()) != 0 {
		t.Errorf("expected slots hidden, got %v", c.slots.Visible())
	}
}

func TestStepController_ReviewReportsFirstMissing(t *testing.T) {
	state := NewState(certificate.Record{
		"deceased_full_name": "Ama",
		"date_of_birth":      "1960-01-01",
		"gender":             "female",
		"date_of_death":      "2024-01-01",
		"manner_of_death":    "disease",
	})
	errs := controllerFor(StepReview, state).Submit(nil)
	if len(errs) == 0 || errs[0].Field != "cause_a_description" {
		t.Errorf("expected cause A first, got %v", errs)
	}
	if state.Dirty() {
		t.Error("expected review not to merge")
	}
}

func TestStepController_Stage(t *testing.T) {
	state := NewState(nil)
	c := controllerFor(StepIssuer, state)
	c.Stage(certificate.Record{"issued_to_full_name": "Yaa", "witness_date": "not-a-date", "gender": "x"})
	d := state.Data()
	if d["issued_to_full_name"] != "Yaa" || d["witness_date"] != "not-a-date" {
		t.Error("expected in-progress values staged as typed")
	}
	if _, ok := d["gender"]; ok {
		t.Error("expected other steps' keys dropped")
	}
}
