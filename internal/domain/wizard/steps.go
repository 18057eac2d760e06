package wizard

import (
	"time"

	"github.com/mccd/mccd/internal/domain/certificate"
)

// Step numbers, 1-based as shown to the user.
const (
	StepAdministrative = iota + 1
	StepCauseChain
	StepContributing
	StepOtherMedical
	StepMannerLocation
	StepFetalInfant
	StepIssuer
	StepReview
)

// StepCount is the number of wizard steps including review.
const StepCount = StepReview

// Step describes one wizard section and the fields it owns. Field sets are
// disjoint; review owns none.
type Step struct {
	Number int      `json:"number"`
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
	Group  string   `json:"group,omitempty"`
}

// Steps lists the wizard sections in order.
var Steps = buildSteps()

func buildSteps() []Step {
	var causes, contributing []string
	for _, pos := range certificate.CausePositions {
		for _, part := range certificate.CauseParts {
			causes = append(causes, certificate.CauseField(pos, part))
		}
	}
	for n := 1; n <= certificate.MaxContributing; n++ {
		for _, part := range certificate.ContributingParts {
			contributing = append(contributing, certificate.ContributingField(n, part))
		}
	}

	return []Step{
		{Number: StepAdministrative, Name: "administrative", Title: "Administrative data", Fields: []string{
			"folder_number", "cod_certificate_number", "facility_code", "facility_sn", "facility_d",
			"deceased_full_name", "date_of_birth", "gender", "national_register_number",
			"national_id_number", "date_of_death",
		}},
		{Number: StepCauseChain, Name: "cause_chain", Title: "Cause of death", Fields: causes, Group: GroupCauses},
		{Number: StepContributing, Name: "contributing", Title: "Contributing conditions", Fields: contributing, Group: GroupContributing},
		{Number: StepOtherMedical, Name: "other_medical", Title: "Other medical data", Fields: []string{
			"surgery_within_4_weeks", "surgery_date", "surgery_reason",
			"autopsy_requested", "autopsy_findings_used",
		}},
		{Number: StepMannerLocation, Name: "manner_location", Title: "Manner and place of death", Fields: []string{
			"manner_of_death", "external_cause_date", "external_cause_description",
			"poisoning_agent", "death_location", "death_location_other",
		}},
		{Number: StepFetalInfant, Name: "fetal_infant", Title: "Fetal or infant death", Fields: []string{
			"is_fetal_infant_death", "stillbirth", "multiple_pregnancy", "hours_if_death_within_24h",
			"birth_weight_grams", "was_serviced", "completed_weeks_pregnancy", "mother_age_years",
			"maternal_conditions", "was_deceased_pregnant", "pregnancy_timing",
			"pregnancy_contributed_to_death",
		}},
		{Number: StepIssuer, Name: "issuer", Title: "Issued to", Fields: []string{
			"issued_to_full_name", "issued_to_mobile", "issued_to_contact_details",
			"relation_to_deceased", "witness_to_deceased", "witness_date",
		}},
		{Number: StepReview, Name: "review", Title: "Review and submit"},
	}
}

// StepByNumber returns step n, or false when n is out of range.
func StepByNumber(n int) (Step, bool) {
	if n < 1 || n > len(Steps) {
		return Step{}, false
	}
	return Steps[n-1], true
}

// StepController validates one step's fields and merges them into the
// wizard state.
type StepController struct {
	step  Step
	state *State
	slots *SlotGroup
	now   func() time.Time
}

// NewStepController binds step to state. slots is the step's repeating
// group, or nil.
func NewStepController(step Step, state *State, slots *SlotGroup) *StepController {
	return &StepController{step: step, state: state, slots: slots, now: time.Now}
}

func (c *StepController) Step() Step { return c.step }

// Submit validates values against this step's rules. On success the values
// are merged into the state and the wizard moves to the next step; on
// failure nothing changes. Keys outside the step are ignored. The review
// step validates the whole accumulated record instead and never merges.
func (c *StepController) Submit(values certificate.Record) []certificate.FieldError {
	if c.step.Number == StepReview {
		return c.Review()
	}

	payload, errs := c.payload(values)
	if len(errs) > 0 {
		return errs
	}

	ctx := c.state.Data()
	ctx.Merge(payload)
	for _, name := range c.step.Fields {
		def, _ := certificate.Lookup(name)
		if def.Required && ctx.Blank(name) {
			errs = append(errs, certificate.FieldError{Field: name, Message: def.Label + " is required"})
		}
	}
	if c.step.Number == StepCauseChain {
		errs = append(errs, certificate.ValidateChain(ctx)...)
	}
	errs = append(errs, certificate.ValidateFields(ctx, c.step.Fields, c.now().UTC())...)
	if len(errs) > 0 {
		return errs
	}

	c.state.Merge(payload)
	if c.step.Number < StepCount {
		c.state.SetStep(c.step.Number + 1)
	}
	return nil
}

// Review checks the accumulated record against the submission rules.
func (c *StepController) Review() []certificate.FieldError {
	return ReviewRecord(c.state.Data(), c.now().UTC())
}

// ReviewRecord checks rec against the submission rules as of now.
func ReviewRecord(rec certificate.Record, now time.Time) []certificate.FieldError {
	rec, errs := certificate.Prepare(rec)
	if len(errs) > 0 {
		return errs
	}
	return certificate.ValidateSubmission(rec, now)
}

// Stage merges in-progress values of this step without validating them,
// for a draft save. Unknown keys are dropped and values are kept as typed.
func (c *StepController) Stage(values certificate.Record) {
	partial := make(certificate.Record)
	for _, name := range c.step.Fields {
		if v, ok := values[name]; ok {
			partial[name] = v
		}
	}
	if len(partial) > 0 {
		c.state.Merge(partial)
	}
}

// Clear resets this step's fields to their defaults and hides its optional
// slots. Other steps are untouched.
func (c *StepController) Clear() {
	c.state.Clear(c.step.Fields)
	if c.slots != nil {
		c.slots.Sync()
	}
}

// payload keeps the step's fields, coerces them and nulls hidden slots.
func (c *StepController) payload(values certificate.Record) (certificate.Record, []certificate.FieldError) {
	own := make(certificate.Record)
	for _, name := range c.step.Fields {
		if v, ok := values[name]; ok {
			own[name] = v
		}
	}
	payload, errs := certificate.Prepare(own)
	if len(errs) > 0 {
		return nil, errs
	}
	if c.slots != nil {
		c.slots.ForceClear(payload)
	}
	return payload, nil
}
