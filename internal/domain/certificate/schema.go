package certificate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the storage type of a content field.
type Kind string

const (
	KindText Kind = "text"
	KindDate Kind = "date"
	KindEnum Kind = "enum"
	KindBool Kind = "bool"
	KindInt  Kind = "int"
)

// DateLayout is the wire and storage format of date fields.
const DateLayout = "2006-01-02"

// Condition holds when Field currently has the value Equals.
type Condition struct {
	Field  string
	Equals any
}

func (c *Condition) holds(rec Record) bool {
	if c == nil {
		return true
	}
	v, ok := rec[c.Field]
	if !ok || v == nil {
		return false
	}
	return v == c.Equals
}

// FieldDef declares one persisted content column.
type FieldDef struct {
	Name    string
	Kind    Kind
	Label   string
	Options []string
	Min     *int
	Max     *int
	// Required fields must be present before a record may be submitted.
	Required bool
	// RequiredWhen makes the field mandatory while the condition holds.
	RequiredWhen *Condition
	// Gate hides the field unless the condition holds; hidden fields are
	// stored as null.
	Gate *Condition
}

// FieldError is a field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Enumerations.
var (
	Genders        = []string{"male", "female"}
	YesNoUnknown   = []string{"yes", "no", "unknown"}
	MannersOfDeath = []string{
		"disease",
		"assault",
		"could_not_be_determined",
		"accident",
		"war",
		"pending_investigation",
		"intentional_self_harm",
		"legal_intervention",
		MannerExternalCause,
	}
	DeathLocations = []string{
		"home",
		"residential_institution",
		"school_other_institution_public",
		"sports_athletics",
		"street_highway",
		"trade_service_area",
		"industrial_construction_area",
		"farm",
		DeathLocationOther,
	}
	PregnancyTimings = []string{
		"at_time_of_death",
		"within_42_days_before",
		"between_43_days_to_1_year_before",
		"unknown",
	}
)

const (
	MannerExternalCause = "external_cause_or_poisonous"
	DeathLocationOther  = "other"
)

// CausePositions are the cause-of-death chain slots in causal order.
var CausePositions = []string{"a", "b", "c", "d"}

// MaxContributing is the number of contributing-condition slots.
const MaxContributing = 4

// CauseField names the column holding part of the chain entry at pos.
// part is one of description, icd_code, interval, comment.
func CauseField(pos, part string) string {
	return "cause_" + pos + "_" + part
}

// ContributingField names the column holding part of contributing condition
// n (1-based). An empty part names the description column.
func ContributingField(n int, part string) string {
	base := "contributing_conditions"
	if n > 1 {
		base += "_" + strconv.Itoa(n)
	}
	if part == "" {
		return base
	}
	return base + "_" + part
}

// CauseParts and ContributingParts list the sub-record columns of each slot.
var (
	CauseParts        = []string{"description", "icd_code", "interval", "comment"}
	ContributingParts = []string{"", "icd_code", "comment"}
)

func intp(n int) *int { return &n }

// Fields is every persisted content column in wizard order.
var Fields = buildFields()

var fieldIndex = func() map[string]*FieldDef {
	idx := make(map[string]*FieldDef, len(Fields))
	for i := range Fields {
		idx[Fields[i].Name] = &Fields[i]
	}
	return idx
}()

// SubmissionRequired is the mandatory set checked before a submission, in
// the order errors are reported.
var SubmissionRequired = []string{
	"deceased_full_name",
	"date_of_birth",
	"gender",
	"date_of_death",
	"cause_a_description",
	"manner_of_death",
}

func buildFields() []FieldDef {
	surgeryYes := &Condition{Field: "surgery_within_4_weeks", Equals: "yes"}
	external := &Condition{Field: "manner_of_death", Equals: MannerExternalCause}
	locationOther := &Condition{Field: "death_location", Equals: DeathLocationOther}
	fetal := &Condition{Field: "is_fetal_infant_death", Equals: true}
	pregnant := &Condition{Field: "was_deceased_pregnant", Equals: "yes"}

	f := []FieldDef{
		{Name: "folder_number", Kind: KindText, Label: "Folder number"},
		{Name: "cod_certificate_number", Kind: KindText, Label: "COD certificate number"},
		{Name: "facility_code", Kind: KindText, Label: "Facility code"},
		{Name: "facility_sn", Kind: KindText, Label: "Facility serial number"},
		{Name: "facility_d", Kind: KindText, Label: "Facility district"},
		{Name: "deceased_full_name", Kind: KindText, Label: "Full name of deceased", Required: true},
		{Name: "date_of_birth", Kind: KindDate, Label: "Date of birth", Required: true},
		{Name: "gender", Kind: KindEnum, Label: "Gender", Options: Genders, Required: true},
		{Name: "national_register_number", Kind: KindText, Label: "National register number"},
		{Name: "national_id_number", Kind: KindText, Label: "National ID number"},
		{Name: "date_of_death", Kind: KindDate, Label: "Date of death", Required: true},
	}

	for _, pos := range CausePositions {
		upper := strings.ToUpper(pos)
		f = append(f,
			FieldDef{Name: CauseField(pos, "description"), Kind: KindText, Label: "Cause " + upper, Required: pos == "a"},
			FieldDef{Name: CauseField(pos, "icd_code"), Kind: KindText, Label: "Cause " + upper + " ICD code"},
			FieldDef{Name: CauseField(pos, "interval"), Kind: KindText, Label: "Cause " + upper + " interval"},
			FieldDef{Name: CauseField(pos, "comment"), Kind: KindText, Label: "Cause " + upper + " comment"},
		)
	}

	for n := 1; n <= MaxContributing; n++ {
		label := fmt.Sprintf("Contributing condition %d", n)
		f = append(f,
			FieldDef{Name: ContributingField(n, ""), Kind: KindText, Label: label},
			FieldDef{Name: ContributingField(n, "icd_code"), Kind: KindText, Label: label + " ICD code"},
			FieldDef{Name: ContributingField(n, "comment"), Kind: KindText, Label: label + " comment"},
		)
	}

	f = append(f,
		FieldDef{Name: "surgery_within_4_weeks", Kind: KindEnum, Label: "Surgery within 4 weeks", Options: YesNoUnknown},
		FieldDef{Name: "surgery_date", Kind: KindDate, Label: "Surgery date", RequiredWhen: surgeryYes, Gate: surgeryYes},
		FieldDef{Name: "surgery_reason", Kind: KindText, Label: "Surgery reason", RequiredWhen: surgeryYes, Gate: surgeryYes},
		FieldDef{Name: "autopsy_requested", Kind: KindEnum, Label: "Autopsy requested", Options: YesNoUnknown},
		FieldDef{Name: "autopsy_findings_used", Kind: KindEnum, Label: "Autopsy findings used", Options: YesNoUnknown,
			Gate: &Condition{Field: "autopsy_requested", Equals: "yes"}},

		FieldDef{Name: "manner_of_death", Kind: KindEnum, Label: "Manner of death", Options: MannersOfDeath, Required: true},
		FieldDef{Name: "external_cause_date", Kind: KindDate, Label: "External cause date", RequiredWhen: external, Gate: external},
		FieldDef{Name: "external_cause_description", Kind: KindText, Label: "External cause description", RequiredWhen: external, Gate: external},
		FieldDef{Name: "poisoning_agent", Kind: KindText, Label: "Poisoning agent", Gate: external},
		FieldDef{Name: "death_location", Kind: KindEnum, Label: "Place of occurrence", Options: DeathLocations},
		FieldDef{Name: "death_location_other", Kind: KindText, Label: "Other place of occurrence", RequiredWhen: locationOther, Gate: locationOther},

		FieldDef{Name: "is_fetal_infant_death", Kind: KindBool, Label: "Fetal or infant death"},
		FieldDef{Name: "stillbirth", Kind: KindEnum, Label: "Stillbirth", Options: YesNoUnknown, Gate: fetal},
		FieldDef{Name: "multiple_pregnancy", Kind: KindBool, Label: "Multiple pregnancy", Gate: fetal},
		FieldDef{Name: "hours_if_death_within_24h", Kind: KindInt, Label: "Hours survived", Min: intp(0), Max: intp(24), Gate: fetal},
		FieldDef{Name: "birth_weight_grams", Kind: KindInt, Label: "Birth weight (grams)", Min: intp(0), Gate: fetal},
		FieldDef{Name: "was_serviced", Kind: KindBool, Label: "Mother received antenatal care", Gate: fetal},
		FieldDef{Name: "completed_weeks_pregnancy", Kind: KindInt, Label: "Completed weeks of pregnancy", Min: intp(0), Max: intp(45), Gate: fetal},
		FieldDef{Name: "mother_age_years", Kind: KindInt, Label: "Age of mother (years)", Min: intp(10), Max: intp(60), Gate: fetal},
		FieldDef{Name: "maternal_conditions", Kind: KindText, Label: "Maternal conditions", Gate: fetal},
		FieldDef{Name: "was_deceased_pregnant", Kind: KindEnum, Label: "Was the deceased pregnant", Options: YesNoUnknown},
		FieldDef{Name: "pregnancy_timing", Kind: KindEnum, Label: "Pregnancy timing", Options: PregnancyTimings, RequiredWhen: pregnant, Gate: pregnant},
		FieldDef{Name: "pregnancy_contributed_to_death", Kind: KindEnum, Label: "Pregnancy contributed to death", Options: YesNoUnknown, RequiredWhen: pregnant, Gate: pregnant},

		FieldDef{Name: "issued_to_full_name", Kind: KindText, Label: "Issued to"},
		FieldDef{Name: "issued_to_mobile", Kind: KindText, Label: "Recipient mobile"},
		FieldDef{Name: "issued_to_contact_details", Kind: KindText, Label: "Recipient contact details"},
		FieldDef{Name: "relation_to_deceased", Kind: KindText, Label: "Relation to deceased"},
		FieldDef{Name: "witness_to_deceased", Kind: KindText, Label: "Witness"},
		FieldDef{Name: "witness_date", Kind: KindDate, Label: "Witness date"},
	)
	return f
}

// Lookup returns the definition of a content column.
func Lookup(name string) (FieldDef, bool) {
	def, ok := fieldIndex[name]
	if !ok {
		return FieldDef{}, false
	}
	return *def, true
}

// IsColumn reports whether name is a persisted content column.
func IsColumn(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// ColumnNames returns the content columns in declaration order.
func ColumnNames() []string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = f.Name
	}
	return names
}

// Coerce converts a wire or storage value into the canonical Go value for
// the field: string for text, date and enum, bool, int, or nil. Blank
// strings become nil.
func Coerce(def FieldDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch def.Kind {
	case KindText:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
		return nil, fmt.Errorf("must be text")

	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t.Format(DateLayout), nil
		case string:
			s := strings.TrimSpace(t)
			if len(s) > len(DateLayout) {
				// timestamps read back from some drivers
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return ts.Format(DateLayout), nil
				}
			}
			if _, err := time.Parse(DateLayout, s); err != nil {
				return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")
			}
			return s, nil
		}
		return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")

	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be one of %s", strings.Join(def.Options, ", "))
		}
		for _, opt := range def.Options {
			if s == opt {
				return s, nil
			}
		}
		return nil, fmt.Errorf("must be one of %s", strings.Join(def.Options, ", "))

	case KindBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case int:
			return t != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("must be true or false")
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be true or false")

	case KindInt:
		switch t := v.(type) {
		case int:
			return t, nil
		case int32:
			return int(t), nil
		case int64:
			return int(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("must be a whole number")
			}
			return int(t), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("must be a whole number")
			}
			return n, nil
		}
		return nil, fmt.Errorf("must be a whole number")
	}
	return nil, fmt.Errorf("unsupported field kind %q", def.Kind)
}

// ValidateFields checks the named fields of rec: type, enumeration and range
// checks, conditional requirements and date ordering. Fields hidden by their
// gate are skipped. rec is expected to hold coerced values. Dates after now
// are rejected.
func ValidateFields(rec Record, names []string, now time.Time) []FieldError {
	var errs []FieldError
	checked := make(map[string]bool, len(names))
	for _, name := range names {
		def, ok := Lookup(name)
		if !ok {
			continue
		}
		checked[name] = true
		if def.Gate != nil && !def.Gate.holds(rec) {
			continue
		}

		raw := rec[name]
		v, err := Coerce(def, raw)
		if err != nil {
			errs = append(errs, FieldError{Field: name, Message: def.Label + " " + err.Error()})
			continue
		}
		if v == nil {
			if def.RequiredWhen != nil && def.RequiredWhen.holds(rec) {
				errs = append(errs, FieldError{Field: name, Message: def.Label + " is required"})
			}
			continue
		}
		if fe, bad := checkRange(def, v); bad {
			errs = append(errs, fe)
		}
	}
	return append(errs, validateDates(rec, checked, now)...)
}

// checkRange applies the Min and Max bounds of an integer field.
func checkRange(def FieldDef, v any) (FieldError, bool) {
	n, ok := v.(int)
	if !ok {
		return FieldError{}, false
	}
	if def.Min != nil && n < *def.Min {
		return FieldError{Field: def.Name, Message: fmt.Sprintf("%s must be at least %d", def.Label, *def.Min)}, true
	}
	if def.Max != nil && n > *def.Max {
		return FieldError{Field: def.Name, Message: fmt.Sprintf("%s must be at most %d", def.Label, *def.Max)}, true
	}
	return FieldError{}, false
}

// validateDates applies the date-ordering rules whose subject field was
// checked.
func validateDates(rec Record, checked map[string]bool, now time.Time) []FieldError {
	var errs []FieldError
	dob := dateValue(rec, "date_of_birth")
	dod := dateValue(rec, "date_of_death")
	today := now.Format(DateLayout)

	if checked["date_of_death"] && dod != "" {
		if dob != "" && dod < dob {
			errs = append(errs, FieldError{Field: "date_of_death", Message: "Date of death cannot be before date of birth"})
		}
		if dod > today {
			errs = append(errs, FieldError{Field: "date_of_death", Message: "Date of death cannot be in the future"})
		}
	}
	if dod == "" {
		return errs
	}
	for _, name := range []string{"surgery_date", "external_cause_date"} {
		def, _ := Lookup(name)
		if !checked[name] || !def.Gate.holds(rec) {
			continue
		}
		if d := dateValue(rec, name); d != "" && d > dod {
			errs = append(errs, FieldError{Field: name, Message: def.Label + " cannot be after date of death"})
		}
	}
	if checked["witness_date"] {
		if d := dateValue(rec, "witness_date"); d != "" && d < dod {
			errs = append(errs, FieldError{Field: "witness_date", Message: "Witness date cannot be before date of death"})
		}
	}
	return errs
}

// dateValue returns the canonical date string of a field, or "" when it is
// absent or malformed. Malformed dates are reported by the kind check.
func dateValue(rec Record, name string) string {
	def, _ := Lookup(name)
	v, err := Coerce(def, rec[name])
	if err != nil || v == nil {
		return ""
	}
	return v.(string)
}

// ValidateChain enforces the no-gaps rule of the cause-of-death chain: a
// description at position n requires one at n-1.
func ValidateChain(rec Record) []FieldError {
	var errs []FieldError
	for i := len(CausePositions) - 1; i > 0; i-- {
		pos, prev := CausePositions[i], CausePositions[i-1]
		if rec.Blank(CauseField(pos, "description")) || !rec.Blank(CauseField(prev, "description")) {
			continue
		}
		errs = append(errs, FieldError{
			Field:   CauseField(prev, "description"),
			Message: fmt.Sprintf("Cause %s is required when cause %s is given",
				strings.ToUpper(prev), strings.ToUpper(pos)),
		})
	}
	return errs
}

// ValidateSubmission checks a whole record before it may become submitted.
// Missing mandatory fields are reported first, in SubmissionRequired order,
// followed by chain and per-field errors.
func ValidateSubmission(rec Record, now time.Time) []FieldError {
	var errs []FieldError
	for _, name := range SubmissionRequired {
		if rec.Blank(name) {
			def, _ := Lookup(name)
			errs = append(errs, FieldError{Field: name, Message: def.Label + " is required"})
		}
	}
	errs = append(errs, ValidateChain(rec)...)
	return append(errs, ValidateFields(rec, ColumnNames(), now)...)
}
