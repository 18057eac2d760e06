package certificate

import "testing"

func TestPrepare_DropsUnknownKeys(t *testing.T) {
	out, errs := Prepare(Record{
		"deceased_full_name": "Ama",
		"showCauseB":         true,
		"status":             "submitted",
		"serial_number":      "X",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(out) != 1 {
		t.Errorf("expected 1 key, got %v", out)
	}
	if _, ok := out["showCauseB"]; ok {
		t.Error("expected client-only key to be dropped")
	}
}

func TestPrepare_EmptyStringBecomesNil(t *testing.T) {
	out, _ := Prepare(Record{"folder_number": "", "national_id_number": "GHA-1"})
	v, ok := out["folder_number"]
	if !ok {
		t.Fatal("expected folder_number to be kept")
	}
	if v != nil {
		t.Errorf("expected nil, got %#v", v)
	}
}

func TestPrepare_CoercionErrors(t *testing.T) {
	_, errs := Prepare(Record{"mother_age_years": "abc", "gender": "x"})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if errs[0].Field != "gender" || errs[1].Field != "mother_age_years" {
		t.Errorf("expected errors sorted by field, got %v", errs)
	}
}

func TestPrepare_ClosedGatesClearFields(t *testing.T) {
	out, _ := Prepare(Record{
		"is_fetal_infant_death":  false,
		"birth_weight_grams":     "2500",
		"surgery_within_4_weeks": "no",
		"surgery_date":           "2024-01-01",
		"manner_of_death":        "disease",
		"poisoning_agent":        "arsenic",
	})
	for _, f := range []string{"birth_weight_grams", "stillbirth", "surgery_date", "surgery_reason", "poisoning_agent"} {
		v, ok := out[f]
		if !ok || v != nil {
			t.Errorf("expected %s to be written as null, got %#v (present=%v)", f, v, ok)
		}
	}
}

func TestPrepare_GateLeftAloneWithoutController(t *testing.T) {
	out, _ := Prepare(Record{"deceased_full_name": "Ama"})
	if _, ok := out["birth_weight_grams"]; ok {
		t.Error("expected gated field untouched when its controlling field is absent")
	}
}

func TestPrepare_OpenGateKeepsValues(t *testing.T) {
	out, _ := Prepare(Record{"is_fetal_infant_death": true, "birth_weight_grams": float64(2500)})
	if out["birth_weight_grams"] != 2500 {
		t.Errorf("expected 2500, got %#v", out["birth_weight_grams"])
	}
}

func TestRecord_MergeKeepsExistingKeys(t *testing.T) {
	r := Record{"a": 1, "b": 2}
	r.Merge(Record{"b": 3, "c": 4})
	if r["a"] != 1 || r["b"] != 3 || r["c"] != 4 {
		t.Errorf("unexpected merge result %v", r)
	}
}

func TestPrepare_RangeErrors(t *testing.T) {
	_, errs := Prepare(Record{"is_fetal_infant_death": true, "mother_age_years": 61, "completed_weeks_pregnancy": "50"})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if errs[0].Field != "completed_weeks_pregnancy" || errs[1].Field != "mother_age_years" {
		t.Errorf("expected errors sorted by field, got %v", errs)
	}
	if errs[1].Message != "Age of mother (years) must be at most 60" {
		t.Errorf("unexpected message %q", errs[1].Message)
	}

	// a closed gate clears the value before bounds apply
	if _, errs := Prepare(Record{"is_fetal_infant_death": false, "mother_age_years": 5}); len(errs) != 0 {
		t.Errorf("expected no errors for a cleared field, got %v", errs)
	}
}
