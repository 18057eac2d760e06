package certificate

import (
	"encoding/json"
	"testing"
)

func TestCertificate_SetContentAndRecord(t *testing.T) {
	rec := Record{
		"deceased_full_name":                "Esi Owusu",
		"cause_a_description":               "Hypovolaemic shock",
		"cause_a_icd_code":                  "MG40",
		"cause_b_description":               "Postpartum haemorrhage",
		"contributing_conditions_2":         "Anaemia",
		"contributing_conditions_2_comment": "chronic",
	}
	var c Certificate
	c.SetContent(rec)

	if len(c.CauseChain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(c.CauseChain))
	}
	if c.CauseChain[0].Position != "a" || c.CauseChain[0].ICDCode != "MG40" {
		t.Errorf("unexpected first entry %+v", c.CauseChain[0])
	}
	if len(c.Contributing) != 1 || c.Contributing[0].Slot != 2 {
		t.Errorf("unexpected contributing %+v", c.Contributing)
	}
	if _, ok := c.Fields["cause_a_description"]; ok {
		t.Error("expected chain columns to be moved out of Fields")
	}

	back := c.Record()
	for k, v := range rec {
		if back[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, back[k])
		}
	}
}

func TestCertificate_NullReloadsAsAbsent(t *testing.T) {
	payload, _ := Prepare(Record{"folder_number": "", "deceased_full_name": "Yaw"})
	var c Certificate
	c.SetContent(payload)

	rec := c.Record()
	if _, ok := rec["folder_number"]; ok {
		t.Errorf("expected folder_number absent, got %#v", rec["folder_number"])
	}

	b, _ := json.Marshal(c)
	var decoded map[string]any
	json.Unmarshal(b, &decoded)
	fields := decoded["fields"].(map[string]any)
	if _, ok := fields["folder_number"]; ok {
		t.Error("expected no empty string in the serialised fields")
	}
}
