package validator

import (
	"testing"
)

type joinPayload struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=64"`
	PartyID     string `json:"party_id" validate:"required,uuid4"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := joinPayload{
		DisplayName: "alice",
		PartyID:     "6ba7b810-9dad-41d1-80b4-00c04fd430c8",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := joinPayload{
		DisplayName: "",
		PartyID:     "not-a-uuid",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(vErrs))
	}

	// JSON tag names should be used for field identification.
	if vErrs[0].Field != "display_name" {
		t.Fatalf("expected json tag field name, got %q", vErrs[0].Field)
	}
}

func TestMediaRefRule(t *testing.T) {
	type payload struct {
		MediaRef string `json:"media_ref" validate:"required,mediaref"`
	}

	if err := ValidateStruct(payload{MediaRef: "media/inception.mp4"}); err != nil {
		t.Fatalf("expected valid media ref, got %v", err)
	}

	err := ValidateStruct(payload{MediaRef: "media/inception final.mp4"})
	if err == nil {
		t.Fatal("expected whitespace media ref to fail")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok || vErrs[0].Tag != "mediaref" {
		t.Fatalf("expected mediaref failure, got %v", err)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "display_name", Tag: "max", Param: "64"},
		{Field: "party_id", Tag: "required"},
	}

	msg := errs.Error()
	if msg != "display_name failed on max=64; party_id failed on required" {
		t.Fatalf("unexpected message: %q", msg)
	}

	if (ValidationErrors{}).Error() != "validation failed" {
		t.Fatal("expected default message for empty failure list")
	}
}
