package triage

import (
	"errors"
	"testing"
)

func validAnswers() Answers {
	return Answers{
		Age:              40,
		Temperature:      ptrFloat(98.6),
		Symptoms:         []string{"cough"},
		PainLevel:        2,
		Duration:         "few-days",
		Medications:      []string{"ibuprofen"},
		Allergies:        []string{"penicillin"},
		EmergencyContact: EmergencyContact{Name: "Asha", Phone: "5550100"},
	}
}

func TestAnswers_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Answers)
		wantErr bool
	}{
		{"valid", func(a *Answers) {}, false},
		{"age lower bound", func(a *Answers) { a.Age = 0 }, false},
		{"age upper bound", func(a *Answers) { a.Age = 120 }, false},
		{"negative age", func(a *Answers) { a.Age = -1 }, true},
		{"age too high", func(a *Answers) { a.Age = 121 }, true},
		{"pain too high", func(a *Answers) { a.PainLevel = 11 }, true},
		{"negative pain", func(a *Answers) { a.PainLevel = -1 }, true},
		{"temperature absent", func(a *Answers) { a.Temperature = nil }, false},
		{"temperature implausible", func(a *Answers) { a.Temperature = ptrFloat(39) }, true},
		{"no symptoms", func(a *Answers) { a.Symptoms = nil }, true},
		{"blank symptoms", func(a *Answers) { a.Symptoms = []string{"  "} }, true},
		{"other symptom only", func(a *Answers) { a.Symptoms = nil; a.OtherSymptom = "rash" }, false},
		{"missing duration", func(a *Answers) { a.Duration = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAnswers()
			tt.mutate(&a)
			err := a.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAnswers_Clone(t *testing.T) {
	a := validAnswers()
	c := a.Clone()

	*c.Temperature = 104
	c.Symptoms[0] = "changed"
	c.Medications[0] = "changed"

	if *a.Temperature != 98.6 {
		t.Error("clone shares temperature pointer")
	}
	if a.Symptoms[0] != "cough" || a.Medications[0] != "ibuprofen" {
		t.Error("clone shares slices")
	}
}
