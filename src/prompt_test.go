package main

import (
	"errors"
	"strings"
	"testing"
)

func Test_validateGestationalAge(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr string // substring of the expected message, empty means no error
	}{
		{"Valid age", "28", 28, ""},
		{"Valid with spaces", " 28 ", 28, ""},
		{"Lower bound", "20", 20, ""},
		{"Upper bound", "45", 45, ""},
		{"Not a number", "abc", 0, "is not a number"},
		{"Below range", "10", 0, "outside the expected range"},
		{"Above range", "60", 0, "outside the expected range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateGestationalAge(tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateGestationalAge(%s) error = %v", tt.input, err)
					return
				}
				if got != tt.want {
					t.Errorf("validateGestationalAge(%s) = %d, want %d", tt.input, got, tt.want)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateGestationalAge(%s) error = %v, want message with %q", tt.input, err, tt.wantErr)
			}
		})
	}
}

func Test_validateMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Short postnatal", "p", "postnatal", false},
		{"Long postnatal", "postnatal", "postnatal", false},
		{"Short inutero", "i", "inutero", false},
		{"Hyphenated", "in-utero", "inutero", false},
		{"Unknown", "prenatal", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateMode(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("validateMode(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func Test_collectRunParamsReprompts(t *testing.T) {
	// the interactive path keeps asking until the input validates, here
	// the age is rejected twice before 28 is accepted
	in := strings.NewReader("FX41\nabc\n10\n28\np\nm\nstack.nii.gz\n")
	p, err := collectRunParams(RunParams{}, in)
	if err != nil {
		t.Fatalf("collectRunParams() error = %v", err)
	}
	if p.SubjectID != "FX41" {
		t.Errorf("SubjectID = %v, want FX41", p.SubjectID)
	}
	if p.Session != "s1" {
		t.Errorf("Session = %v, want the default s1", p.Session)
	}
	if p.GestationalAge != 28 {
		t.Errorf("GestationalAge = %d, want 28", p.GestationalAge)
	}
	if p.Mode != "postnatal" {
		t.Errorf("Mode = %v, want postnatal", p.Mode)
	}
	if p.Extraction != "monai" {
		t.Errorf("Extraction = %v, want monai", p.Extraction)
	}
	if p.InputFile != "stack.nii.gz" {
		t.Errorf("InputFile = %v, want stack.nii.gz", p.InputFile)
	}
}

func Test_collectRunParamsInutero(t *testing.T) {
	// in-utero runs never ask for the extraction variant
	in := strings.NewReader("i\nstack.nii.gz\n")
	p, err := collectRunParams(RunParams{SubjectID: "FX41", GestationalAge: 25}, in)
	if err != nil {
		t.Fatalf("collectRunParams() error = %v", err)
	}
	if p.Mode != "inutero" {
		t.Errorf("Mode = %v, want inutero", p.Mode)
	}
	if p.Extraction != "" {
		t.Errorf("Extraction = %v, want empty for inutero", p.Extraction)
	}
	if p.InputFile != "stack.nii.gz" {
		t.Errorf("InputFile = %v, want stack.nii.gz", p.InputFile)
	}
}

func Test_collectRunParamsAsksForInput(t *testing.T) {
	// a run without -f asks for the input volume, empty answers are rejected
	in := strings.NewReader("\nstack.nii.gz\n")
	p, err := collectRunParams(RunParams{SubjectID: "FX41", GestationalAge: 28,
		Mode: "postnatal", Extraction: "monai"}, in)
	if err != nil {
		t.Fatalf("collectRunParams() error = %v", err)
	}
	if p.InputFile != "stack.nii.gz" {
		t.Errorf("InputFile = %v, want stack.nii.gz", p.InputFile)
	}
}

func Test_collectRunParamsFlagErrors(t *testing.T) {
	// values supplied as flags are fatal when they do not validate, no
	// re-prompting in that case
	tests := []struct {
		name   string
		params RunParams
	}{
		{"Bad age", RunParams{SubjectID: "FX41", GestationalAge: 10, Mode: "postnatal", Extraction: "monai"}},
		{"Bad mode", RunParams{SubjectID: "FX41", GestationalAge: 28, Mode: "sideways"}},
		{"Bad extraction", RunParams{SubjectID: "FX41", GestationalAge: 28, Mode: "postnatal", Extraction: "magic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collectRunParams(tt.params, strings.NewReader(""))
			var invalid *InvalidParameterError
			if !errors.As(err, &invalid) {
				t.Errorf("collectRunParams() error = %v, want *InvalidParameterError", err)
			}
		})
	}
}
