package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// gestational age in weeks that we accept for fetal/neonatal scans
const gestationalAgeMin = 20
const gestationalAgeMax = 45

// RunParams holds everything a pipeline run needs from the user. Collected
// once at run start, never changed afterwards.
type RunParams struct {
	SubjectID      string
	Session        string
	GestationalAge int
	Mode           string // "postnatal" or "inutero"
	Extraction     string // "monai" or "fsl"
	InputFile      string
	TransformFile  string
}

// validateGestationalAge checks a user supplied gestational age. The two
// failure modes get different messages so the user knows what to fix.
func validateGestationalAge(s string) (int, error) {
	s = strings.TrimSpace(s)
	age, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("\"%s\" is not a number", s)
	}
	if age < gestationalAgeMin || age > gestationalAgeMax {
		return 0, fmt.Errorf("%d is outside the expected range of %d to %d weeks",
			age, gestationalAgeMin, gestationalAgeMax)
	}
	return age, nil
}

func validateMode(s string) (string, error) {
	switch strings.TrimSpace(s) {
	case "p", "postnatal":
		return "postnatal", nil
	case "i", "inutero", "in-utero":
		return "inutero", nil
	}
	return "", fmt.Errorf("\"%s\" is not a processing mode, use postnatal or inutero", s)
}

func validateExtraction(s string) (string, error) {
	switch strings.TrimSpace(s) {
	case "m", "monai":
		return "monai", nil
	case "f", "fsl":
		return "fsl", nil
	}
	return "", fmt.Errorf("\"%s\" is not an extraction variant, use monai or fsl", s)
}

// promptLine asks until the validator accepts the input. There is no retry
// limit, the user can always ^C out.
func promptLine(reader *bufio.Reader, label string, validate func(string) error) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		line = strings.TrimSuffix(line, "\n")
		if verr := validate(line); verr != nil {
			fmt.Printf("%v\n", verr)
			if err != nil {
				return "", err
			}
			continue
		}
		return strings.TrimSpace(line), nil
	}
}

// collectRunParams fills in whatever the flags did not provide by asking on
// stdin. A value that came in as a flag is validated once and is fatal if it
// does not pass, the interactive path keeps asking instead.
func collectRunParams(p RunParams, in io.Reader) (RunParams, error) {
	reader := bufio.NewReader(in)

	if p.SubjectID == "" {
		id, err := promptLine(reader, "Subject identifier", func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("the subject identifier cannot be empty")
			}
			return nil
		})
		if err != nil {
			return p, &InvalidParameterError{Name: "subject", Value: "", Reason: "no input"}
		}
		p.SubjectID = id
	}
	if p.Session == "" {
		p.Session = "s1"
	}

	if p.GestationalAge == 0 {
		age, err := promptLine(reader,
			fmt.Sprintf("Gestational age in weeks (%d-%d)", gestationalAgeMin, gestationalAgeMax),
			func(s string) error {
				_, verr := validateGestationalAge(s)
				return verr
			})
		if err != nil {
			return p, &InvalidParameterError{Name: "age", Value: "", Reason: "no input"}
		}
		p.GestationalAge, _ = validateGestationalAge(age)
	} else if p.GestationalAge < gestationalAgeMin || p.GestationalAge > gestationalAgeMax {
		return p, &InvalidParameterError{Name: "age",
			Value:  fmt.Sprintf("%d", p.GestationalAge),
			Reason: fmt.Sprintf("outside the expected range of %d to %d weeks", gestationalAgeMin, gestationalAgeMax)}
	}

	if p.Mode == "" {
		mode, err := promptLine(reader, "Processing mode, (p)ostnatal or (i)n-utero", func(s string) error {
			_, verr := validateMode(s)
			return verr
		})
		if err != nil {
			return p, &InvalidParameterError{Name: "mode", Value: "", Reason: "no input"}
		}
		p.Mode, _ = validateMode(mode)
	} else {
		mode, err := validateMode(p.Mode)
		if err != nil {
			return p, &InvalidParameterError{Name: "mode", Value: p.Mode, Reason: err.Error()}
		}
		p.Mode = mode
	}

	if p.Mode == "postnatal" {
		if p.Extraction == "" {
			ex, err := promptLine(reader, "Brain extraction, (m)onai or (f)sl", func(s string) error {
				_, verr := validateExtraction(s)
				return verr
			})
			if err != nil {
				return p, &InvalidParameterError{Name: "extraction", Value: "", Reason: "no input"}
			}
			p.Extraction, _ = validateExtraction(ex)
		} else {
			ex, err := validateExtraction(p.Extraction)
			if err != nil {
				return p, &InvalidParameterError{Name: "extraction", Value: p.Extraction, Reason: err.Error()}
			}
			p.Extraction = ex
		}
	}

	// both branches feed {input} into a stage, the extraction for
	// postnatal scans and the registration for in-utero scans
	if p.InputFile == "" {
		file, err := promptLine(reader, "Input volume (the reconstructed stack)", func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("the input volume cannot be empty")
			}
			return nil
		})
		if err != nil {
			return p, &InvalidParameterError{Name: "input", Value: "", Reason: "no input"}
		}
		p.InputFile = file
	}

	return p, nil
}
