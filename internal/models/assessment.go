package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAssessmentType = errors.New("unknown assessment type")

type AssessmentType string

const (
	AssessmentICT AssessmentType = "ICT"
	AssessmentFCT AssessmentType = "FCT"
	AssessmentIAT AssessmentType = "IAT"
	AssessmentFIX AssessmentType = "FIX"
)

var AssessmentTypes = []AssessmentType{AssessmentICT, AssessmentFCT, AssessmentIAT, AssessmentFIX}

func ParseAssessmentType(s string) (AssessmentType, error) {
	t := AssessmentType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssessmentType, s)
	}
	return t, nil
}

func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentICT, AssessmentFCT, AssessmentIAT, AssessmentFIX:
		return true
	}
	return false
}

// DefaultProjectsFolder is the top-level grouping folder projects of this
// type are provisioned under.
func (t AssessmentType) DefaultProjectsFolder() string {
	switch t {
	case AssessmentICT:
		return "1_In_Circuit Test (ICT)"
	case AssessmentFCT:
		return "2_Functional Test (FCT)"
	case AssessmentIAT:
		return "4_Industrial Automation (IAT)"
	case AssessmentFIX:
		return "1_FIX Test (FIX)"
	}
	return ""
}

func (t AssessmentType) Title() string {
	switch t {
	case AssessmentICT:
		return "ICT Assessment"
	case AssessmentFCT:
		return "FCT Assessment"
	case AssessmentIAT:
		return "IAT Assessment"
	case AssessmentFIX:
		return "FIX Assessment"
	}
	return string(t)
}
