package services

import (
	"strings"

	"IBT-ASSESS/internal/models"
)

var blockedEmailDomains = []string{
	"@gmail.com",
	"@hotmail.com",
	"@live.com.mx",
	"@yahoo.com.mx",
	"@yahoo.com",
}

// IsCorporateEmail reports whether email is non-empty and not on a personal
// mail domain.
func IsCorporateEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return false
	}
	for _, domain := range blockedEmailDomains {
		if strings.HasSuffix(email, domain) {
			return false
		}
	}
	return true
}

// ValidateSubmission returns ValidationErrors listing every missing required
// field, or nil.
func ValidateSubmission(s models.Submission) error {
	var errs ValidationErrors
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "is required"})
		}
	}

	if !s.Type.Valid() {
		errs = append(errs, &ValidationError{Field: "type", Message: "is not a known assessment type"})
	}
	required("project_name", s.ProjectName)
	required("contact_name", s.ContactName)
	required("date", s.Date)

	switch {
	case strings.TrimSpace(s.ContactEmail) == "":
		errs = append(errs, &ValidationError{Field: "contact_email", Message: "is required"})
	case !IsCorporateEmail(s.ContactEmail):
		errs = append(errs, &ValidationError{Field: "contact_email", Message: "must be a corporate address"})
	}

	customer, _ := s.Customer()
	if s.Type == models.AssessmentIAT {
		required("customer_name", customer)
	} else if customer == "" {
		errs = append(errs, &ValidationError{Field: "customer_name", Message: "is required to name the project folder"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
