package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Form is the qualification draft. Empty fields are omitted from the lead.
type Form struct {
	Phone       string   `json:"phone" validate:"required,len=10,number"` // destination phone
	Name        string   `json:"name,omitempty"`
	Source      string   `json:"source,omitempty"`
	Language    string   `json:"language,omitempty"`
	Location    string   `json:"location,omitempty"`
	Area        string   `json:"area,omitempty"`
	Interest    string   `json:"interest,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Model       string   `json:"model,omitempty"`
	Budget      string   `json:"budget,omitempty"`
	EMI         string   `json:"emi,omitempty"`
	VisitIntent string   `json:"visit_intent,omitempty"`
	CallNotes   []string `json:"call_notes,omitempty"`
	AssignedTo  string   `json:"assigned_to" validate:"required"`
}

// Validate checks that the form can be saved. The returned error is a
// VALIDATION LeadlineError wrapping ErrPhoneIncomplete or ErrAssigneeRequired.
// The phone is checked first.
func (f Form) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainerrors.Validation("invalid form", err)
	}

	var phoneErr, assigneeErr bool
	for _, fe := range verrs {
		switch fe.StructField() {
		case "Phone":
			phoneErr = true
		case "AssignedTo":
			assigneeErr = true
		}
	}

	switch {
	case phoneErr:
		return domainerrors.WithContext(
			domainerrors.Validation(fmt.Sprintf("phone %q", f.Phone), domainerrors.ErrPhoneIncomplete),
			"field", "phone")
	case assigneeErr:
		return domainerrors.WithContext(
			domainerrors.Validation("lead has no assignee", domainerrors.ErrAssigneeRequired),
			"field", "assigned_to")
	}
	return domainerrors.Validation("invalid form", err)
}

// Set assigns a form field by its record name. Unknown fields return an error.
// call_notes accepts a comma-separated list.
func (f *Form) Set(field, value string) error {
	switch field {
	case record.FieldPhone:
		f.Phone = value
	case record.FieldName:
		f.Name = value
	case "source":
		f.Source = value
	case "language":
		f.Language = value
	case "location":
		f.Location = value
	case "area":
		f.Area = value
	case "interest":
		f.Interest = value
	case "brand":
		f.Brand = value
	case "model":
		f.Model = value
	case "budget":
		f.Budget = value
	case "emi":
		f.EMI = value
	case "visit_intent":
		f.VisitIntent = value
	case "call_notes":
		f.CallNotes = nil
		for _, n := range strings.Split(value, ",") {
			if n = strings.TrimSpace(n); n != "" {
				f.CallNotes = append(f.CallNotes, n)
			}
		}
	case record.FieldAssignedTo:
		f.AssignedTo = value
	default:
		return domainerrors.Validation(fmt.Sprintf("unknown form field %q", field), nil)
	}
	return nil
}

// LeadFields returns the lead record fields captured by the form.
func (f Form) LeadFields() record.Record {
	r := record.Record{
		record.FieldPhone:      f.Phone,
		record.FieldAssignedTo: f.AssignedTo,
	}
	put := func(k, v string) {
		if v != "" {
			r[k] = v
		}
	}
	put(record.FieldName, f.Name)
	put("source", f.Source)
	put("language", f.Language)
	put("location", f.Location)
	put("area", f.Area)
	put("interest", f.Interest)
	put("brand", f.Brand)
	put("model", f.Model)
	put("budget", f.Budget)
	put("emi", f.EMI)
	put("visit_intent", f.VisitIntent)
	if len(f.CallNotes) > 0 {
		notes := make([]any, len(f.CallNotes))
		for i, n := range f.CallNotes {
			notes[i] = n
		}
		r["call_notes"] = notes
	}
	return r
}
