// Package records holds the field-name contract of the five applicant
// collections and converts raw store records to typed values and back.
package records

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/shortlister/internal/snapshot"
	"github.com/spigell/shortlister/internal/store"
)

const (
	// FieldApplicantLink is the link field child records use to point at their applicant.
	FieldApplicantLink = "Applicant ID"
	// FieldLeadApplicant is the link field of a shortlisted lead.
	FieldLeadApplicant = "Applicant"

	FieldSnapshot        = "Compressed JSON"
	FieldShortlistStatus = "Shortlist Status"
	FieldSummary         = "LLM Summary"
	FieldScore           = "LLM Score"
	FieldIssues          = "LLM Issues"
	FieldFollowUps       = "LLM Follow-Ups"
	FieldHash            = "JSON Hash"

	FieldFullName = "Full Name"
	FieldEmail    = "Email"
	FieldLocation = "Location"
	FieldLinkedIn = "LinkedIn"

	FieldCompany      = "Company"
	FieldTitle        = "Title"
	FieldStart        = "Start"
	FieldEnd          = "End"
	FieldTechnologies = "Technologies"

	FieldPreferredRate = "Preferred Rate"
	FieldMinimumRate   = "Minimum Rate"
	FieldCurrency      = "Currency"
	FieldAvailability  = "Availability (hrs/wk)"

	FieldScoreReason = "Score Reason"
	FieldCreatedAt   = "Created At"
)

var (
	ErrMissingPersonalDetails  = errors.New("missing personal details")
	ErrMissingSalaryPreference = errors.New("missing salary preference")
)

// MissingDataError reports that a required one-to-one child record is absent.
type MissingDataError struct {
	ApplicantID string
	Collection  store.Collection
	Err         error
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("applicant %s: %v (no linked %s record)", e.ApplicantID, e.Err, e.Collection)
}

func (e *MissingDataError) Unwrap() error { return e.Err }

// Applicant is the typed view of an Applicants record.
type Applicant struct {
	ID              string `mapstructure:"-"`
	Snapshot        string `mapstructure:"Compressed JSON"`
	ShortlistStatus bool   `mapstructure:"Shortlist Status"`
	Summary         string `mapstructure:"LLM Summary"`
	Score           int    `mapstructure:"LLM Score"`
	Issues          string `mapstructure:"LLM Issues"`
	FollowUps       string `mapstructure:"LLM Follow-Ups"`
	Hash            string `mapstructure:"JSON Hash"`
}

type PersonalDetails struct {
	ID       string `mapstructure:"-"`
	FullName string `mapstructure:"Full Name"`
	Email    string `mapstructure:"Email"`
	Location string `mapstructure:"Location"`
	LinkedIn string `mapstructure:"LinkedIn"`
}

type WorkExperience struct {
	ID           string    `mapstructure:"-"`
	CreatedAt    time.Time `mapstructure:"-"`
	Company      string    `mapstructure:"Company"`
	Title        string    `mapstructure:"Title"`
	Start        string    `mapstructure:"Start"`
	End          string    `mapstructure:"End"`
	Technologies string    `mapstructure:"Technologies"`
}

type SalaryPreference struct {
	ID            string  `mapstructure:"-"`
	PreferredRate float64 `mapstructure:"Preferred Rate"`
	MinimumRate   float64 `mapstructure:"Minimum Rate"`
	Currency      string  `mapstructure:"Currency"`
	Availability  float64 `mapstructure:"Availability (hrs/wk)"`
}

// Decode copies the loosely typed fields of rec into out. Unknown fields are
// ignored and scalar types are coerced, so "90" decodes into a float64 rate.
func Decode(rec *store.Record, out any) error {
	if rec == nil {
		return errors.New("record is nil")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}

	if err := decoder.Decode(rec.Fields); err != nil {
		return fmt.Errorf("decoding record %s: %w", rec.ID, err)
	}

	return nil
}

func DecodeApplicant(rec *store.Record) (*Applicant, error) {
	var a Applicant
	if err := Decode(rec, &a); err != nil {
		return nil, err
	}
	a.ID = rec.ID
	return &a, nil
}

func DecodePersonalDetails(rec *store.Record) (*PersonalDetails, error) {
	var p PersonalDetails
	if err := Decode(rec, &p); err != nil {
		return nil, err
	}
	p.ID = rec.ID
	return &p, nil
}

func DecodeWorkExperience(rec *store.Record) (*WorkExperience, error) {
	var w WorkExperience
	if err := Decode(rec, &w); err != nil {
		return nil, err
	}
	w.ID = rec.ID
	w.CreatedAt = rec.CreatedAt
	return &w, nil
}

func DecodeSalaryPreference(rec *store.Record) (*SalaryPreference, error) {
	var s SalaryPreference
	if err := Decode(rec, &s); err != nil {
		return nil, err
	}
	s.ID = rec.ID
	return &s, nil
}

// LinkFilter selects child records owned by applicantID.
func LinkFilter(applicantID string) store.Filter {
	return store.Filter{LinkField: FieldApplicantLink, LinkedTo: applicantID}
}

// LeadFilter selects the shortlisted leads of one applicant.
func LeadFilter(applicantID string) store.Filter {
	return store.Filter{LinkField: FieldLeadApplicant, LinkedTo: applicantID}
}

// SortByCreation orders experiences by creation time, then by record ID.
func SortByCreation(items []*WorkExperience) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return lessID(items[i].ID, items[j].ID)
	})
}

// lessID compares IDs numerically when both are numbers of different length,
// so SQL ids "9" and "10" keep insertion order.
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PersonalFields maps a snapshot section onto PersonalDetails fields.
func PersonalFields(p *snapshot.Personal) map[string]any {
	return map[string]any{
		FieldFullName: p.Name,
		FieldEmail:    p.Email,
		FieldLocation: p.Location,
		FieldLinkedIn: p.LinkedIn,
	}
}

// ExperienceFields maps a snapshot entry onto WorkExperience fields.
func ExperienceFields(e snapshot.Experience) map[string]any {
	return map[string]any{
		FieldCompany:      e.Company,
		FieldTitle:        e.Title,
		FieldStart:        e.Start,
		FieldEnd:          e.End,
		FieldTechnologies: e.Technologies,
	}
}

// SalaryFields maps a snapshot section onto SalaryPreference fields.
func SalaryFields(s *snapshot.Salary) map[string]any {
	return map[string]any{
		FieldPreferredRate: s.PreferredRate,
		FieldMinimumRate:   s.MinimumRate,
		FieldCurrency:      s.Currency,
		FieldAvailability:  s.Availability,
	}
}

// WithLink returns fields extended with the applicant link.
func WithLink(fields map[string]any, applicantID string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[FieldApplicantLink] = []string{applicantID}
	return out
}

func (p *PersonalDetails) Section() *snapshot.Personal {
	return &snapshot.Personal{
		Name:     p.FullName,
		Email:    p.Email,
		Location: p.Location,
		LinkedIn: p.LinkedIn,
	}
}

func (w *WorkExperience) Entry() snapshot.Experience {
	return snapshot.Experience{
		Company:      w.Company,
		Title:        w.Title,
		Start:        w.Start,
		End:          w.End,
		Technologies: w.Technologies,
	}
}

func (s *SalaryPreference) Section() *snapshot.Salary {
	return &snapshot.Salary{
		PreferredRate: s.PreferredRate,
		MinimumRate:   s.MinimumRate,
		Currency:      s.Currency,
		Availability:  s.Availability,
	}
}
