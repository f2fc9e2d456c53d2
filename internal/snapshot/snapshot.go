// Package snapshot defines the canonical, denormalized view of one applicant
// that travels between the aggregator, the materializer, the eligibility
// evaluator and the enrichment service.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	SectionPersonal   = "personal"
	SectionExperience = "experience"
	SectionSalary     = "salary"
)

// ErrInvalidFormat is returned when stored or supplied content cannot be
// parsed into the expected sections.
var ErrInvalidFormat = errors.New("invalid snapshot format")

// Snapshot is the canonical applicant representation. A nil section means the
// section was absent from the parsed input; the aggregator always fills all three.
type Snapshot struct {
	Personal   *Personal    `json:"personal,omitempty"`
	Experience []Experience `json:"experience"`
	Salary     *Salary      `json:"salary,omitempty"`
}

type Personal struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Location string `json:"location"`
	LinkedIn string `json:"linkedin"`
}

// Experience is one work history entry. Start and End are kept as the free
// text found in the store; an empty End means the position is ongoing.
type Experience struct {
	Company      string `json:"company"`
	Title        string `json:"title"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Technologies string `json:"technologies"`
}

type Salary struct {
	PreferredRate float64 `json:"preferred_rate"`
	MinimumRate   float64 `json:"minimum_rate"`
	Currency      string  `json:"currency"`
	Availability  float64 `json:"availability"`
}

// Parse decodes serialized snapshot content. Numeric fields written as strings
// are accepted; sections of the wrong shape are rejected with ErrInvalidFormat.
func Parse(data []byte) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidFormat)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	_, hasPersonal := raw[SectionPersonal]
	_, hasExperience := raw[SectionExperience]
	_, hasSalary := raw[SectionSalary]
	if !hasPersonal && !hasExperience && !hasSalary {
		return nil, fmt.Errorf("%w: none of the %s, %s or %s sections found",
			ErrInvalidFormat, SectionPersonal, SectionExperience, SectionSalary)
	}

	snap := &Snapshot{}

	if v := raw[SectionPersonal]; v != nil {
		snap.Personal = &Personal{}
		if err := decodeSection(SectionPersonal, v, snap.Personal); err != nil {
			return nil, err
		}
	}

	if v := raw[SectionExperience]; v != nil {
		if _, ok := v.([]any); !ok {
			return nil, fmt.Errorf("%w: section %q must be a list", ErrInvalidFormat, SectionExperience)
		}
		if err := decodeSection(SectionExperience, v, &snap.Experience); err != nil {
			return nil, err
		}
	}

	if v := raw[SectionSalary]; v != nil {
		snap.Salary = &Salary{}
		if err := decodeSection(SectionSalary, v, snap.Salary); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// ParseString is Parse for content read from a text field.
func ParseString(s string) (*Snapshot, error) {
	return Parse([]byte(s))
}

func decodeSection(name string, input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return fmt.Errorf("building %s decoder: %w", name, err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: section %q: %v", ErrInvalidFormat, name, err)
	}

	return nil
}

// Canonical returns the compact serialization with object keys sorted at
// every level. Two snapshots with equal field values always produce equal bytes.
func (s *Snapshot) Canonical() ([]byte, error) {
	return s.encode("")
}

// Indented is the canonical form with indentation, used for the stored field.
func (s *Snapshot) Indented() ([]byte, error) {
	return s.encode("  ")
}

// Hash returns the hex sha256 digest of the canonical serialization.
func (s *Snapshot) Hash() (string, error) {
	canonical, err := s.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Snapshot) encode(indent string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("snapshot is nil")
	}

	normalized := *s
	if normalized.Experience == nil {
		normalized.Experience = []Experience{}
	}

	structured, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	// A generic round trip turns every object into a map, which encoding/json
	// writes with sorted keys.
	decoder := json.NewDecoder(bytes.NewReader(structured))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize snapshot: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if indent != "" {
		encoder.SetIndent("", indent)
	}
	if err := encoder.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// IsOngoing reports whether an end date marks a position that has not ended.
func IsOngoing(end string) bool {
	switch strings.ToLower(strings.TrimSpace(end)) {
	case "", "present", "current", "ongoing", "now":
		return true
	default:
		return false
	}
}
