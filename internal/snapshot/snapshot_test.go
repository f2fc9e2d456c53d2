package snapshot

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	snap, err := ParseString(`{
		"salary": {"preferred_rate": "90", "minimum_rate": 80, "currency": "USD", "availability": 25},
		"personal": {"name": "Ada Lovelace", "email": "ada@example.com", "location": "London, UK", "linkedin": ""},
		"experience": [
			{"company": "Google LLC", "title": "SWE", "start": "2019-01-01", "end": "present", "technologies": "Go"},
			{"company": "Acme", "title": "Dev", "start": "2016-05-01", "end": "2018-12-31", "technologies": ""}
		]
	}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.Personal == nil || snap.Personal.Location != "London, UK" {
		t.Fatalf("unexpected personal section: %+v", snap.Personal)
	}

	if len(snap.Experience) != 2 || snap.Experience[0].Company != "Google LLC" || snap.Experience[1].Start != "2016-05-01" {
		t.Fatalf("unexpected experience section: %+v", snap.Experience)
	}

	if snap.Salary == nil || snap.Salary.PreferredRate != 90 || snap.Salary.Availability != 25 {
		t.Fatalf("unexpected salary section: %+v", snap.Salary)
	}
}

func TestParseMissingSectionsStayNil(t *testing.T) {
	snap, err := ParseString(`{"personal": {"name": "Only Personal"}, "salary": null}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.Salary != nil {
		t.Fatalf("expected nil salary, got %+v", snap.Salary)
	}

	if snap.Experience != nil {
		t.Fatalf("expected nil experience, got %+v", snap.Experience)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: "   "},
		{name: "not json", input: "Summary: nope"},
		{name: "array", input: `[1, 2]`},
		{name: "no known sections", input: `{"foo": 1}`},
		{name: "experience not a list", input: `{"experience": {"company": "Acme"}}`},
		{name: "personal not an object", input: `{"personal": "Ada"}`},
		{name: "salary rate not numeric", input: `{"salary": {"preferred_rate": "ninety"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.input)
			if !errors.Is(err, ErrInvalidFormat) {
				t.Fatalf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a, err := ParseString(`{"personal": {"name": "Ada", "email": "a@x.io", "location": "USA", "linkedin": ""},
		"experience": [{"company": "Acme", "title": "Dev", "start": "2020-01-01", "end": "", "technologies": "Go"}],
		"salary": {"preferred_rate": 90, "minimum_rate": 80, "currency": "USD", "availability": 25}}`)
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}

	b, err := ParseString(`{"salary": {"availability": 25, "currency": "USD", "minimum_rate": 80, "preferred_rate": 90.0},
		"experience": [{"technologies": "Go", "end": "", "start": "2020-01-01", "title": "Dev", "company": "Acme"}],
		"personal": {"linkedin": "", "location": "USA", "email": "a@x.io", "name": "Ada"}}`)
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}

	hashA, err := a.Hash()
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}

	if hashA != hashB {
		t.Fatalf("expected equal hashes, got %s and %s", hashA, hashB)
	}

	b.Salary.PreferredRate = 95
	hashC, err := b.Hash()
	if err != nil {
		t.Fatalf("hash c: %v", err)
	}
	if hashC == hashA {
		t.Fatalf("expected hash to change with content")
	}
}

func TestCanonicalSortsKeys(t *testing.T) {
	snap := &Snapshot{
		Personal: &Personal{Name: "Ada & Co"},
		Salary:   &Salary{PreferredRate: 90, Currency: "USD"},
	}

	canonical, err := snap.Canonical()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"experience":[],"personal":{"email":"","linkedin":"","location":"","name":"Ada & Co"},` +
		`"salary":{"availability":0,"currency":"USD","minimum_rate":0,"preferred_rate":90}}`
	if string(canonical) != expected {
		t.Fatalf("unexpected canonical form:\n%s\nwant:\n%s", canonical, expected)
	}

	indented, err := snap.Indented()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(indented), "{\n  \"experience\": []") {
		t.Fatalf("unexpected indented form:\n%s", indented)
	}

	roundTrip, err := Parse(indented)
	if err != nil {
		t.Fatalf("parse indented: %v", err)
	}
	again, _ := roundTrip.Canonical()
	if string(again) != expected {
		t.Fatalf("round trip changed canonical form:\n%s", again)
	}
}

func TestIsOngoing(t *testing.T) {
	for _, end := range []string{"", " ", "Present", "CURRENT", "ongoing", "Now"} {
		if !IsOngoing(end) {
			t.Fatalf("expected %q to be ongoing", end)
		}
	}
	for _, end := range []string{"2020-01-01", "never"} {
		if IsOngoing(end) {
			t.Fatalf("expected %q to be a fixed end", end)
		}
	}
}
