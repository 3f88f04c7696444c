package domain

import (
	"fmt"
	"strings"
	"time"
)

type PassengerType string

const (
	PassengerAdult  PassengerType = "adult"
	PassengerChild  PassengerType = "child"
	PassengerInfant PassengerType = "infant"
)

const birthDateLayout = "2006-01-02"

type DocumentType string

const (
	DocumentPassport   DocumentType = "passport"
	DocumentNationalID DocumentType = "national_id"
)

type Document struct {
	Type           DocumentType `json:"type"`
	Number         string       `json:"number"`
	IssuingCountry string       `json:"issuing_country"`
	ExpiresOn      string       `json:"expires_on"`
}

func (d Document) empty() bool {
	return d.Number == "" && d.Type == "" && d.IssuingCountry == "" && d.ExpiresOn == ""
}

// Passenger is a closed variant keyed by Type. Each type carries its own set
// of required fields, checked by Validate at the boundary.
type Passenger struct {
	Type      PassengerType `json:"type"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	BirthDate string        `json:"birth_date"`
	Gender    string        `json:"gender"`
	Document  Document      `json:"document"`
}

// AgeOn returns the passenger age in whole years on the given date.
func (p Passenger) AgeOn(day time.Time) (int, error) {
	born, err := time.Parse(birthDateLayout, p.BirthDate)
	if err != nil {
		return 0, fmt.Errorf("invalid birth date %q", p.BirthDate)
	}
	age := day.Year() - born.Year()
	if day.Month() < born.Month() || (day.Month() == born.Month() && day.Day() < born.Day()) {
		age--
	}
	return age, nil
}

// Validate checks required fields and that the age on the departure date
// matches the declared passenger type.
func (p Passenger) Validate(departure time.Time) error {
	field := func(name string) string { return fmt.Sprintf("passengers.%s", name) }

	if strings.TrimSpace(p.FirstName) == "" {
		return &ValidationError{Field: field("first_name"), Message: "is required"}
	}
	if strings.TrimSpace(p.LastName) == "" {
		return &ValidationError{Field: field("last_name"), Message: "is required"}
	}
	age, err := p.AgeOn(departure)
	if err != nil {
		return &ValidationError{Field: field("birth_date"), Message: err.Error()}
	}
	if age < 0 {
		return &ValidationError{Field: field("birth_date"), Message: "is after departure"}
	}

	switch p.Type {
	case PassengerAdult:
		if age < 12 {
			return &ValidationError{Field: field("type"), Message: "adult must be at least 12 on departure"}
		}
	case PassengerChild:
		if age < 2 || age >= 12 {
			return &ValidationError{Field: field("type"), Message: "child must be between 2 and 11 on departure"}
		}
	case PassengerInfant:
		if age >= 2 {
			return &ValidationError{Field: field("type"), Message: "infant must be under 2 on departure"}
		}
	default:
		return &ValidationError{Field: field("type"), Message: fmt.Sprintf("unknown passenger type %q", p.Type)}
	}

	// infants travel on the accompanying adult's record unless a document is given
	if p.Type == PassengerInfant && p.Document.empty() {
		return nil
	}
	return p.Document.validate(departure)
}

func (d Document) validate(departure time.Time) error {
	switch d.Type {
	case DocumentPassport, DocumentNationalID:
	default:
		return &ValidationError{Field: "passengers.document.type", Message: "must be passport or national_id"}
	}
	if strings.TrimSpace(d.Number) == "" {
		return &ValidationError{Field: "passengers.document.number", Message: "is required"}
	}
	if len(d.IssuingCountry) != 2 {
		return &ValidationError{Field: "passengers.document.issuing_country", Message: "must be an ISO 3166 alpha-2 code"}
	}
	if d.ExpiresOn != "" {
		expires, err := time.Parse(birthDateLayout, d.ExpiresOn)
		if err != nil {
			return &ValidationError{Field: "passengers.document.expires_on", Message: "must be YYYY-MM-DD"}
		}
		if expires.Before(departure) {
			return &ValidationError{Field: "passengers.document.expires_on", Message: "document expires before departure"}
		}
	}
	return nil
}

// CountByType tallies the passenger list for comparison with declared counts.
func CountByType(passengers []Passenger) (adults, children, infants int) {
	for _, p := range passengers {
		switch p.Type {
		case PassengerAdult:
			adults++
		case PassengerChild:
			children++
		case PassengerInfant:
			infants++
		}
	}
	return adults, children, infants
}
