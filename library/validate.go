package library

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultProfilePicture is assigned to every new profile.
const DefaultProfilePicture = "Default1.png"

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)
	namePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z '\-]*$`)
	hasLetter       = regexp.MustCompile(`[A-Za-z]`)
	mobilePattern   = regexp.MustCompile(`^(?:\+44 ?7\d{3}|07\d{3}) ?\d{3} ?\d{3}$`)
	postcodePattern = regexp.MustCompile(`(?i)^[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}$`)
)

// ContactDetails are the editable personal fields of a profile.
type ContactDetails struct {
	FirstName    string
	Surname      string
	MobileNumber string
	Address1     string
	Address2     string
	City         string
	Postcode     string
}

func (d ContactDetails) trimmed() ContactDetails {
	return ContactDetails{
		FirstName:    strings.TrimSpace(d.FirstName),
		Surname:      strings.TrimSpace(d.Surname),
		MobileNumber: strings.TrimSpace(d.MobileNumber),
		Address1:     strings.TrimSpace(d.Address1),
		Address2:     strings.TrimSpace(d.Address2),
		City:         strings.TrimSpace(d.City),
		Postcode:     strings.ToUpper(strings.TrimSpace(d.Postcode)),
	}
}

// Validate checks the rules registration and edits share.
func (d ContactDetails) Validate() error {
	required := []struct{ name, v string }{
		{"first name", d.FirstName},
		{"surname", d.Surname},
		{"mobile number", d.MobileNumber},
		{"address line 1", d.Address1},
		{"city", d.City},
		{"postcode", d.Postcode},
	}
	for _, f := range required {
		if f.v == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidField, f.name)
		}
	}
	for _, f := range []struct{ name, v string }{
		{"first name", d.FirstName}, {"surname", d.Surname}, {"city", d.City},
	} {
		if !namePattern.MatchString(f.v) {
			return fmt.Errorf("%w: %s must be letters only", ErrInvalidField, f.name)
		}
	}
	if !hasLetter.MatchString(d.Address1) {
		return fmt.Errorf("%w: address line 1 must contain letters", ErrInvalidField)
	}
	// Leave Address2 empty for none; the stored N/A marker reads back as empty.
	if strings.EqualFold(d.Address2, notApplicable) {
		return fmt.Errorf("%w: address line 2 %q is reserved, leave it empty instead", ErrInvalidField, d.Address2)
	}
	if d.Address2 != "" && !hasLetter.MatchString(d.Address2) {
		return fmt.Errorf("%w: address line 2 must contain letters", ErrInvalidField)
	}
	if !mobilePattern.MatchString(d.MobileNumber) {
		return fmt.Errorf("%w: %q is not a UK mobile number", ErrInvalidField, d.MobileNumber)
	}
	if !postcodePattern.MatchString(d.Postcode) {
		return fmt.Errorf("%w: %q is not a valid postcode", ErrInvalidField, d.Postcode)
	}
	for _, f := range []string{d.FirstName, d.Surname, d.MobileNumber, d.Address1, d.Address2, d.City, d.Postcode} {
		if strings.ContainsAny(f, ",\r\n") {
			return fmt.Errorf("%w: commas are not allowed", ErrInvalidField)
		}
	}
	return nil
}

func (d ContactDetails) apply(u User) User {
	u.FirstName = d.FirstName
	u.Surname = d.Surname
	u.MobileNumber = d.MobileNumber
	u.Address1 = d.Address1
	u.Address2 = d.Address2
	u.City = d.City
	u.Postcode = d.Postcode
	return u
}

// Details returns the editable fields of u.
func (u User) Details() ContactDetails {
	return ContactDetails{
		FirstName:    u.FirstName,
		Surname:      u.Surname,
		MobileNumber: u.MobileNumber,
		Address1:     u.Address1,
		Address2:     u.Address2,
		City:         u.City,
		Postcode:     u.Postcode,
	}
}

// NewUser is the registration form.
type NewUser struct {
	Username string
	ContactDetails
}

func validUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username %q must be 1-32 letters, digits, '.', '_' or '-'", ErrInvalidField, username)
	}
	return nil
}

// ProfileChanges is an edit form. An empty ProfilePicture keeps the current one.
type ProfileChanges struct {
	ContactDetails
	ProfilePicture string
}
