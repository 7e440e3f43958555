package models

import "strings"

// Email is one entry of a SCIM user's emails attribute.
// It is stored as part of an opaque JSON document, so unknown
// presentation fields (type, display) survive a round trip.
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// PrimaryEmail returns the value of the first entry flagged primary,
// falling back to the first entry. ok is false for an empty list.
func PrimaryEmail(emails []Email) (address string, ok bool) {
	if len(emails) == 0 {
		return "", false
	}
	for _, e := range emails {
		if e.Primary {
			return e.Value, true
		}
	}
	return emails[0].Value, true
}

// SplitAddress splits an email address into local part and domain at the
// last '@'. Both parts must be non-empty.
func SplitAddress(address string) (localPart, domain string, ok bool) {
	i := strings.LastIndex(address, "@")
	if i <= 0 || i == len(address)-1 {
		return "", "", false
	}
	return address[:i], address[i+1:], true
}
