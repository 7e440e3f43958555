package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toBoolean interprets the loosely typed booleans identity providers send:
// JSON true/false, "true"/"false" in any case, and 1/0 as number or string.
// ok is false for anything else.
func toBoolean(raw json.RawMessage) (result bool, ok bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	switch fv := v.(type) {
	case bool:
		return fv, true
	case float64:
		switch fv {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(fv)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

// UnmarshalJSON accepts a loosely typed active flag. A value that is not
// a boolean is rejected.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	aux := struct {
		*plain
		Active json.RawMessage `json:"active"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Active) == 0 || string(aux.Active) == "null" {
		return nil
	}
	active, ok := toBoolean(aux.Active)
	if !ok {
		return fmt.Errorf("active: %s is not a boolean", aux.Active)
	}
	u.Active = active
	return nil
}

// UnmarshalJSON accepts a loosely typed primary flag. A value that is not
// a boolean leaves the entry non-primary.
func (e *Email) UnmarshalJSON(data []byte) error {
	type plain Email
	aux := struct {
		*plain
		Primary json.RawMessage `json:"primary"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Primary, _ = toBoolean(aux.Primary)
	return nil
}
