package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
)

// Account types accepted at signup.
const (
	AccountTypeIndividual   = "individual"
	AccountTypeOrganization = "organization"
)

// User is the canonical signed-in identity. It is only ever produced by
// RawUser.Normalize, so ID is always set and OrganizationID is a bare id.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	Role           string `json:"role,omitempty"`
	AccountType    string `json:"accountType,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// FullName joins first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// RawUser is the user record as the backend sends it. Different endpoints
// use "id" or "_id", and "organization" may be an id string or an embedded
// object.
type RawUser struct {
	ID             flexibleID      `json:"id"`
	MongoID        flexibleID      `json:"_id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"firstName"`
	LastName       string          `json:"lastName"`
	PhoneNumber    string          `json:"phoneNumber"`
	Role           string          `json:"role"`
	AccountType    string          `json:"accountType"`
	Organization   json.RawMessage `json:"organization"`
	OrganizationID flexibleID      `json:"organizationId"`
}

// Normalize converts the backend shape into a User with exactly one
// canonical id. A record without any id, or with conflicting "id" and
// "_id" values, is rejected.
func (r RawUser) Normalize() (User, error) {
	id, mongoID := string(r.ID), string(r.MongoID)
	switch {
	case id == "" && mongoID == "":
		return User{}, apperrors.InvalidInput("user record has no id")
	case id != "" && mongoID != "" && id != mongoID:
		return User{}, apperrors.InvalidInput(fmt.Sprintf("user record has conflicting ids %q and %q", id, mongoID))
	case id == "":
		id = mongoID
	}

	orgID, err := organizationID(r.Organization)
	if err != nil {
		return User{}, err
	}
	if orgID == "" {
		orgID = string(r.OrganizationID)
	}

	return User{
		ID:             id,
		Email:          strings.TrimSpace(r.Email),
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		PhoneNumber:    r.PhoneNumber,
		Role:           r.Role,
		AccountType:    r.AccountType,
		OrganizationID: orgID,
	}, nil
}

// NormalizeUser decodes and normalizes a raw user JSON document.
func NormalizeUser(data []byte) (User, error) {
	var raw RawUser
	if err := json.Unmarshal(data, &raw); err != nil {
		return User{}, apperrors.InvalidInput("decode user: " + err.Error())
	}
	return raw.Normalize()
}

// organizationID accepts null, "org-1", 17, or {"_id": "org-1", ...}.
func organizationID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}

	if data[0] == '{' {
		var embedded struct {
			ID      flexibleID `json:"id"`
			MongoID flexibleID `json:"_id"`
		}
		if err := json.Unmarshal(data, &embedded); err != nil {
			return "", apperrors.InvalidInput("decode organization: " + err.Error())
		}
		if embedded.ID != "" {
			return string(embedded.ID), nil
		}
		return string(embedded.MongoID), nil
	}

	var id flexibleID
	if err := json.Unmarshal(data, &id); err != nil {
		return "", apperrors.InvalidInput("decode organization: " + err.Error())
	}
	return string(id), nil
}

// flexibleID decodes a JSON string or number into its string form.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}
