package domain

import "strings"

// SignupInput is what a caller collects on the signup form.
type SignupInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	PhoneNumber string
	AccountType string
	Company     string
}

// SignupPayload is the wire body for POST /auth/signup. Optional fields are
// omitted when empty.
type SignupPayload struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	AccountType string `json:"accountType"`
	Company     string `json:"company,omitempty"`
}

// NormalizeSignup trims the input, defaults the account type to individual
// and forwards Company only for organization accounts. The password is sent
// as typed.
func NormalizeSignup(in SignupInput) SignupPayload {
	accountType := strings.ToLower(strings.TrimSpace(in.AccountType))
	if accountType == "" {
		accountType = AccountTypeIndividual
	}

	p := SignupPayload{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       strings.TrimSpace(in.Email),
		Password:    in.Password,
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		AccountType: accountType,
	}
	if accountType == AccountTypeOrganization {
		p.Company = strings.TrimSpace(in.Company)
	}
	return p
}
