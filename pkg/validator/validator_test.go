package validator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	FirstName   string `json:"firstName" validate:"required,max=10"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	AccountType string `json:"accountType" validate:"required,oneof=individual organization"`
	Internal    string `json:"-" validate:"max=1"`
	Untagged    string `validate:"max=1"`
}

func valid() signup {
	return signup{FirstName: "Ana", Email: "ana@acme.io", Password: "s3cret-pass", AccountType: "individual"}
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(valid()))
}

func TestValidate_ReportsJSONNames(t *testing.T) {
	s := valid()
	s.FirstName = ""
	s.Email = "not-an-email"
	s.Password = "short"
	s.AccountType = "team"
	s.Untagged = "xx"

	fields := fieldsOf(t, Validate(s))
	assert.Equal(t, map[string]string{
		"firstName":   "is required",
		"email":       "must be a valid email address",
		"password":    "must be at least 8 characters",
		"accountType": "must be one of: individual, organization",
		"Untagged":    "must be at most 1 characters",
	}, fields)
}

func TestValidate_MaxLength(t *testing.T) {
	s := valid()
	s.FirstName = "Maximiliana"
	assert.Equal(t, "must be at most 10 characters", fieldsOf(t, Validate(s))["firstName"])
}

func TestValidate_UnknownTagMessage(t *testing.T) {
	type token struct {
		Value string `json:"value" validate:"uuid"`
	}
	assert.Equal(t, "failed the uuid check", fieldsOf(t, Validate(token{Value: "x"}))["value"])
}

func TestValidationError_ErrorIsSorted(t *testing.T) {
	err := Validate(signup{AccountType: "individual"})
	require.Error(t, err)
	assert.Equal(t, "email is required; firstName is required; password is required", err.Error())
}

func TestValidate_NonStruct(t *testing.T) {
	err := Validate("not a struct")
	require.Error(t, err)
	var valErr *ValidationError
	assert.False(t, errors.As(err, &valErr))
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		invalid bool
	}{
		{"ok", `{"firstName":"Ana","email":"ana@acme.io","password":"s3cret-pass","accountType":"organization"}`, "", false},
		{"malformed", `{"firstName":`, "decode request body", false},
		{"trailing data", `{"firstName":"Ana"} {"again":true}`, "unexpected data", false},
		{"empty", ``, "decode request body", false},
		{"invalid", `{"firstName":"Ana","email":"nope","password":"s3cret-pass","accountType":"individual"}`, "email must be", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(tt.body))
			var dst signup
			err := DecodeAndValidate(req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "organization", dst.AccountType)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var valErr *ValidationError
			assert.Equal(t, tt.invalid, errors.As(err, &valErr))
		})
	}
}
