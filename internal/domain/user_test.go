package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
)

// ============================================================================
// Canonical id
// ============================================================================

func TestNormalizeUser_PlainID(t *testing.T) {
	u, err := NormalizeUser([]byte(`{"id":"usr-1","email":" agent@estatedesk.io ","firstName":"Ana","lastName":"Silva"}`))
	require.NoError(t, err)
	assert.Equal(t, "usr-1", u.ID)
	assert.Equal(t, "agent@estatedesk.io", u.Email)
	assert.Equal(t, "Ana Silva", u.FullName())
}

func TestNormalizeUser_MongoID(t *testing.T) {
	u, err := NormalizeUser([]byte(`{"_id":"65f0c0ffee","email":"a@b.io"}`))
	require.NoError(t, err)
	assert.Equal(t, "65f0c0ffee", u.ID)
}

func TestNormalizeUser_BothIDsAgree(t *testing.T) {
	u, err := NormalizeUser([]byte(`{"id":"65f0","_id":"65f0"}`))
	require.NoError(t, err)
	assert.Equal(t, "65f0", u.ID)
}

func TestNormalizeUser_ConflictingIDs(t *testing.T) {
	_, err := NormalizeUser([]byte(`{"id":"a","_id":"b"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), "conflicting ids")
}

func TestNormalizeUser_NoID(t *testing.T) {
	_, err := NormalizeUser([]byte(`{"email":"a@b.io"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestNormalizeUser_NumericID(t *testing.T) {
	u, err := NormalizeUser([]byte(`{"id":1042}`))
	require.NoError(t, err)
	assert.Equal(t, "1042", u.ID)
}

func TestNormalizeUser_InvalidIDType(t *testing.T) {
	_, err := NormalizeUser([]byte(`{"id":true}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// ============================================================================
// Organization reference
// ============================================================================

func TestNormalizeUser_Organization(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"string", `{"id":"u","organization":"org-7"}`, "org-7"},
		{"embedded id", `{"id":"u","organization":{"id":"org-7","name":"Acme Realty"}}`, "org-7"},
		{"embedded _id", `{"id":"u","organization":{"_id":"org-7","name":"Acme Realty"}}`, "org-7"},
		{"null", `{"id":"u","organization":null}`, ""},
		{"absent", `{"id":"u"}`, ""},
		{"flat organizationId", `{"id":"u","organizationId":"org-9"}`, "org-9"},
		{"numeric", `{"id":"u","organization":77}`, "77"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NormalizeUser([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.OrganizationID)
		})
	}
}

func TestNormalizeUser_OrganizationWrongShape(t *testing.T) {
	_, err := NormalizeUser([]byte(`{"id":"u","organization":["org-1"]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestNormalizeUser_MalformedJSON(t *testing.T) {
	_, err := NormalizeUser([]byte(`{"id":`))
	assert.Error(t, err)
}
