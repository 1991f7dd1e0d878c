package service_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/auth/service"
	"github.com/mcpauth/obo-core/pkg/auth/token"
)

type stubValidator struct {
	result *token.Result
	err    error
}

func (s *stubValidator) Validate(context.Context, string) (*token.Result, error) {
	return s.result, s.err
}

type stubResolver struct {
	idp *auth.TrustedIDP
}

func (r *stubResolver) ByIssuer(issuer string) (*auth.TrustedIDP, bool) {
	if r.idp == nil || r.idp.Issuer != issuer {
		return nil, false
	}
	return r.idp, true
}

func TestAuthenticate_HappyPath(t *testing.T) {
	t.Parallel()

	idp := &auth.TrustedIDP{
		Issuer:       "https://idp.example.com/",
		RoleMappings: auth.RoleMappings{Admin: []string{"platform-admin"}},
	}
	validator := &stubValidator{result: &token.Result{
		Issuer: idp.Issuer,
		Payload: jwt.MapClaims{
			"sub":   "u1",
			"iss":   idp.Issuer,
			"roles": []any{"platform-admin"},
		},
	}}

	svc, err := service.New(validator, &stubResolver{idp: idp}, audit.New(10, nil))
	require.NoError(t, err)

	sess, err := svc.Authenticate(context.Background(), "raw.jwt")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, auth.RoleAdmin, sess.Role)
	assert.False(t, sess.Rejected)
}

func TestAuthenticate_ValidationErrorPropagates(t *testing.T) {
	t.Parallel()

	validator := &stubValidator{err: auth.NewError(auth.CodeExpired, "expired", nil)}
	svc, err := service.New(validator, &stubResolver{}, nil)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "raw.jwt")
	require.Error(t, err)
	authErr, ok := auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.CodeExpired, authErr.Code)
}

func TestAuthenticate_UnknownIssuerConfig(t *testing.T) {
	t.Parallel()

	validator := &stubValidator{result: &token.Result{
		Issuer:  "https://idp.example.com/",
		Payload: jwt.MapClaims{"sub": "u1", "iss": "https://idp.example.com/"},
	}}
	svc, err := service.New(validator, &stubResolver{}, nil)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "raw.jwt")
	require.Error(t, err)
	authErr, ok := auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.CodeUnknownIssuer, authErr.Code)
}

func TestAuthenticate_RejectedRoleMappingReturnsAuthnRejected(t *testing.T) {
	t.Parallel()

	idp := &auth.TrustedIDP{
		Issuer: "https://idp.example.com/",
		RoleMappings: auth.RoleMappings{
			Admin:               []string{"platform-admin"},
			RejectUnmappedRoles: true,
		},
	}
	validator := &stubValidator{result: &token.Result{
		Issuer: idp.Issuer,
		Payload: jwt.MapClaims{
			"sub":   "u1",
			"iss":   idp.Issuer,
			"roles": []any{"some-other-role"},
		},
	}}

	svc, err := service.New(validator, &stubResolver{idp: idp}, audit.New(10, nil))
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "raw.jwt")
	require.Error(t, err)
	authErr, ok := auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.CodeAuthnRejected, authErr.Code)
}

func TestAuthenticate_NilValidatorRejected(t *testing.T) {
	t.Parallel()

	_, err := service.New(nil, &stubResolver{}, nil)
	require.ErrorIs(t, err, service.ErrNoValidator)
}
