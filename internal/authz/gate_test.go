package authz

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

var testSecret = []byte("test-signing-secret")

type fakeGrants struct {
	grants []models.RoleGrant
}

func (f *fakeGrants) ListForSubjects(subjects []string, action models.Action) ([]models.RoleGrant, error) {
	allowed := map[string]bool{}
	for _, s := range subjects {
		allowed[s] = true
	}
	var out []models.RoleGrant
	for _, grant := range f.grants {
		if allowed[grant.Subject] && grant.Action == action {
			out = append(out, grant)
		}
	}
	return out, nil
}

func (f *fakeGrants) Create(grant models.RoleGrant) (models.RoleGrant, error) {
	f.grants = append(f.grants, grant)
	return grant, nil
}

func (f *fakeGrants) Delete(id string) error { return nil }

type fakeLister struct {
	enabled map[models.ResourceType][]string
}

func (f *fakeLister) ListEnabled(ctx context.Context, resourceType models.ResourceType) ([]string, error) {
	return f.enabled[resourceType], nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func testGate(grants *fakeGrants, lister *fakeLister) *Gate {
	if lister == nil {
		lister = &fakeLister{enabled: map[models.ResourceType][]string{}}
	}
	return NewGate(grants, lister, testSecret, zerolog.Nop())
}

func TestAuthorizedRejectsMissingToken(t *testing.T) {
	gate := testGate(&fakeGrants{}, nil)
	_, err := gate.Authorized(context.Background(), "", models.ActionRead, models.ResourceDatasources, "docs01")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAuthorizedRejectsBadSignature(t *testing.T) {
	gate := testGate(&fakeGrants{}, nil)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "eve"}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, authErr := gate.Authorized(context.Background(), forged, models.ActionRead, models.ResourceDatasources, "docs01")
	assert.True(t, apperr.IsUnauthorized(authErr))
}

func TestAuthorizedRootBypassesGrants(t *testing.T) {
	gate := testGate(&fakeGrants{}, nil)
	token := signToken(t, jwt.MapClaims{"sub": "admin", "root": true})

	principal, err := gate.Authorized(context.Background(), token, models.ActionDelete, models.ResourceDatasources, "docs01")
	require.NoError(t, err)
	assert.True(t, principal.Root)
}

func TestAuthorizedNamedGrant(t *testing.T) {
	grants := &fakeGrants{grants: []models.RoleGrant{
		{Subject: "alice", Action: models.ActionRead, Resource: "datasources/docs01"},
	}}
	gate := testGate(grants, nil)
	token := signToken(t, jwt.MapClaims{"sub": "alice"})

	_, err := gate.Authorized(context.Background(), token, models.ActionRead, models.ResourceDatasources, "docs01")
	assert.NoError(t, err)

	_, err = gate.Authorized(context.Background(), token, models.ActionRead, models.ResourceDatasources, "docs02")
	assert.True(t, apperr.IsPermission(err))

	_, err = gate.Authorized(context.Background(), token, models.ActionDelete, models.ResourceDatasources, "docs01")
	assert.True(t, apperr.IsPermission(err), "a read grant must not imply delete")
}

func TestAuthorizedThroughRole(t *testing.T) {
	grants := &fakeGrants{grants: []models.RoleGrant{
		{Subject: "readers", Action: models.ActionRead, Resource: "datasources/*"},
	}}
	gate := testGate(grants, nil)
	token := signToken(t, jwt.MapClaims{"sub": "bob", "roles": []string{"readers"}})

	_, err := gate.Authorized(context.Background(), token, models.ActionRead, models.ResourceDatasources, "docs07")
	assert.NoError(t, err)
}

func TestAuthorizedResourcesWildcardExpandsAtQueryTime(t *testing.T) {
	grants := &fakeGrants{grants: []models.RoleGrant{
		{Subject: "alice", Action: models.ActionRead, Resource: "datasources/*"},
	}}
	lister := &fakeLister{enabled: map[models.ResourceType][]string{
		models.ResourceDatasources: {"docs01", "docs02"},
	}}
	gate := testGate(grants, lister)
	token := signToken(t, jwt.MapClaims{"sub": "alice"})

	names, err := gate.AuthorizedResources(context.Background(), token, models.ActionRead, models.ResourceDatasources)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs01", "docs02"}, names)

	// A datasource created after the grant is covered on the next query.
	lister.enabled[models.ResourceDatasources] = append(lister.enabled[models.ResourceDatasources], "docs03")
	names, err = gate.AuthorizedResources(context.Background(), token, models.ActionRead, models.ResourceDatasources)
	require.NoError(t, err)
	assert.Contains(t, names, "docs03")
}

func TestAuthorizedResourcesNamedOnly(t *testing.T) {
	grants := &fakeGrants{grants: []models.RoleGrant{
		{Subject: "alice", Action: models.ActionRead, Resource: "datasources/docs01"},
		{Subject: "alice", Action: models.ActionRead, Resource: "tasks/t1"},
	}}
	gate := testGate(grants, nil)
	token := signToken(t, jwt.MapClaims{"sub": "alice"})

	names, err := gate.AuthorizedResources(context.Background(), token, models.ActionRead, models.ResourceDatasources)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs01"}, names)
}

func TestRequireRoot(t *testing.T) {
	gate := testGate(&fakeGrants{}, nil)

	_, err := gate.RequireRoot(context.Background(), signToken(t, jwt.MapClaims{"sub": "admin", "root": true}))
	assert.NoError(t, err)

	_, err = gate.RequireRoot(context.Background(), signToken(t, jwt.MapClaims{"sub": "alice"}))
	assert.True(t, apperr.IsPermission(err))

	_, err = gate.RequireRoot(context.Background(), "")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestGrantMatches(t *testing.T) {
	cases := []struct {
		grant    string
		resource string
		want     bool
	}{
		{"*", "docs01", true},
		{"datasources/*", "docs01", true},
		{"datasources/docs01", "docs01", true},
		{"datasources/docs01", "docs02", false},
		{"tasks/*", "docs01", false},
		{"datasources", "docs01", false},
		{"datasources/docs01", "", true},
	}
	for _, tc := range cases {
		got := grantMatches(tc.grant, models.ResourceDatasources, tc.resource)
		assert.Equal(t, tc.want, got, "grant %q resource %q", tc.grant, tc.resource)
	}
}
