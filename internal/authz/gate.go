// Package authz is the capability check consulted by every datasource/task
// operation: a predicate over (principal, action, resource type, resource).
package authz

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

// ResourceLister exposes the currently enabled resource names of one type,
// used to expand wildcard grants at query time so a wildcard dynamically
// tracks newly created resources.
type ResourceLister interface {
	ListEnabled(ctx context.Context, resourceType models.ResourceType) ([]string, error)
}

type Gate struct {
	grants    repository.GrantRepository
	resources ResourceLister
	secret    []byte
	logger    zerolog.Logger
}

func NewGate(grants repository.GrantRepository, resources ResourceLister, secret []byte, logger zerolog.Logger) *Gate {
	return &Gate{
		grants:    grants,
		resources: resources,
		secret:    secret,
		logger:    logger.With().Str("component", "authz").Logger(),
	}
}

// Authorized resolves the principal behind token and checks it may perform
// action on the named resource. resource may be empty for collection-level
// actions (list, create).
func (g *Gate) Authorized(ctx context.Context, token string, action models.Action, resourceType models.ResourceType, resource string) (*models.Principal, error) {
	principal, err := g.principal(token)
	if err != nil {
		return nil, err
	}
	if principal.Root {
		return principal, nil
	}

	grants, err := g.grants.ListForSubjects(g.subjects(principal), action)
	if err != nil {
		return nil, err
	}
	for _, grant := range grants {
		if grantMatches(grant.Resource, resourceType, resource) {
			return principal, nil
		}
	}
	return nil, apperr.Permission("%s may not %s %s/%s", principal.Subject, action, resourceType, resource)
}

// AuthorizedResources returns the resource names of resourceType the
// principal may perform action on. Root receives the full enabled set;
// wildcard grants expand against the enabled set at query time.
func (g *Gate) AuthorizedResources(ctx context.Context, token string, action models.Action, resourceType models.ResourceType) ([]string, error) {
	principal, err := g.principal(token)
	if err != nil {
		return nil, err
	}
	if principal.Root {
		return g.resources.ListEnabled(ctx, resourceType)
	}

	grants, err := g.grants.ListForSubjects(g.subjects(principal), action)
	if err != nil {
		return nil, err
	}

	named := map[string]bool{}
	wildcard := false
	for _, grant := range grants {
		gType, gName, ok := splitResource(grant.Resource)
		if !ok {
			continue
		}
		if gType != "*" && gType != string(resourceType) {
			continue
		}
		if gName == "*" {
			wildcard = true
			continue
		}
		named[gName] = true
	}

	if wildcard {
		return g.resources.ListEnabled(ctx, resourceType)
	}
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	return names, nil
}

// RequireRoot resolves the principal and rejects anyone without the root
// claim. Grant administration is root-only.
func (g *Gate) RequireRoot(ctx context.Context, token string) (*models.Principal, error) {
	principal, err := g.principal(token)
	if err != nil {
		return nil, err
	}
	if !principal.Root {
		return nil, apperr.Permission("%s may not administer grants", principal.Subject)
	}
	return principal, nil
}

func (g *Gate) subjects(principal *models.Principal) []string {
	return append([]string{principal.Subject}, principal.Roles...)
}

func (g *Gate) principal(token string) (*models.Principal, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing bearer token")
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Unauthorized("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperr.Unauthorized("invalid token")
	}

	principal := &models.Principal{}
	principal.Subject, _ = claims["sub"].(string)
	principal.Root, _ = claims["root"].(bool)
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if name, ok := r.(string); ok {
				principal.Roles = append(principal.Roles, name)
			}
		}
	}
	if principal.Subject == "" {
		return nil, apperr.Unauthorized("token missing subject")
	}
	return principal, nil
}

// grantMatches reports whether a grant resource such as "datasources/docs01",
// "datasources/*" or "*" covers the requested resource.
func grantMatches(grantResource string, resourceType models.ResourceType, resource string) bool {
	if grantResource == "*" {
		return true
	}
	gType, gName, ok := splitResource(grantResource)
	if !ok {
		return false
	}
	if gType != "*" && gType != string(resourceType) {
		return false
	}
	return gName == "*" || resource == "" || gName == resource
}

func splitResource(value string) (resourceType, name string, ok bool) {
	if value == "*" {
		return "*", "*", true
	}
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
