package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"priorityline/internal/config"
	"priorityline/internal/repo"
)

// Permissions understood by the read and admin surfaces.
const (
	PermPriorityRead   = "priority.read"
	PermPriorityImport = "priority.import"
	PermAPIKeyManage   = "apikey.manage"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ErrUnknownKey is returned when an API key does not match any stored hash.
var ErrUnknownKey = errors.New("unknown api key")

// Principal is an authenticated caller with its effective permissions.
type Principal struct {
	Subject     string
	Roles       []string
	Permissions []string
}

func (p Principal) Can(perm string) bool {
	return slices.Contains(p.Permissions, perm)
}

// Require returns ForbiddenError when p lacks perm.
func (p Principal) Require(perm string) error {
	if !p.Can(perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// Service resolves credentials to principals using configured roles.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// FromClaims merges explicit permissions with those granted by roles.
func (s Service) FromClaims(subject string, roles, perms []string) Principal {
	all := append([]string{}, perms...)
	for _, perm := range s.Config.RolePermissions(roles...) {
		if !slices.Contains(all, perm) {
			all = append(all, perm)
		}
	}
	return Principal{Subject: subject, Roles: roles, Permissions: all}
}

// FromAPIKey looks up a raw key and expands its role.
func (s Service) FromAPIKey(ctx context.Context, raw string) (Principal, error) {
	key, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, ErrUnknownKey
		}
		return Principal{}, err
	}
	subject := key.Name
	if subject == "" {
		subject = "apikey:" + key.ID
	}
	return s.FromClaims(subject, []string{key.Role}, nil), nil
}
