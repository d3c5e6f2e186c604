package auth

import (
	"context"
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingKey       = errors.New("missing api key")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// Mode 控制认证子系统的开关。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// Store abstracts the API key catalogue. Implementations must be safe for
// concurrent use.
type Store interface {
	FindByKey(ctx context.Context, key string) (*Subject, error)
}

// Subject captures the caller identity resolved from an API key and passed
// to request handlers via context.
type Subject struct {
	Name        string
	Roles       []string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			perm = strings.TrimSpace(perm)
			if perm == "" {
				continue
			}
			s.permissionsSet[perm] = struct{}{}
		}
	}
}

// Authorize 校验主体是否持有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrPermissionDenied
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	s.normalise()
	for _, perm := range perms {
		if _, ok := s.permissionsSet[perm]; !ok {
			return ErrPermissionDenied
		}
	}
	return nil
}
