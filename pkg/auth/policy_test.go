package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
)

func contextWithRole(role Role) context.Context {
	return WithIdentity(context.Background(), &Identity{
		Organization: uuid.New(),
		UserID:       "test-user",
		Role:         role,
	})
}

func TestRolePolicy(t *testing.T) {
	policy := NewRolePolicy()

	tests := []struct {
		name    string
		check   func(ctx context.Context) error
		allowed []Role
	}{
		{
			name:    "create data source",
			check:   func(ctx context.Context) error { return policy.CanCreateDataSource(ctx, nil) },
			allowed: []Role{RoleAdmin},
		},
		{
			name:    "update settings",
			check:   func(ctx context.Context) error { return policy.CanUpdateDataSourceSettings(ctx, nil) },
			allowed: []Role{RoleAdmin, RoleAnalyst},
		},
		{
			name:    "update connection params",
			check:   func(ctx context.Context) error { return policy.CanUpdateDataSourceParams(ctx, nil) },
			allowed: []Role{RoleAdmin},
		},
		{
			name:    "delete data source",
			check:   func(ctx context.Context) error { return policy.CanDeleteDataSource(ctx, nil) },
			allowed: []Role{RoleAdmin},
		},
		{
			name:    "run queries",
			check:   func(ctx context.Context) error { return policy.CanRunQueries(ctx, nil) },
			allowed: []Role{RoleAdmin, RoleAnalyst},
		},
	}

	roles := []Role{RoleAdmin, RoleAnalyst, RoleReadonly}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, role := range roles {
				err := tt.check(contextWithRole(role))

				var wantAllowed bool
				for _, a := range tt.allowed {
					if a == role {
						wantAllowed = true
					}
				}
				if wantAllowed {
					assert.NoError(t, err, "role %s", role)
				} else {
					assert.ErrorIs(t, err, apperrors.ErrPermissionDenied, "role %s", role)
				}
			}
		})
	}

	t.Run("missing identity is denied", func(t *testing.T) {
		err := policy.CanRunQueries(context.Background(), nil)
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	})
}
