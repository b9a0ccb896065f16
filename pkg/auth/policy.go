package auth

import (
	"context"
	"fmt"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
)

// Policy answers permission questions for data source operations. Services
// consult it before any side effect; a denial is returned as
// apperrors.ErrPermissionDenied before validation or DDL runs.
type Policy interface {
	CanCreateDataSource(ctx context.Context, projects []string) error
	CanUpdateDataSourceSettings(ctx context.Context, projects []string) error
	CanUpdateDataSourceParams(ctx context.Context, projects []string) error
	CanDeleteDataSource(ctx context.Context, projects []string) error
	CanRunQueries(ctx context.Context, projects []string) error
}

// rolePolicy is the default Policy implementation: admins do everything,
// analysts query and edit settings, readonly callers do neither.
type rolePolicy struct{}

// NewRolePolicy creates the default role-based policy.
func NewRolePolicy() Policy {
	return &rolePolicy{}
}

func (p *rolePolicy) require(ctx context.Context, action string, allowed ...Role) error {
	id, err := ExtractIdentity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, err.Error())
	}
	for _, role := range allowed {
		if id.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not %s", apperrors.ErrPermissionDenied, id.Role, action)
}

func (p *rolePolicy) CanCreateDataSource(ctx context.Context, projects []string) error {
	return p.require(ctx, "create data sources", RoleAdmin)
}

func (p *rolePolicy) CanUpdateDataSourceSettings(ctx context.Context, projects []string) error {
	return p.require(ctx, "update data source settings", RoleAdmin, RoleAnalyst)
}

func (p *rolePolicy) CanUpdateDataSourceParams(ctx context.Context, projects []string) error {
	return p.require(ctx, "update data source connection params", RoleAdmin)
}

func (p *rolePolicy) CanDeleteDataSource(ctx context.Context, projects []string) error {
	return p.require(ctx, "delete data sources", RoleAdmin)
}

func (p *rolePolicy) CanRunQueries(ctx context.Context, projects []string) error {
	return p.require(ctx, "run queries", RoleAdmin, RoleAnalyst)
}

// Ensure rolePolicy implements Policy at compile time.
var _ Policy = (*rolePolicy)(nil)
