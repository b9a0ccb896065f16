package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/crypto"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// Factory builds integrations from data source records.
type Factory interface {
	// FromDataSource decrypts the stored params and builds the integration
	// for the record's warehouse kind. If decryption fails the returned
	// integration is degraded: reads (NonSensitiveParams, DecryptionError)
	// work, warehouse calls fail with apperrors.ErrCredentialsKeyMismatch.
	FromDataSource(ds *models.DataSource, encryptedParams string) (Integration, error)

	// FromParams builds an integration from already-decrypted params, for
	// testing a connection before anything is saved.
	FromParams(dsType models.DataSourceType, params map[string]any) (Integration, error)

	// ListTypes returns info for all registered warehouse kinds.
	ListTypes() []IntegrationInfo
}

type registryBackedFactory struct {
	encryptor *crypto.CredentialEncryptor
}

// NewFactory returns a Factory that uses the global registry and the given
// credential encryptor.
func NewFactory(encryptor *crypto.CredentialEncryptor) Factory {
	return &registryBackedFactory{encryptor: encryptor}
}

func (f *registryBackedFactory) FromDataSource(ds *models.DataSource, encryptedParams string) (Integration, error) {
	factory := GetFactory(ds.Type)
	if factory == nil {
		return nil, fmt.Errorf("%w: unknown warehouse kind %q", apperrors.ErrUnsupported, ds.Type)
	}

	params, err := f.encryptor.DecryptParams(encryptedParams)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			// Surface as a field rather than failing the read path entirely.
			return &degradedIntegration{
				dsType: ds.Type,
				reason: apperrors.ErrCredentialsKeyMismatch.Error(),
			}, nil
		}
		return nil, err
	}

	return factory(params)
}

func (f *registryBackedFactory) FromParams(dsType models.DataSourceType, params map[string]any) (Integration, error) {
	factory := GetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: unknown warehouse kind %q", apperrors.ErrUnsupported, dsType)
	}
	return factory(params)
}

func (f *registryBackedFactory) ListTypes() []IntegrationInfo {
	return RegisteredIntegrations()
}

// degradedIntegration stands in for an integration whose stored params could
// not be decrypted. Display paths keep working; warehouse calls fail.
type degradedIntegration struct {
	dsType models.DataSourceType
	reason string
}

func (d *degradedIntegration) Type() models.DataSourceType { return d.dsType }

func (d *degradedIntegration) TestConnection(ctx context.Context) error {
	return apperrors.ErrCredentialsKeyMismatch
}

func (d *degradedIntegration) RunQuery(ctx context.Context, sqlQuery string, opts QueryOptions) (*QueryResult, error) {
	return nil, apperrors.ErrCredentialsKeyMismatch
}

func (d *degradedIntegration) ListColumns(ctx context.Context, table string) ([]ColumnMetadata, error) {
	return nil, apperrors.ErrCredentialsKeyMismatch
}

func (d *degradedIntegration) MergeParams(partial map[string]any) {}

func (d *degradedIntegration) Params() map[string]any { return nil }

func (d *degradedIntegration) NonSensitiveParams() map[string]any { return map[string]any{} }

func (d *degradedIntegration) DecryptionError() string { return d.reason }

func (d *degradedIntegration) Close() error { return nil }

// Ensure degradedIntegration implements Integration at compile time.
var _ Integration = (*degradedIntegration)(nil)
