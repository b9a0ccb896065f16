package warehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/crypto"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

const (
	factoryTestKind = models.DataSourceType("memwarehouse")
	testKeyA        = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="
)

// stubIntegration is a no-op integration for registry and factory tests.
type stubIntegration struct {
	params map[string]any
}

func (s *stubIntegration) Type() models.DataSourceType { return factoryTestKind }

func (s *stubIntegration) TestConnection(ctx context.Context) error { return nil }
func (s *stubIntegration) RunQuery(ctx context.Context, sqlQuery string, opts QueryOptions) (*QueryResult, error) {
	return &QueryResult{}, nil
}
func (s *stubIntegration) ListColumns(ctx context.Context, table string) ([]ColumnMetadata, error) {
	return nil, nil
}
func (s *stubIntegration) MergeParams(partial map[string]any) {}

func (s *stubIntegration) Params() map[string]any { return s.params }

func (s *stubIntegration) NonSensitiveParams() map[string]any {
	return RedactParams(s.params, "password")
}

func (s *stubIntegration) DecryptionError() string { return "" }

func (s *stubIntegration) Close() error { return nil }

func registerStub(t *testing.T) {
	t.Helper()
	Register(Registration{
		Info: IntegrationInfo{Type: factoryTestKind, DisplayName: "In-memory warehouse"},
		Factory: func(params map[string]any) (Integration, error) {
			return &stubIntegration{params: params}, nil
		},
	})
}

func newEncryptor(t *testing.T, key string) *crypto.CredentialEncryptor {
	t.Helper()
	encryptor, err := crypto.NewCredentialEncryptor(key)
	require.NoError(t, err)
	return encryptor
}

func TestRegistry(t *testing.T) {
	registerStub(t)

	assert.True(t, IsRegistered(factoryTestKind))
	assert.False(t, IsRegistered(models.DataSourceType("nope")))
	assert.NotNil(t, GetFactory(factoryTestKind))
	assert.Nil(t, GetFactory(models.DataSourceType("nope")))

	var found bool
	for _, info := range RegisteredIntegrations() {
		if info.Type == factoryTestKind {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFactoryFromDataSource(t *testing.T) {
	registerStub(t)
	encryptor := newEncryptor(t, testKeyA)

	ds := &models.DataSource{Type: factoryTestKind}
	encrypted, err := encryptor.EncryptParams(map[string]any{"host": "db.internal", "password": "s3cret"})
	require.NoError(t, err)

	t.Run("builds the registered integration", func(t *testing.T) {
		factory := NewFactory(encryptor)

		integration, err := factory.FromDataSource(ds, encrypted)
		require.NoError(t, err)
		defer integration.Close()

		assert.Equal(t, factoryTestKind, integration.Type())
		assert.Empty(t, integration.DecryptionError())
		assert.Equal(t, "db.internal", integration.Params()["host"])
	})

	t.Run("unknown kind is unsupported", func(t *testing.T) {
		factory := NewFactory(encryptor)

		_, err := factory.FromDataSource(&models.DataSource{Type: "redshift"}, encrypted)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrUnsupported)
	})

	t.Run("wrong key degrades instead of failing", func(t *testing.T) {
		// Params encrypted under key A, factory configured with key B.
		otherKey := "b3RoZXIta2V5LWZvci11bml0LXRlc3RzLTMyLWJ5dGU="
		factory := NewFactory(newEncryptor(t, otherKey))

		integration, err := factory.FromDataSource(ds, encrypted)
		require.NoError(t, err)
		defer integration.Close()

		assert.NotEmpty(t, integration.DecryptionError())
		assert.Empty(t, integration.NonSensitiveParams())

		_, err = integration.RunQuery(context.Background(), "SELECT 1", QueryOptions{})
		assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
		assert.ErrorIs(t, integration.TestConnection(context.Background()), apperrors.ErrCredentialsKeyMismatch)
	})
}

func TestFactoryFromParams(t *testing.T) {
	registerStub(t)
	factory := NewFactory(newEncryptor(t, testKeyA))

	t.Run("builds without touching the encryptor", func(t *testing.T) {
		integration, err := factory.FromParams(factoryTestKind, map[string]any{"host": "db.internal"})
		require.NoError(t, err)
		defer integration.Close()
		assert.Equal(t, "db.internal", integration.Params()["host"])
	})

	t.Run("unknown kind is unsupported", func(t *testing.T) {
		_, err := factory.FromParams("redshift", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrUnsupported)
	})
}

func TestRedactParams(t *testing.T) {
	params := map[string]any{"host": "db.internal", "password": "s3cret", "private_key": "pem"}

	redacted := RedactParams(params, "password", "private_key")
	assert.Equal(t, map[string]any{"host": "db.internal"}, redacted)
	// The original is untouched.
	assert.Contains(t, params, "password")
}
