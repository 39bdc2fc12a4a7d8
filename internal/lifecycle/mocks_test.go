package lifecycle

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/maauso/clipvault-api/internal/stream"
)

// mockProvider mocks the provider operations used by lifecycle.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateDerivedAsset(ctx context.Context, sourceID string, start, end float64, meta stream.AssetMeta) (string, error) {
	args := m.Called(ctx, sourceID, start, end, meta)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) DeleteAsset(ctx context.Context, assetID string) error {
	args := m.Called(ctx, assetID)
	return args.Error(0)
}
