package storage

import (
	"context"

	"github.com/ruteri/groupshare/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockContentStore implements interfaces.ContentStore for testing.
type MockContentStore struct {
	mock.Mock
}

func (m *MockContentStore) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	args := m.Called(ctx, blob, name)
	return args.Get(0).(interfaces.CID), args.Error(1)
}

func (m *MockContentStore) Retrieve(ctx context.Context, id interfaces.CID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// ValidateCID applies the default CIDv0 check without recording a call.
func (m *MockContentStore) ValidateCID(id interfaces.CID) error {
	return ValidateCID(id, DefaultCIDPrefix)
}

func (m *MockContentStore) Name() string {
	return "mock"
}
