package ledger

import (
	"context"

	"github.com/ruteri/groupshare/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger implements interfaces.GroupLedger for testing.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) RegisterGroup(ctx context.Context, group string) (*interfaces.Receipt, error) {
	args := m.Called(ctx, group)
	return receiptArg(args, 0), args.Error(1)
}

func (m *MockLedger) AddMember(ctx context.Context, group, user string) (*interfaces.Receipt, error) {
	args := m.Called(ctx, group, user)
	return receiptArg(args, 0), args.Error(1)
}

func (m *MockLedger) RevokeMember(ctx context.Context, group, user string) (*interfaces.Receipt, error) {
	args := m.Called(ctx, group, user)
	return receiptArg(args, 0), args.Error(1)
}

func (m *MockLedger) StoreGroupKey(ctx context.Context, group string, key []byte) (*interfaces.Receipt, error) {
	args := m.Called(ctx, group, key)
	return receiptArg(args, 0), args.Error(1)
}

func (m *MockLedger) GetGroupKey(ctx context.Context, group, user string) (*interfaces.GroupKey, error) {
	args := m.Called(ctx, group, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.GroupKey), args.Error(1)
}

func (m *MockLedger) GetGroupKeyVersion(ctx context.Context, group, user string, version uint64) (*interfaces.GroupKey, error) {
	args := m.Called(ctx, group, user, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.GroupKey), args.Error(1)
}

func (m *MockLedger) IsAuthorized(ctx context.Context, group, user string) (bool, error) {
	args := m.Called(ctx, group, user)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) GroupExists(ctx context.Context, group string) (bool, error) {
	args := m.Called(ctx, group)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) RecordTransaction(ctx context.Context, record interfaces.TransferRecord) (string, error) {
	args := m.Called(ctx, record)
	return args.String(0), args.Error(1)
}

func (m *MockLedger) ListTransactions(ctx context.Context, group, user string) ([]interfaces.TransferRecord, error) {
	args := m.Called(ctx, group, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.TransferRecord), args.Error(1)
}

// MockBackend implements interfaces.LedgerBackend for testing.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Call(ctx context.Context, method string, callArgs interfaces.CallArgs, fee interfaces.Fee) (*interfaces.Receipt, error) {
	args := m.Called(ctx, method, callArgs, fee)
	return receiptArg(args, 0), args.Error(1)
}

func (m *MockBackend) View(ctx context.Context, method string, callArgs interfaces.CallArgs) ([]byte, error) {
	args := m.Called(ctx, method, callArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func receiptArg(args mock.Arguments, i int) *interfaces.Receipt {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(*interfaces.Receipt)
}
