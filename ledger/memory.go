package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ruteri/groupshare/interfaces"
)

type memoryGroup struct {
	owner   string
	members []string
	// keys holds every key the group has had; version n is keys[n-1].
	keys []string
}

type memoryState struct {
	mutex        sync.RWMutex
	owner        string
	groups       map[string]*memoryGroup
	transactions []interfaces.TransferRecord
	minDeposit   *big.Int
	block        uint64
}

// MemoryBackend is an in-process implementation of the GroupRegistry contract.
// It applies the same authorization rules and failure reasons as the deployed
// contract and is used for development and tests. Handles returned by
// WithSigner share state.
type MemoryBackend struct {
	state  *memoryState
	signer string
}

// NewMemoryBackend creates an empty ledger owned by owner, who is also the
// signer of the returned handle.
func NewMemoryBackend(owner string) *MemoryBackend {
	return &MemoryBackend{
		state: &memoryState{
			owner:  owner,
			groups: make(map[string]*memoryGroup),
		},
		signer: owner,
	}
}

// WithSigner returns a handle on the same ledger that signs calls as signer.
func (m *MemoryBackend) WithSigner(signer string) *MemoryBackend {
	return &MemoryBackend{state: m.state, signer: signer}
}

// SetMinDeposit makes every Call with a smaller deposit fail.
func (m *MemoryBackend) SetMinDeposit(min *big.Int) {
	m.state.mutex.Lock()
	defer m.state.mutex.Unlock()
	m.state.minDeposit = min
}

// Call applies a state-changing method.
func (m *MemoryBackend) Call(ctx context.Context, method string, args interfaces.CallArgs, fee interfaces.Fee) (*interfaces.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
	}

	s := m.state
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.minDeposit != nil && (fee.Deposit == nil || fee.Deposit.Cmp(s.minDeposit) < 0) {
		return failed(interfaces.ReasonInsufficientDeposit), nil
	}

	var (
		result json.RawMessage
		reason string
	)

	switch method {
	case interfaces.MethodRegisterGroup:
		reason = s.registerGroup(m.signer, args.GroupID)
	case interfaces.MethodAddGroupMember:
		reason = s.addMember(m.signer, args.GroupID, args.UserID)
	case interfaces.MethodRevokeGroupMember:
		reason = s.revokeMember(m.signer, args.GroupID, args.UserID)
	case interfaces.MethodStoreGroupKey:
		reason = s.storeKey(m.signer, args.GroupID, args.Key)
	case interfaces.MethodRecordTransaction:
		result, reason = s.recordTransaction(m.signer, args)
	default:
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Reason: "unknown state-changing method"}
	}

	if reason != "" {
		return failed(reason), nil
	}

	s.block++
	return &interfaces.Receipt{
		Status: interfaces.ReceiptSuccess,
		TxHash: txHash(method, s.block),
		Block:  s.block,
		Result: result,
	}, nil
}

// View answers a read-only method.
func (m *MemoryBackend) View(ctx context.Context, method string, args interfaces.CallArgs) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
	}

	s := m.state
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var (
		out    interface{}
		reason string
	)

	switch method {
	case interfaces.MethodGroupExists:
		_, exists := s.groups[args.GroupID]
		out = exists
	case interfaces.MethodIsAuthorized:
		out, reason = s.isAuthorized(args.GroupID, args.UserID)
	case interfaces.MethodGetGroupKey:
		out, reason = s.groupKey(args.GroupID, args.UserID, 0)
	case interfaces.MethodGetGroupKeyVersion:
		if args.KeyVersion == 0 {
			reason = interfaces.ReasonUnknownKeyVersion
			break
		}
		out, reason = s.groupKey(args.GroupID, args.UserID, args.KeyVersion)
	case interfaces.MethodGetTransactionsForGroup:
		out, reason = s.transactionsFor(args.GroupID, args.UserID)
	default:
		reason = "unknown method"
	}

	if reason != "" {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Reason: reason}
	}
	return json.Marshal(out)
}

func (s *memoryState) registerGroup(signer, group string) string {
	if _, ok := s.groups[group]; ok {
		return interfaces.ReasonGroupExists
	}
	if signer != s.owner {
		return interfaces.ReasonOnlyOwner
	}
	s.groups[group] = &memoryGroup{owner: signer}
	return ""
}

func (s *memoryState) ownedGroup(signer, group string) (*memoryGroup, string) {
	g, ok := s.groups[group]
	if !ok {
		return nil, interfaces.ReasonGroupNotFound
	}
	if signer != g.owner {
		return nil, interfaces.ReasonOnlyOwner
	}
	return g, ""
}

func (s *memoryState) addMember(signer, group, user string) string {
	g, reason := s.ownedGroup(signer, group)
	if reason != "" {
		return reason
	}
	if slices.Contains(g.members, user) {
		return interfaces.ReasonAlreadyMember
	}
	g.members = append(g.members, user)
	return ""
}

func (s *memoryState) revokeMember(signer, group, user string) string {
	g, reason := s.ownedGroup(signer, group)
	if reason != "" {
		return reason
	}
	pos := slices.Index(g.members, user)
	if pos < 0 {
		return interfaces.ReasonNotAMember
	}
	g.members = slices.Delete(g.members, pos, pos+1)

	key := make([]byte, interfaces.GroupKeySize)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to rotate group key: %v", err))
	}
	g.keys = append(g.keys, base64.StdEncoding.EncodeToString(key))
	return ""
}

func (s *memoryState) storeKey(signer, group, key string) string {
	g, reason := s.ownedGroup(signer, group)
	if reason != "" {
		return reason
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != interfaces.GroupKeySize {
		return interfaces.ReasonInvalidKey
	}
	g.keys = append(g.keys, key)
	return ""
}

func (s *memoryState) recordTransaction(signer string, args interfaces.CallArgs) (json.RawMessage, string) {
	g, ok := s.groups[args.GroupID]
	if !ok {
		return nil, interfaces.ReasonGroupNotFound
	}
	if !slices.Contains(g.members, args.UserID) {
		return nil, interfaces.ReasonUserNotAuthorized
	}
	if signer != s.owner {
		return nil, interfaces.ReasonOnlyOwner
	}
	if args.KeyVersion > uint64(len(g.keys)) {
		return nil, interfaces.ReasonUnknownKeyVersion
	}

	sequence := uint64(len(s.transactions)) + 1
	sum := sha256.Sum256([]byte(args.GroupID + args.UserID + args.FileHash + args.CID +
		strconv.FormatUint(sequence, 10) + strconv.FormatInt(time.Now().UnixNano(), 10)))
	id := hex.EncodeToString(sum[:])

	s.transactions = append(s.transactions, interfaces.TransferRecord{
		GroupID:       args.GroupID,
		UserID:        args.UserID,
		FileHash:      args.FileHash,
		CID:           interfaces.CID(args.CID),
		TransactionID: id,
		KeyVersion:    args.KeyVersion,
		Sequence:      sequence,
	})

	result, _ := json.Marshal(interfaces.RecordResult{TransactionID: id, Sequence: sequence})
	return result, ""
}

func (s *memoryState) isAuthorized(group, user string) (bool, string) {
	g, ok := s.groups[group]
	if !ok {
		return false, interfaces.ReasonGroupNotFound
	}
	return slices.Contains(g.members, user), ""
}

func (s *memoryState) groupKey(group, user string, version uint64) (*interfaces.GroupKeyView, string) {
	g, ok := s.groups[group]
	if !ok {
		return nil, interfaces.ReasonGroupNotFound
	}
	if !slices.Contains(g.members, user) {
		return nil, interfaces.ReasonUnauthorized
	}
	if len(g.keys) == 0 {
		return nil, interfaces.ReasonNoKeySet
	}
	if version == 0 {
		version = uint64(len(g.keys))
	}
	if version > uint64(len(g.keys)) {
		return nil, interfaces.ReasonUnknownKeyVersion
	}
	return &interfaces.GroupKeyView{Key: g.keys[version-1], Version: version}, ""
}

func (s *memoryState) transactionsFor(group, user string) ([]interfaces.TransferRecord, string) {
	g, ok := s.groups[group]
	if !ok {
		return nil, interfaces.ReasonGroupNotFound
	}
	if !slices.Contains(g.members, user) && user != s.owner {
		return nil, interfaces.ReasonUnauthorized
	}

	records := []interfaces.TransferRecord{}
	for _, tx := range s.transactions {
		if tx.GroupID == group {
			records = append(records, tx)
		}
	}
	return records, ""
}

func failed(reason string) *interfaces.Receipt {
	return &interfaces.Receipt{Status: interfaces.ReceiptFailure, FailureReason: reason}
}

func txHash(method string, block uint64) string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	sum := sha256.Sum256(append([]byte(method+strconv.FormatUint(block, 10)), nonce...))
	return "0x" + hex.EncodeToString(sum[:])
}
