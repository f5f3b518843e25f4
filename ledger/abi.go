package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ruteri/groupshare/interfaces"
)

// GroupRegistryABI is the ABI of the GroupRegistry contract.
const GroupRegistryABI = `[
  {"type":"function","name":"registerGroup","stateMutability":"payable",
   "inputs":[{"name":"groupId","type":"string"}],"outputs":[]},
  {"type":"function","name":"addGroupMember","stateMutability":"payable",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"}],"outputs":[]},
  {"type":"function","name":"revokeGroupMember","stateMutability":"payable",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"}],"outputs":[]},
  {"type":"function","name":"storeGroupKey","stateMutability":"payable",
   "inputs":[{"name":"groupId","type":"string"},{"name":"key","type":"string"}],"outputs":[]},
  {"type":"function","name":"recordTransaction","stateMutability":"payable",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"},
             {"name":"fileHash","type":"string"},{"name":"cid","type":"string"},
             {"name":"keyVersion","type":"uint64"}],
   "outputs":[{"name":"transactionId","type":"string"}]},
  {"type":"function","name":"groupExists","stateMutability":"view",
   "inputs":[{"name":"groupId","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isAuthorized","stateMutability":"view",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getGroupKey","stateMutability":"view",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct GroupRegistry.GroupKey",
               "components":[{"name":"key","type":"string"},{"name":"version","type":"uint64"}]}]},
  {"type":"function","name":"getGroupKeyVersion","stateMutability":"view",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"},{"name":"version","type":"uint64"}],
   "outputs":[{"name":"","type":"tuple","internalType":"struct GroupRegistry.GroupKey",
               "components":[{"name":"key","type":"string"},{"name":"version","type":"uint64"}]}]},
  {"type":"function","name":"getTransactionsForGroup","stateMutability":"view",
   "inputs":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"}],
   "outputs":[{"name":"","type":"tuple[]","internalType":"struct GroupRegistry.Transaction[]",
               "components":[{"name":"groupId","type":"string"},{"name":"userId","type":"string"},
                             {"name":"fileHash","type":"string"},{"name":"cid","type":"string"},
                             {"name":"transactionId","type":"string"},{"name":"keyVersion","type":"uint64"},
                             {"name":"sequence","type":"uint64"}]}]},
  {"type":"event","name":"TransactionRecorded","anonymous":false,
   "inputs":[{"name":"groupId","type":"string","indexed":false},
             {"name":"transactionId","type":"string","indexed":false},
             {"name":"sequence","type":"uint64","indexed":false}]}
]`

// EventTransactionRecorded is emitted by recordTransaction.
const EventTransactionRecorded = "TransactionRecorded"

// transactionRecorded mirrors the TransactionRecorded event fields.
type transactionRecorded struct {
	GroupId       string
	TransactionId string
	Sequence      uint64
}

// ParseGroupRegistryABI parses GroupRegistryABI.
func ParseGroupRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(GroupRegistryABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse GroupRegistry ABI: %w", err)
	}
	return parsed, nil
}

// contractParams lays out CallArgs in the contract's parameter order.
var contractParams = map[string]func(a interfaces.CallArgs) []interface{}{
	interfaces.MethodRegisterGroup: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID}
	},
	interfaces.MethodAddGroupMember: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID}
	},
	interfaces.MethodRevokeGroupMember: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID}
	},
	interfaces.MethodStoreGroupKey: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.Key}
	},
	interfaces.MethodRecordTransaction: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID, a.FileHash, a.CID, a.KeyVersion}
	},
	interfaces.MethodGroupExists: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID}
	},
	interfaces.MethodIsAuthorized: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID}
	},
	interfaces.MethodGetGroupKey: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID}
	},
	interfaces.MethodGetGroupKeyVersion: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID, a.KeyVersion}
	},
	interfaces.MethodGetTransactionsForGroup: func(a interfaces.CallArgs) []interface{} {
		return []interface{}{a.GroupID, a.UserID}
	},
}
