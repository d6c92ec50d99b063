package safe

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ownerManagerJSON = `[
	{"type":"function","name":"addOwnerWithThreshold","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"owner","type":"address"},{"name":"_threshold","type":"uint256"}]},
	{"type":"function","name":"removeOwner","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"prevOwner","type":"address"},{"name":"owner","type":"address"},{"name":"_threshold","type":"uint256"}]},
	{"type":"function","name":"swapOwner","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"prevOwner","type":"address"},{"name":"oldOwner","type":"address"},{"name":"newOwner","type":"address"}]},
	{"type":"function","name":"changeThreshold","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"_threshold","type":"uint256"}]},
	{"type":"function","name":"getOwners","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const delayModuleJSON = `[
	{"type":"function","name":"txNonce","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"queueNonce","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"txCooldown","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"txExpiration","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"txCreatedAt","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getModulesPaginated","stateMutability":"view",
	 "inputs":[{"name":"start","type":"address"},{"name":"pageSize","type":"uint256"}],
	 "outputs":[{"name":"array","type":"address[]"},{"name":"next","type":"address"}]},
	{"type":"event","name":"TransactionAdded","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"queueNonce","type":"uint256"},
		{"indexed":true,"name":"txHash","type":"bytes32"},
		{"indexed":false,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"},
		{"indexed":false,"name":"data","type":"bytes"},
		{"indexed":false,"name":"operation","type":"uint8"}
	 ]}
]`

const multiSendJSON = `[
	{"type":"function","name":"multiSend","stateMutability":"payable","outputs":[],
	 "inputs":[{"name":"transactions","type":"bytes"}]}
]`

var (
	// OwnerManagerABI covers the owner management surface of the Safe singleton.
	OwnerManagerABI = mustParseABI("owner manager", ownerManagerJSON)
	// DelayModuleABI covers the read surface of the Zodiac Delay module.
	DelayModuleABI = mustParseABI("delay module", delayModuleJSON)
	// MultiSendABI covers MultiSend and MultiSendCallOnly.
	MultiSendABI = mustParseABI("multisend", multiSendJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("safe: parse %s abi: %v", name, err))
	}
	return parsed
}
