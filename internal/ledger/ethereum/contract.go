package ethereum

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"chainrelay/internal/ledger"
)

// registryABI is the subset of the hash-registry contract the relay calls.
const registryABI = `[
  {"type":"function","name":"registerHash","stateMutability":"nonpayable",
   "inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"verifyHash","stateMutability":"view",
   "inputs":[{"name":"hash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getHashInfo","stateMutability":"view",
   "inputs":[{"name":"hash","type":"bytes32"}],
   "outputs":[{"name":"exists","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"registrar","type":"address"}]}
]`

func parseRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse registry abi: %w", err)
	}
	return parsed, nil
}

func unpackBool(contract abi.ABI, method string, out []byte) (bool, error) {
	values, err := contract.Unpack(method, out)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("%s: expected 1 output, got %d", method, len(values))
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected output type %T", method, values[0])
	}
	return v, nil
}

func unpackHashInfo(contract abi.ABI, out []byte) (*ledger.HashInfo, error) {
	values, err := contract.Unpack("getHashInfo", out)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("getHashInfo: expected 3 outputs, got %d", len(values))
	}
	exists, ok1 := values[0].(bool)
	ts, ok2 := values[1].(*big.Int)
	registrar, ok3 := values[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("getHashInfo: unexpected output types")
	}
	info := &ledger.HashInfo{Registered: exists}
	if exists {
		info.Timestamp = time.Unix(ts.Int64(), 0).UTC()
		info.Registrar = registrar.Hex()
	}
	return info, nil
}
