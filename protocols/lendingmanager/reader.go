package lendingmanager

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// lendingManagerABI covers the two read-only views the keeper needs.
const lendingManagerABI = `[
	{"type":"function","name":"totalLiquidity","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalBorrowed","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var managerABI = mustParseABI(lendingManagerABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("lendingmanager: invalid ABI: %v", err))
	}
	return parsed
}

// PoolState is one atomic snapshot of a lending pool, both quantities
// in the asset's smallest unit and read at the same block.
type PoolState struct {
	TotalLiquidity *big.Int
	TotalBorrowed  *big.Int
	BlockNumber    uint64
}

// TransportError reports a remote query that could not complete
// (connection, timeout, node-side failure).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("lendingmanager: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a remote reply that completed but could not be
// decoded into the expected integer.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("lendingmanager: decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Caller is the subset of the Ethereum RPC the reader uses.
// *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reader queries pool state from a LendingManager contract.
type Reader struct {
	manager common.Address
	caller  Caller
}

// NewReader binds a Reader to the LendingManager entry point.
func NewReader(manager common.Address, caller Caller) *Reader {
	return &Reader{manager: manager, caller: caller}
}

// ReadState returns the pool snapshot for one asset.
//
// Both views are pinned to the block head observed at entry, so the
// liquidity and borrowed figures always describe the same block even
// though they travel as two calls. No retries: a failed read aborts
// only this asset's processing for the current run.
func (r *Reader) ReadState(ctx context.Context, asset common.Address) (PoolState, error) {
	head, err := r.caller.BlockNumber(ctx)
	if err != nil {
		return PoolState{}, &TransportError{Op: "blockNumber", Err: err}
	}
	block := new(big.Int).SetUint64(head)

	liquidity, err := r.callUint256(ctx, "totalLiquidity", asset, block)
	if err != nil {
		return PoolState{}, err
	}
	borrowed, err := r.callUint256(ctx, "totalBorrowed", asset, block)
	if err != nil {
		return PoolState{}, err
	}

	return PoolState{
		TotalLiquidity: liquidity,
		TotalBorrowed:  borrowed,
		BlockNumber:    head,
	}, nil
}

func (r *Reader) callUint256(ctx context.Context, method string, asset common.Address, block *big.Int) (*big.Int, error) {
	input, err := managerABI.Pack(method, asset)
	if err != nil {
		return nil, &DecodeError{Op: method, Err: err}
	}

	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.manager, Data: input}, block)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}

	results, err := managerABI.Unpack(method, output)
	if err != nil {
		return nil, &DecodeError{Op: method, Err: err}
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, &DecodeError{Op: method, Err: fmt.Errorf("unexpected output type %T", results[0])}
	}
	return value, nil
}
