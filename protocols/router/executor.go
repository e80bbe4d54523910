package router

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerABIDef = `[
	{"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var routerABI = mustParseABI(routerABIDef)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("router: invalid ABI: %v", err))
	}
	return parsed
}

const (
	defaultTxTimeout    = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Receipt is the opaque confirmation of a mined borrow, kept for
// audit and display only.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber *big.Int
	GasUsed     uint64
}

func (r Receipt) String() string {
	return r.TxHash.Hex()
}

// ActionError reports a failed borrow submission. Diagnostic carries
// the remote system's text verbatim; it is never swallowed or
// paraphrased.
type ActionError struct {
	Stage      string
	Diagnostic string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("router: borrow %s: %s", e.Stage, e.Diagnostic)
}

func (e *ActionError) Unwrap() error { return e.Err }

func actionErr(stage string, err error) *ActionError {
	return &ActionError{Stage: stage, Diagnostic: err.Error(), Err: err}
}

// Backend is the subset of the Ethereum RPC the executor uses.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the executor's wiring.
type Config struct {
	Router        common.Address
	Backend       Backend
	PrivateKeyHex string
	ChainID       *big.Int
	GasLimit      uint64
	TxTimeout     time.Duration

	// PollInterval controls receipt polling; zero means the default.
	PollInterval time.Duration
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Router == (common.Address{}) {
		return errors.New("config: Router is required")
	}
	if c.Backend == nil {
		return errors.New("config: Backend is required")
	}
	if strings.TrimSpace(c.PrivateKeyHex) == "" {
		return errors.New("config: PrivateKeyHex is required")
	}
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return errors.New("config: ChainID is required")
	}
	if c.GasLimit == 0 {
		return errors.New("config: GasLimit must be greater than 0")
	}
	return nil
}

// Executor submits borrow instructions to the protocol router.
//
// Each call is a single signed attempt bounded by the configured
// timeout; there is no retry. Resubmitting after an ambiguous failure
// (sent but never confirmed) may double-borrow — retry policy belongs
// to the operator re-running the tool, not to this component.
//
// An Executor is safe for concurrent use: submissions from the shared
// sender are serialized so two borrows never sign the same pending
// nonce. Confirmation waits run concurrently.
type Executor struct {
	router       common.Address
	backend      Backend
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	gasLimit     uint64
	txTimeout    time.Duration
	pollInterval time.Duration

	sendMu sync.Mutex
}

// NewExecutor constructs an Executor and derives the sender address
// from the signing credential. A malformed credential fails here,
// before any network call is attempted.
func NewExecutor(cfg Config) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("router: parse signing credential: %w", err)
	}

	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Executor{
		router:       cfg.Router,
		backend:      cfg.Backend,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      cfg.ChainID,
		gasLimit:     cfg.GasLimit,
		txTimeout:    txTimeout,
		pollInterval: pollInterval,
	}, nil
}

// From returns the sender address derived from the credential.
func (e *Executor) From() common.Address {
	return e.from
}

// ExecuteBorrow signs and sends borrow(asset, amountRaw) and waits for
// the mined receipt within the configured timeout. amountRaw must be
// positive; callers decide "no action" before reaching the executor.
//
// Success and failure come from the typed receipt status, never from
// scraping tool output.
func (e *Executor) ExecuteBorrow(ctx context.Context, asset common.Address, amountRaw *big.Int) (Receipt, error) {
	if amountRaw == nil || amountRaw.Sign() <= 0 {
		return Receipt{}, &ActionError{Stage: "precondition", Diagnostic: "amount must be positive"}
	}

	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	signed, err := e.submit(ctx, asset, amountRaw)
	if err != nil {
		return Receipt{}, err
	}

	receipt, err := e.waitMined(ctx, signed.Hash())
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, &ActionError{
			Stage:      "execution",
			Diagnostic: fmt.Sprintf("transaction %s reverted", signed.Hash().Hex()),
		}
	}

	return Receipt{
		TxHash:      signed.Hash(),
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}, nil
}

// submit builds, signs, and sends one borrow transaction. The
// nonce-fetch and the send form one critical section: a concurrent
// borrow reading the pending nonce between them would sign the same
// nonce from the shared sender and be rejected or replaced.
func (e *Executor) submit(ctx context.Context, asset common.Address, amountRaw *big.Int) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, actionErr("nonce", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, actionErr("gas price", err)
	}

	input, err := routerABI.Pack("borrow", asset, amountRaw)
	if err != nil {
		return nil, actionErr("encode", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.router,
		Gas:      e.gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return nil, actionErr("sign", err)
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, actionErr("send", err)
	}
	return signed, nil
}

// waitMined polls for the transaction receipt until it appears or the
// deadline passes. A deadline here is ambiguous: the transaction was
// sent and may still mine later.
func (e *Executor) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, actionErr("receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, &ActionError{
				Stage:      "confirmation",
				Diagnostic: fmt.Sprintf("transaction %s sent but not confirmed before deadline: %v", txHash.Hex(), ctx.Err()),
				Err:        ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}
