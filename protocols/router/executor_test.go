package router

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key, never funded anywhere.
const testKeyHex = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	mu          sync.Mutex
	nonce       uint64
	nonceErr    error
	gasPriceErr error
	sendErr     error
	receipt     *types.Receipt
	receiptErr  error

	// advanceNonce mimics a real node: the pending nonce moves only
	// once a transaction has actually been accepted.
	advanceNonce bool

	// notFoundPolls delays the receipt by N polls to exercise waiting.
	notFoundPolls int

	sent []*types.Transaction
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, f.nonceErr
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.advanceNonce {
		f.nonce++
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFoundPolls > 0 {
		f.notFoundPolls--
		return nil, ethereum.NotFound
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func newTestExecutor(t *testing.T, backend Backend) *Executor {
	t.Helper()
	exec, err := NewExecutor(Config{
		Router:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Backend:       backend,
		PrivateKeyHex: testKeyHex,
		ChainID:       big.NewInt(84532),
		GasLimit:      2_000_000,
		TxTimeout:     2 * time.Second,
		PollInterval:  time.Millisecond,
	})
	require.NoError(t, err)
	return exec
}

func TestNewExecutor(t *testing.T) {
	backend := &fakeBackend{}

	t.Run("RejectsMalformedCredential", func(t *testing.T) {
		_, err := NewExecutor(Config{
			Router:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Backend:       backend,
			PrivateKeyHex: "0xnot-a-key",
			ChainID:       big.NewInt(84532),
			GasLimit:      2_000_000,
		})
		assert.Error(t, err)
	})

	t.Run("RejectsMissingConfig", func(t *testing.T) {
		_, err := NewExecutor(Config{})
		assert.Error(t, err)
	})

	t.Run("DerivesSenderFromKey", func(t *testing.T) {
		exec := newTestExecutor(t, backend)
		assert.NotEqual(t, common.Address{}, exec.From())
	})
}

func TestExecuteBorrow(t *testing.T) {
	asset := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("Success_ReturnsMinedReceipt", func(t *testing.T) {
		backend := &fakeBackend{
			nonce: 7,
			receipt: &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(123),
				GasUsed:     90_000,
			},
			notFoundPolls: 2,
		}
		exec := newTestExecutor(t, backend)

		receipt, err := exec.ExecuteBorrow(context.Background(), asset, big.NewInt(300))
		require.NoError(t, err)

		assert.Equal(t, uint64(90_000), receipt.GasUsed)
		assert.Equal(t, big.NewInt(123), receipt.BlockNumber)
		assert.NotEqual(t, common.Hash{}, receipt.TxHash)

		require.Len(t, backend.sent, 1)
		sent := backend.sent[0]
		assert.Equal(t, uint64(7), sent.Nonce())
		assert.Equal(t, uint64(2_000_000), sent.Gas())
		require.NotNil(t, sent.To())
		assert.Equal(t, exec.router, *sent.To())

		input, err := routerABI.Pack("borrow", asset, big.NewInt(300))
		require.NoError(t, err)
		assert.Equal(t, input, sent.Data())
	})

	t.Run("ZeroAmount_IsPreconditionViolation", func(t *testing.T) {
		backend := &fakeBackend{}
		exec := newTestExecutor(t, backend)

		_, err := exec.ExecuteBorrow(context.Background(), asset, new(big.Int))
		var action *ActionError
		require.ErrorAs(t, err, &action)
		assert.Empty(t, backend.sent, "nothing should be sent for a zero amount")
	})

	t.Run("SendFailure_KeepsDiagnosticVerbatim", func(t *testing.T) {
		backend := &fakeBackend{sendErr: errors.New("execution reverted: InsufficientCollateral()")}
		exec := newTestExecutor(t, backend)

		_, err := exec.ExecuteBorrow(context.Background(), asset, big.NewInt(300))
		var action *ActionError
		require.ErrorAs(t, err, &action)
		assert.Equal(t, "execution reverted: InsufficientCollateral()", action.Diagnostic)
	})

	t.Run("RevertedTransaction_IsActionError", func(t *testing.T) {
		backend := &fakeBackend{
			receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(124)},
		}
		exec := newTestExecutor(t, backend)

		_, err := exec.ExecuteBorrow(context.Background(), asset, big.NewInt(300))
		var action *ActionError
		require.ErrorAs(t, err, &action)
		assert.Contains(t, action.Diagnostic, "reverted")
	})

	t.Run("NonceFailure_IsActionError", func(t *testing.T) {
		backend := &fakeBackend{nonceErr: errors.New("connection reset")}
		exec := newTestExecutor(t, backend)

		_, err := exec.ExecuteBorrow(context.Background(), asset, big.NewInt(300))
		var action *ActionError
		require.ErrorAs(t, err, &action)
		assert.Empty(t, backend.sent)
	})

	t.Run("ConcurrentBorrows_NeverReuseANonce", func(t *testing.T) {
		backend := &fakeBackend{
			nonce:        7,
			advanceNonce: true,
			receipt: &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				BlockNumber: big.NewInt(123),
			},
		}
		exec := newTestExecutor(t, backend)

		const borrows = 8
		var wg sync.WaitGroup
		for i := 0; i < borrows; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := exec.ExecuteBorrow(context.Background(), asset, big.NewInt(int64(100+i)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		require.Len(t, backend.sent, borrows)
		seen := make(map[uint64]struct{}, borrows)
		for _, tx := range backend.sent {
			_, dup := seen[tx.Nonce()]
			assert.False(t, dup, "nonce %d signed twice from the same sender", tx.Nonce())
			seen[tx.Nonce()] = struct{}{}
		}
	})

	t.Run("UnconfirmedBeforeDeadline_IsAmbiguousFailure", func(t *testing.T) {
		backend := &fakeBackend{notFoundPolls: 1 << 30}
		exec, err := NewExecutor(Config{
			Router:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Backend:       backend,
			PrivateKeyHex: testKeyHex,
			ChainID:       big.NewInt(84532),
			GasLimit:      2_000_000,
			TxTimeout:     20 * time.Millisecond,
			PollInterval:  time.Millisecond,
		})
		require.NoError(t, err)

		_, err = exec.ExecuteBorrow(context.Background(), asset, big.NewInt(300))
		var action *ActionError
		require.ErrorAs(t, err, &action)
		assert.Equal(t, "confirmation", action.Stage)
		assert.Len(t, backend.sent, 1, "the transaction was sent; failure is ambiguous")
	})
}
