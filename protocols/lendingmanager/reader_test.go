package lendingmanager

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller serves canned ABI-encoded replies keyed by method selector.
type fakeCaller struct {
	head      uint64
	headErr   error
	replies   map[[4]byte][]byte
	callErr   error
	seenBlock []*big.Int
}

func (f *fakeCaller) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.seenBlock = append(f.seenBlock, blockNumber)
	if f.callErr != nil {
		return nil, f.callErr
	}
	var selector [4]byte
	copy(selector[:], msg.Data[:4])
	return f.replies[selector], nil
}

func packUint256(t *testing.T, method string, v *big.Int) []byte {
	t.Helper()
	out, err := managerABI.Methods[method].Outputs.Pack(v)
	require.NoError(t, err)
	return out
}

func selectorOf(method string) [4]byte {
	var s [4]byte
	copy(s[:], managerABI.Methods[method].ID)
	return s
}

func TestReader(t *testing.T) {
	manager := common.HexToAddress("0xbe2e1Fe2bdf3c4AC29DEc7d09d0E26F06f29585c")
	asset := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("ReadState_PinsBothCallsToOneBlock", func(t *testing.T) {
		caller := &fakeCaller{
			head: 42,
			replies: map[[4]byte][]byte{
				selectorOf("totalLiquidity"): packUint256(t, "totalLiquidity", big.NewInt(1000)),
				selectorOf("totalBorrowed"):  packUint256(t, "totalBorrowed", big.NewInt(200)),
			},
		}

		state, err := NewReader(manager, caller).ReadState(context.Background(), asset)
		require.NoError(t, err)

		assert.Equal(t, big.NewInt(1000), state.TotalLiquidity)
		assert.Equal(t, big.NewInt(200), state.TotalBorrowed)
		assert.Equal(t, uint64(42), state.BlockNumber)

		require.Len(t, caller.seenBlock, 2)
		for _, block := range caller.seenBlock {
			require.NotNil(t, block)
			assert.Equal(t, uint64(42), block.Uint64())
		}
	})

	t.Run("ReadState_HeadFailure_IsTransportError", func(t *testing.T) {
		caller := &fakeCaller{headErr: errors.New("connection refused")}

		_, err := NewReader(manager, caller).ReadState(context.Background(), asset)
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
	})

	t.Run("ReadState_CallFailure_IsTransportError", func(t *testing.T) {
		caller := &fakeCaller{head: 42, callErr: errors.New("i/o timeout")}

		_, err := NewReader(manager, caller).ReadState(context.Background(), asset)
		var transport *TransportError
		require.ErrorAs(t, err, &transport)
		assert.ErrorContains(t, err, "i/o timeout")
	})

	t.Run("ReadState_GarbageReply_IsDecodeError", func(t *testing.T) {
		caller := &fakeCaller{
			head: 42,
			replies: map[[4]byte][]byte{
				selectorOf("totalLiquidity"): {0xde, 0xad},
			},
		}

		_, err := NewReader(manager, caller).ReadState(context.Background(), asset)
		var decode *DecodeError
		require.ErrorAs(t, err, &decode)
	})
}
