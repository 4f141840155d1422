package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainrelay/internal/ledger"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/circuit"
	"chainrelay/pkg/platform/sentinel"
)

var contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu          sync.Mutex
	chainID     *big.Int
	callOut     []byte
	callErr     error
	estimateErr error
	sendErr     error
	sent        []*types.Transaction
	receipt     *types.Receipt
	receiptErr  error
	blockErr    error
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 42, f.blockErr
}
func (f *fakeBackend) CallContract(context.Context, goethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, f.callErr
}
func (f *fakeBackend) EstimateGas(context.Context, goethereum.CallMsg) (uint64, error) {
	return 50000, f.estimateErr
}
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}
func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) (*Client, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	backend.chainID = big.NewInt(31337)
	opts = append([]Option{WithPrivateKey("0x" + hex.EncodeToString(crypto.FromECDSA(key)))}, opts...)
	c, err := New(context.Background(), backend, contractAddr, discardLogger(), opts...)
	require.NoError(t, err)
	return c, crypto.PubkeyToAddress(key.PublicKey)
}

func TestRegisterHash_SignsLegacyTransaction(t *testing.T) {
	backend := &fakeBackend{}
	c, from := newTestClient(t, backend, WithGasLimit(120000))
	assert.Equal(t, from.Hex(), c.Registrar())

	txRef, err := c.RegisterHash(context.Background(), id.MessageHash("0xabc123"))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), txRef)
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120000), tx.Gas())
	assert.Equal(t, contractAddr, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	assert.Equal(t, from, sender)

	expected, err := c.contract.Pack("registerHash", id.MessageHash("0xabc123").Bytes32())
	require.NoError(t, err)
	assert.Equal(t, expected, tx.Data())
}

func TestRegisterHash_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		estimateErr error
		sendErr     error
		want        error
	}{
		{"duplicate revert", errors.New("execution reverted: Hash already registered"), nil, ledger.ErrAlreadyRegistered},
		{"other revert", errors.New("execution reverted: paused"), nil, ledger.ErrPermanent},
		{"nonce race", nil, errors.New("nonce too low"), ledger.ErrTransient},
		{"timeout", context.DeadlineExceeded, nil, ledger.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, &fakeBackend{estimateErr: tt.estimateErr, sendErr: tt.sendErr})
			_, err := c.RegisterHash(context.Background(), id.MessageHash("0x01"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterHash_ReadOnlyClient(t *testing.T) {
	c, err := New(context.Background(), &fakeBackend{}, contractAddr, discardLogger())
	require.NoError(t, err)
	_, err = c.RegisterHash(context.Background(), id.MessageHash("0x01"))
	assert.ErrorIs(t, err, ledger.ErrPermanent)
	assert.Empty(t, c.Registrar())
}

func TestVerifyAndHashInfo(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestClient(t, backend)

	out, err := c.contract.Methods["verifyHash"].Outputs.Pack(true)
	require.NoError(t, err)
	backend.callOut = out
	ok, err := c.VerifyHash(context.Background(), id.MessageHash("0x01"))
	require.NoError(t, err)
	assert.True(t, ok)

	registrar := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	out, err = c.contract.Methods["getHashInfo"].Outputs.Pack(true, big.NewInt(1700000000), registrar)
	require.NoError(t, err)
	backend.callOut = out
	info, err := c.GetHashInfo(context.Background(), id.MessageHash("0x01"))
	require.NoError(t, err)
	assert.True(t, info.Registered)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), info.Timestamp)
	assert.Equal(t, registrar.Hex(), info.Registrar)
}

func TestTransactionReceipt(t *testing.T) {
	txRef := common.HexToHash("0x01").Hex()

	t.Run("pending until mined", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeBackend{receiptErr: goethereum.NotFound})
		_, err := c.TransactionReceipt(context.Background(), txRef)
		assert.ErrorIs(t, err, ledger.ErrReceiptPending)
	})

	t.Run("reverted status", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}})
		r, err := c.TransactionReceipt(context.Background(), txRef)
		require.NoError(t, err)
		assert.Equal(t, ledger.ReceiptReverted, r.Status)
		assert.Equal(t, uint64(9), r.BlockNumber)
	})

	t.Run("malformed reference", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeBackend{})
		_, err := c.TransactionReceipt(context.Background(), "0x1234")
		assert.ErrorIs(t, err, ledger.ErrPermanent)
	})
}

func TestBreakerOpensOnRepeatedOutage(t *testing.T) {
	backend := &fakeBackend{blockErr: errors.New("dial tcp 127.0.0.1:8545: connection refused")}
	c, _ := newTestClient(t, backend, WithBreaker(circuit.New("ledger-rpc", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))

	for range 2 {
		assert.ErrorIs(t, c.Health(context.Background()), ledger.ErrTransient)
	}
	err := c.Health(context.Background())
	assert.ErrorIs(t, err, sentinel.ErrUnavailable, "open circuit short-circuits calls")
	assert.ErrorIs(t, err, ledger.ErrTransient)
}
