package onchain_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/liqshield/internal/adapters/onchain"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var lopAddr = common.HexToAddress("0x111111125421cA6dc452d289314280a0f8842A65")

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	mu          sync.Mutex
	sent        []*types.Transaction
	estimateErr error
	status      uint64
	callErr     error
	allowance   *big.Int
	noReceipt   bool
	afterSend   func()
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	// Widen the window between nonce read and send.
	time.Sleep(time.Millisecond)
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.mu.Unlock()
	if b.afterSend != nil {
		b.afterSend()
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if b.noReceipt {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:      b.status,
		TxHash:      hash,
		BlockNumber: big.NewInt(1234),
		GasUsed:     88_000,
	}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	if b.allowance != nil {
		return common.LeftPadBytes(b.allowance.Bytes(), 32), nil
	}
	return nil, nil
}

func newFiller(t *testing.T, b *fakeBackend) *onchain.Filler {
	t.Helper()
	f, err := onchain.NewFiller(b, "0x"+testKey, onchain.Config{
		ChainID:            8453,
		LimitOrderProtocol: lopAddr,
		ReceiptTimeout:     200 * time.Millisecond,
		ReceiptInterval:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func sampleCall() domain.FillCall {
	one := big.NewInt(1)
	order := lop.ContractOrder{
		Salt:         one,
		Maker:        one,
		Receiver:     big.NewInt(0),
		MakerAsset:   one,
		TakerAsset:   one,
		MakingAmount: big.NewInt(100),
		TakingAmount: big.NewInt(100),
		MakerTraits:  big.NewInt(0),
	}
	return domain.FillCall{
		OrderID:     "abc",
		Order:       order,
		R:           [32]byte{1},
		VS:          [32]byte{2},
		Amount:      big.NewInt(100),
		TakerTraits: big.NewInt(0),
		Args:        []byte{0xaa},
	}
}

func TestFiller_SubmitFill(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	f := newFiller(t, b)

	res, err := f.SubmitFill(context.Background(), sampleCall())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), res.BlockNumber)
	assert.Equal(t, uint64(88_000), res.GasUsed)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, lopAddr, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate plus 20%")
	assert.Equal(t, big.NewInt(1_100_000_000), tx.GasPrice(), "suggested plus 10%")
	assert.Equal(t, tx.Hash(), res.TxHash)

	want, err := onchain.PackFill(sampleCall())
	require.NoError(t, err)
	assert.Equal(t, want, tx.Data())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.TakerAddress(), sender)
}

func TestFiller_ConcurrentFillsUseDistinctNonces(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	f := newFiller(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.SubmitFill(context.Background(), sampleCall())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range b.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	assert.Len(t, seen, 8)
}

func TestFiller_EstimateRevertIsDecoded(t *testing.T) {
	sel := hexutil.Encode(crypto.Keccak256([]byte("BadSignature()"))[:4])
	b := &fakeBackend{estimateErr: revertErr{data: sel}}
	f := newFiller(t, b)

	_, err := f.SubmitFill(context.Background(), sampleCall())
	var re *domain.RevertError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "BadSignature()", re.Reason)
	assert.ErrorIs(t, err, domain.ErrExecutionReverted)
	assert.Empty(t, b.sent, "nothing is broadcast after a failed estimate")
}

func TestFiller_EstimateNetworkError(t *testing.T) {
	b := &fakeBackend{estimateErr: errors.New("connection refused")}
	f := newFiller(t, b)

	_, err := f.SubmitFill(context.Background(), sampleCall())
	assert.ErrorIs(t, err, domain.ErrFillTransactionFailed)
}

func TestFiller_RevertedReceipt(t *testing.T) {
	sel := hexutil.Encode(crypto.Keccak256([]byte("OrderExpired()"))[:4])
	b := &fakeBackend{status: types.ReceiptStatusFailed, callErr: revertErr{data: sel}}
	f := newFiller(t, b)

	res, err := f.SubmitFill(context.Background(), sampleCall())
	var re *domain.RevertError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "OrderExpired()", re.Reason)
	assert.Equal(t, res.TxHash.Hex(), re.TxHash)
}

func TestFiller_ReceiptTimeout(t *testing.T) {
	b := &fakeBackend{noReceipt: true}
	f := newFiller(t, b)

	_, err := f.SubmitFill(context.Background(), sampleCall())
	assert.ErrorIs(t, err, domain.ErrFillTransactionFailed)
}

func TestFiller_EnsureAllowance(t *testing.T) {
	token := common.HexToAddress("0x4200000000000000000000000000000000000006")

	enough := &fakeBackend{allowance: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	require.NoError(t, newFiller(t, enough).EnsureAllowance(context.Background(), token, big.NewInt(500)))
	assert.Empty(t, enough.sent)

	short := &fakeBackend{allowance: big.NewInt(10), status: types.ReceiptStatusSuccessful}
	require.NoError(t, newFiller(t, short).EnsureAllowance(context.Background(), token, big.NewInt(500)))
	require.Len(t, short.sent, 1)
	assert.Equal(t, token, *short.sent[0].To())
}

func TestNewFiller_Validation(t *testing.T) {
	_, err := onchain.NewFiller(&fakeBackend{}, "zz", onchain.Config{ChainID: 1, LimitOrderProtocol: lopAddr})
	assert.Error(t, err)
	_, err = onchain.NewFiller(&fakeBackend{}, testKey, onchain.Config{LimitOrderProtocol: lopAddr})
	assert.Error(t, err)
	_, err = onchain.NewFiller(&fakeBackend{}, testKey, onchain.Config{ChainID: 1})
	assert.Error(t, err)
}

func TestFiller_SubmitFillOutlivesCallerAfterBroadcast(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful}
	f := newFiller(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.afterSend = cancel

	res, err := f.SubmitFill(ctx, sampleCall())
	require.NoError(t, err, "a broadcast fill is followed to its receipt")
	assert.Equal(t, uint64(1234), res.BlockNumber)
	require.Len(t, b.sent, 1)
	assert.Equal(t, b.sent[0].Hash(), res.TxHash)
}
