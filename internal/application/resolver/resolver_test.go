package resolver_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/liqshield/internal/adapters/storage"
	"github.com/alejandrodnm/liqshield/internal/application/resolver"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lopAddr    = common.HexToAddress("0x111111125421cA6dc452d289314280a0f8842A65")
	postTarget = common.HexToAddress("0x8815Ab44465734eF2C41de36cff0ab130e1ab32B")
	usdc       = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth       = common.HexToAddress("0x4200000000000000000000000000000000000006")
	cbbtc      = common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf")
	taker      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chainID    = int64(8453)
)

// --- fakes ---

type fakeOracle struct {
	mu     sync.Mutex
	prices map[common.Address]domain.PairPrice // keyed by taker asset
	errs   map[common.Address]error
	calls  int
}

func newOracle() *fakeOracle {
	return &fakeOracle{
		prices: make(map[common.Address]domain.PairPrice),
		errs:   make(map[common.Address]error),
	}
}

func (o *fakeOracle) Name() string { return "fake" }

func (o *fakeOracle) set(takerAsset common.Address, maker, taker string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[takerAsset] = domain.PairPrice{
		Maker: decimal.RequireFromString(maker),
		Taker: decimal.RequireFromString(taker),
	}
}

func (o *fakeOracle) SpotPrices(_ context.Context, _, takerAsset common.Address) (domain.PairPrice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err := o.errs[takerAsset]; err != nil {
		return domain.PairPrice{}, err
	}
	p, ok := o.prices[takerAsset]
	if !ok {
		return domain.PairPrice{}, fmt.Errorf("%w: %s", domain.ErrOracleDataMissing, takerAsset.Hex())
	}
	return p, nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []domain.FillCall
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) TakerAddress() common.Address { return taker }

func (f *fakeSubmitter) SubmitFill(ctx context.Context, call domain.FillCall) (domain.FillResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.FillResult{OrderID: call.OrderID}, ctx.Err()
		}
	}
	if err != nil {
		return domain.FillResult{OrderID: call.OrderID}, err
	}
	return domain.FillResult{
		OrderID:     call.OrderID,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: 42,
		GasUsed:     180_000,
	}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type captureNotifier struct {
	reports []domain.CycleReport
}

func (c *captureNotifier) Notify(_ context.Context, r domain.CycleReport) error {
	c.reports = append(c.reports, r)
	return nil
}

// --- fixtures ---

type orderOpts struct {
	seed       int64
	makerAsset common.Address
	takerAsset common.Address
	expiration uint64
	target     common.Address
	trigger    string
	direction  domain.TriggerDirection
}

func defaultOpts() orderOpts {
	return orderOpts{
		seed:       1,
		makerAsset: usdc,
		takerAsset: weth,
		target:     postTarget,
		trigger:    "0.0000002",
		direction:  domain.TriggerShort,
	}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func makeRequest(t *testing.T, key *ecdsa.PrivateKey, o orderOpts) resolver.SubmitRequest {
	t.Helper()
	ext := lop.Extension{PostInteraction: lop.Interaction{Target: o.target, Data: []byte{0x01, 0x02}}.Encode()}
	traits := lop.DefaultMakerTraits().WithExtension().WithPostInteraction()
	if o.expiration > 0 {
		traits = traits.WithExpiration(o.expiration)
	}
	data := lop.OrderData{
		Salt:         lop.SaltFor(ext, big.NewInt(o.seed)),
		Maker:        crypto.PubkeyToAddress(key.PublicKey),
		MakerAsset:   o.makerAsset,
		TakerAsset:   o.takerAsset,
		MakingAmount: big.NewInt(500_000),
		TakingAmount: big.NewInt(100_000_000_000_000),
		MakerTraits:  traits,
	}
	sig, err := lop.SignOrder(data, chainID, lopAddr, key)
	require.NoError(t, err)
	return resolver.SubmitRequest{
		Order:            domain.OrderFromData(data),
		Signature:        hexutil.Encode(sig),
		Extension:        ext.Hex(),
		TriggerPrice:     decimal.RequireFromString(o.trigger),
		TriggerDirection: o.direction,
	}
}

type harness struct {
	svc       *resolver.Service
	store     *storage.MemoryStore
	oracle    *fakeOracle
	submitter *fakeSubmitter
}

func newHarness(t *testing.T, cfg resolver.Config) *harness {
	t.Helper()
	h := &harness{
		store:     storage.NewMemoryStore(),
		oracle:    newOracle(),
		submitter: &fakeSubmitter{},
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = chainID
		cfg.LimitOrderProtocol = lopAddr
	}
	h.svc = resolver.NewService(
		cfg,
		h.store,
		resolver.NewReconstructor(postTarget),
		h.oracle,
		h.submitter,
		resolver.ExecutorConfig{FillTimeout: 5 * time.Second},
		4,
		nil,
	)
	return h
}

// --- ingestion ---

func TestService_SubmitAndGet(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	req := makeRequest(t, newKey(t), defaultOpts())

	id, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)

	wantID, err := domain.ComputeID(req.Order)
	require.NoError(t, err)
	assert.Equal(t, wantID, id)

	got, err := h.svc.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Reconstructed)
	assert.Equal(t, req.Extension, got.Reconstructed.Extension.Hex(), "extension bytes round trip")
	assert.Equal(t, domain.TriggerShort, got.TriggerDirection)
	assert.False(t, got.Timestamp.IsZero())

	_, err = h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrConflict)

	orders, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestService_SubmitRejects(t *testing.T) {
	key := newKey(t)
	valid := makeRequest(t, key, defaultOpts())

	tests := []struct {
		name   string
		mutate func(*resolver.SubmitRequest)
		want   error
	}{
		{"missing signature", func(r *resolver.SubmitRequest) { r.Signature = "" }, domain.ErrValidation},
		{"zero trigger", func(r *resolver.SubmitRequest) { r.TriggerPrice = decimal.Zero }, domain.ErrValidation},
		{"bad direction", func(r *resolver.SubmitRequest) { r.TriggerDirection = "sideways" }, domain.ErrValidation},
		{"missing maker", func(r *resolver.SubmitRequest) { r.Order.Maker = "" }, domain.ErrValidation},
		{"undecodable extension", func(r *resolver.SubmitRequest) { r.Extension = "0xzz" }, domain.ErrExtensionDecode},
		{"truncated extension", func(r *resolver.SubmitRequest) { r.Extension = "0x0102" }, domain.ErrExtensionDecode},
		{"extension not bound to salt", func(r *resolver.SubmitRequest) { r.Order.Salt = "12345" }, domain.ErrOrderMismatch},
		{"extension dropped", func(r *resolver.SubmitRequest) { r.Extension = "0x" }, domain.ErrOrderMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, resolver.Config{})
			req := valid
			tt.mutate(&req)

			_, err := h.svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)

			orders, err := h.svc.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, orders, "rejected orders are never stored")
		})
	}
}

func TestService_SubmitWrongPostInteractionTarget(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	opts := defaultOpts()
	opts.target = common.HexToAddress("0x000000000000000000000000000000000000dead")

	_, err := h.svc.Submit(context.Background(), makeRequest(t, newKey(t), opts))
	assert.ErrorIs(t, err, domain.ErrOrderMismatch)
}

func TestService_VerifySignatures(t *testing.T) {
	h := newHarness(t, resolver.Config{ChainID: chainID, LimitOrderProtocol: lopAddr, VerifySignatures: true})
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	// Signed by someone other than the maker.
	req := makeRequest(t, newKey(t), defaultOpts())
	forged := makeRequest(t, newKey(t), defaultOpts())
	req.Signature = forged.Signature
	_, err = h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req.Signature = "0x1234"
	_, err = h.svc.Submit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestService_MalformedSignatureIsStorable(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	req := makeRequest(t, newKey(t), defaultOpts())
	req.Signature = "0x1234"

	id, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	h.oracle.set(weth, "1", "0.0000001")

	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidSignatureEncoding)
	assert.Zero(t, h.submitter.count())

	_, err = h.svc.Get(ctx, id)
	assert.NoError(t, err, "order stays stored for inspection")
}

// --- evaluation ---

func TestService_FillableTrigger(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	opts := defaultOpts()
	opts.trigger = "2000"
	_, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), opts))
	require.NoError(t, err)

	for _, tc := range []struct {
		ratio string
		want  int
	}{
		{"1800", 1},
		{"2000", 0},
		{"2200", 0},
	} {
		h.oracle.set(weth, "1", tc.ratio)
		eval, err := h.svc.Fillable(ctx)
		require.NoError(t, err)
		assert.Len(t, eval.Fillable, tc.want, "ratio %s", tc.ratio)
	}
}

func TestService_FillableLong(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	opts := defaultOpts()
	opts.trigger = "2000"
	opts.direction = domain.TriggerLong
	_, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), opts))
	require.NoError(t, err)

	h.oracle.set(weth, "2", "4400")
	eval, err := h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Len(t, eval.Fillable, 1)

	h.oracle.set(weth, "2", "4000")
	eval, err = h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Empty(t, eval.Fillable)
}

func TestService_FillableIsolatesPriceFailures(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	key := newKey(t)

	a := defaultOpts()
	a.takerAsset = cbbtc
	_, err := h.svc.Submit(ctx, makeRequest(t, key, a))
	require.NoError(t, err)

	b := defaultOpts()
	b.seed = 2
	idB, err := h.svc.Submit(ctx, makeRequest(t, key, b))
	require.NoError(t, err)

	c := defaultOpts()
	c.seed = 3
	idC, err := h.svc.Submit(ctx, makeRequest(t, key, c))
	require.NoError(t, err)

	h.oracle.errs[cbbtc] = fmt.Errorf("%w: 503", domain.ErrOracleUnavailable)
	h.oracle.set(weth, "1", "0.0000001")

	eval, err := h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, eval.Skipped)
	require.Len(t, eval.Fillable, 2)
	ids := []string{eval.Fillable[0].Order.ID, eval.Fillable[1].Order.ID}
	assert.ElementsMatch(t, []string{idB, idC}, ids)
	assert.Equal(t, 2, h.oracle.calls, "one lookup per distinct pair")
}

func TestService_ExpiredOrdersNeverFillable(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)
	resolver.SetClock(h.svc, func() time.Time { return now })

	opts := defaultOpts()
	opts.expiration = uint64(now.Add(time.Hour).Unix())
	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), opts))
	require.NoError(t, err)
	h.oracle.set(weth, "1", "0.0000001")

	eval, err := h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Len(t, eval.Fillable, 1)

	now = now.Add(2 * time.Hour)
	eval, err = h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Empty(t, eval.Fillable)

	pruned, err := h.svc.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, err = h.svc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- execution ---

func TestService_EndToEnd(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	h.oracle.set(weth, "1", "0.0000003")
	eval, err := h.svc.Fillable(ctx)
	require.NoError(t, err)
	assert.Empty(t, eval.Fillable)

	h.oracle.set(weth, "1", "0.00000015")
	eval, err = h.svc.Fillable(ctx)
	require.NoError(t, err)
	require.Len(t, eval.Fillable, 1)
	assert.Equal(t, id, eval.Fillable[0].Order.ID)

	res, err := h.svc.Fill(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.BlockNumber)
	assert.Equal(t, 1, h.submitter.count())

	orders, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, h.submitter.count(), "no second transaction")
}

func TestService_ConcurrentFillIsExclusive(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	h.submitter.started = make(chan struct{}, 1)
	h.submitter.release = make(chan struct{})

	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Fill(ctx, id)
		done <- err
	}()
	<-h.submitter.started

	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyFilling)

	err = h.svc.Cancel(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyFilling, "cannot cancel while filling")

	close(h.submitter.release)
	require.NoError(t, <-done)

	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, h.submitter.count())
}

func TestService_FillSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	h.submitter.started = make(chan struct{}, 1)
	h.submitter.release = make(chan struct{})

	id, err := h.svc.Submit(context.Background(), makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Fill(ctx, id)
		done <- err
	}()
	<-h.submitter.started

	// The caller disconnects while the transaction waits for its receipt.
	cancel()
	close(h.submitter.release)
	require.NoError(t, <-done)

	_, err = h.svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a mined fill deletes the order")

	_, err = h.svc.Fill(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, h.submitter.count(), "no second transaction")
}

func TestService_FailedFillKeepsOrder(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	h.submitter.err = fmt.Errorf("%w: connection reset", domain.ErrFillTransactionFailed)
	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrFillTransactionFailed)

	h.submitter.err = &domain.RevertError{Reason: "OrderExpired()"}
	_, err = h.svc.Fill(ctx, id)
	var revert *domain.RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "OrderExpired()", revert.Reason)

	_, err = h.svc.Get(ctx, id)
	require.NoError(t, err, "failed fills leave the order stored")

	h.submitter.err = nil
	_, err = h.svc.Fill(ctx, id)
	require.NoError(t, err, "claim was released so a retry goes through")
}

func TestService_NotReconstructed(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	req := makeRequest(t, newKey(t), defaultOpts())

	id, err := domain.ComputeID(req.Order)
	require.NoError(t, err)
	require.NoError(t, h.store.Create(ctx, domain.StoredOrder{
		ID:               id,
		Order:            req.Order,
		Signature:        req.Signature,
		Extension:        "0x",
		TriggerPrice:     req.TriggerPrice,
		TriggerDirection: domain.TriggerShort,
	}))

	_, err = h.svc.Fill(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotReconstructed)
	assert.Zero(t, h.submitter.count())
}

func TestService_Cancel(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx, id))
	_, err = h.svc.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.Cancel(ctx, id), domain.ErrNotFound)
}

func TestNewFillCall(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	req := makeRequest(t, newKey(t), defaultOpts())
	id, err := h.svc.Submit(ctx, req)
	require.NoError(t, err)
	order, err := h.svc.Get(ctx, id)
	require.NoError(t, err)

	call, err := resolver.NewFillCall(order, taker)
	require.NoError(t, err)

	ext := order.Reconstructed.Extension.Encode()
	assert.Equal(t, id, call.OrderID)
	assert.Equal(t, big.NewInt(100_000_000_000_000), call.Amount)
	assert.Equal(t, append(taker.Bytes(), ext...), call.Args)
	assert.Equal(t, uint(1), call.TakerTraits.Bit(251), "receiver flag")
	assert.Equal(t, uint(0), call.TakerTraits.Bit(255), "taking-amount mode")
	extLen := new(big.Int).Rsh(call.TakerTraits, 224)
	extLen.And(extLen, big.NewInt(0xffffff))
	assert.Equal(t, int64(len(ext)), extLen.Int64())

	raw, err := hexutil.Decode(req.Signature)
	require.NoError(t, err)
	compact, err := lop.Compact(raw)
	require.NoError(t, err)
	assert.Equal(t, compact.R, call.R)
	assert.Equal(t, compact.VS, call.VS)
	assert.Equal(t, order.Reconstructed.ContractTuple(), call.Order)
}

// --- poller ---

func TestPoller_RunCycleAutoFill(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()
	notifier := &captureNotifier{}

	id, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)
	h.oracle.set(weth, "1", "0.0000001")

	p := resolver.NewPoller(resolver.PollerConfig{Interval: time.Hour, AutoFill: true, RunOnce: true}, h.svc, notifier)
	require.NoError(t, p.Run(ctx))

	require.Len(t, notifier.reports, 1)
	report := notifier.reports[0]
	assert.Equal(t, 1, report.Total)
	require.Len(t, report.Fillable, 1)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, id, report.Fills[0].OrderID)
	assert.NoError(t, report.Fills[0].Err)

	orders, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPoller_RunCycleReportOnly(t *testing.T) {
	h := newHarness(t, resolver.Config{})
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, makeRequest(t, newKey(t), defaultOpts()))
	require.NoError(t, err)
	h.oracle.set(weth, "1", "0.0000001")

	p := resolver.NewPoller(resolver.PollerConfig{}, h.svc, nil)
	report, err := p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Fillable, 1)
	assert.Empty(t, report.Fills)
	assert.Zero(t, h.submitter.count())
}
