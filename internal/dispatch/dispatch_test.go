package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/metis-devops/token-dispenser/internal/amount"
	"github.com/metis-devops/token-dispenser/internal/chain"
	"github.com/metis-devops/token-dispenser/internal/quota"
	"github.com/metis-devops/token-dispenser/internal/wallet"
)

type sent struct {
	kind  string
	to    common.Address
	value *big.Int
}

type fakeChain struct {
	token      *chain.TokenInfo
	held       *big.Int
	balanceErr error

	sendErr  map[int]error // by call index
	waitErr  map[int]error
	calls    int
	sent     []sent
	balances int
}

func (f *fakeChain) Contract() (chain.TokenInfo, bool) {
	if f.token == nil {
		return chain.TokenInfo{}, false
	}
	return *f.token, true
}

func (f *fakeChain) ContractBalance(context.Context) (*big.Int, error) {
	f.balances++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.held, nil
}

func (f *fakeChain) submit(kind string, to common.Address, value *big.Int) (*types.Transaction, error) {
	i := f.calls
	f.calls++
	if err := f.sendErr[i]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sent{kind: kind, to: to, value: value})
	return types.NewTx(&types.LegacyTx{Nonce: uint64(i), To: &to, Value: value}), nil
}

func (f *fakeChain) SendFromOperator(_ context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	return f.submit("operator", to, value)
}

func (f *fakeChain) SendFromContract(_ context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	return f.submit("contract", to, value)
}

func (f *fakeChain) TransferToken(_ context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	return f.submit("token", to, value)
}

func (f *fakeChain) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := f.waitErr[int(tx.Nonce())]; err != nil {
		return nil, err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

func (f *fakeChain) TxURL(hash common.Hash) string { return hash.Hex() }

type harness struct {
	chain   *fakeChain
	ledger  *wallet.MemoryRepository
	quota   *quota.MemoryRepository
	tracker *quota.Tracker
	sleeps  []time.Duration
	d       *Dispatcher
}

func newHarness(c *fakeChain, limit int) *harness {
	h := &harness{
		chain:  c,
		ledger: wallet.NewMemoryRepository(),
		quota:  quota.NewMemoryRepository(),
	}
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	h.tracker = quota.NewTracker(h.quota, limit).WithClock(func() time.Time { return now })
	h.d = New(c, wallet.NewStore(h.ledger), h.tracker)
	h.d.Rand = rand.New(rand.NewSource(7))
	h.d.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) count(t *testing.T) int {
	rec, err := h.tracker.Read()
	require.NoError(t, err)
	return rec.Count
}

func requireWithin(t *testing.T, sleeps []time.Duration, lo, hi time.Duration) {
	for _, s := range sleeps {
		require.GreaterOrEqual(t, s, lo)
		require.LessOrEqual(t, s, hi)
	}
}

func TestSendNativeQuotaExceeded(t *testing.T) {
	h := newHarness(&fakeChain{}, 10000)
	require.NoError(t, h.quota.Save(quota.Record{Date: "2026-10-14", Count: 9999}))

	_, err := h.d.SendNative(context.Background(), 5)
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	require.Equal(t, 9999, h.count(t))
	require.Zero(t, h.chain.calls)

	stored, _ := h.ledger.Load()
	require.Empty(t, stored)
}

func TestSendNativeInvalidCount(t *testing.T) {
	h := newHarness(&fakeChain{}, 10)
	for _, n := range []int{0, -3} {
		_, err := h.d.SendNative(context.Background(), n)
		require.ErrorIs(t, err, ErrInvalidCount)
	}
}

func TestSendNativeFallsBackToOperator(t *testing.T) {
	c := &fakeChain{
		token: &chain.TokenInfo{Symbol: "TST", Decimals: 18},
		held:  big.NewInt(1000),
	}
	h := newHarness(c, 10000)

	summary, err := h.d.SendNative(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Requested)
	require.Equal(t, 3, summary.Confirmed)
	require.Equal(t, 3, c.balances)
	for _, s := range c.sent {
		require.Equal(t, "operator", s.kind)
	}
	for _, a := range summary.Attempts {
		require.Equal(t, SourceOperator, a.Source)
		require.Equal(t, Confirmed, a.State)
	}
	require.Equal(t, 3, h.count(t))

	require.Len(t, h.sleeps, 2)
	requireWithin(t, h.sleeps, 15*time.Second, 60*time.Second)

	stored, _ := h.ledger.Load()
	require.Len(t, stored, 3)
	got := map[common.Address]bool{}
	for _, s := range c.sent {
		got[s.to] = true
	}
	for _, w := range stored {
		require.True(t, got[w.Account()], "recipient %s not paid", w.Address)
	}
}

func TestSendNativeFromContract(t *testing.T) {
	c := &fakeChain{
		token: &chain.TokenInfo{Symbol: "TST", Decimals: 18},
		held:  new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
	}
	h := newHarness(c, 10000)

	summary, err := h.d.SendNative(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Confirmed)
	for _, s := range c.sent {
		require.Equal(t, "contract", s.kind)
	}
}

func TestSendNativeWithoutContract(t *testing.T) {
	c := &fakeChain{}
	h := newHarness(c, 10000)

	_, err := h.d.SendNative(context.Background(), 4)
	require.NoError(t, err)
	require.Zero(t, c.balances)

	lo, _ := amount.ParseBaseUnits("0.001", 18)
	hi, _ := amount.ParseBaseUnits("0.0025", 18)
	step := big.NewInt(1_000_000_000_000) // 1e-6 native
	for _, s := range c.sent {
		require.Equal(t, "operator", s.kind)
		require.True(t, s.value.Cmp(lo) >= 0 && s.value.Cmp(hi) <= 0, s.value.String())
		require.Zero(t, new(big.Int).Mod(s.value, step).Sign(), s.value.String())
	}
}

func TestSendNativeBalanceErrorUsesOperator(t *testing.T) {
	c := &fakeChain{
		token:      &chain.TokenInfo{Symbol: "TST", Decimals: 18},
		balanceErr: errors.New("rpc down"),
	}
	h := newHarness(c, 10000)

	_, err := h.d.SendNative(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "operator", c.sent[0].kind)
	require.Empty(t, h.sleeps)
}

func TestSendNativeContinuesAfterFailures(t *testing.T) {
	c := &fakeChain{
		sendErr: map[int]error{1: errors.New("nonce too low")},
		waitErr: map[int]error{2: chain.ErrReverted},
	}
	h := newHarness(c, 10000)

	summary, err := h.d.SendNative(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Requested)
	require.Equal(t, 2, summary.Confirmed)
	require.Equal(t, 2, summary.Failed())
	require.Equal(t, 2, h.count(t))

	require.Equal(t, Confirmed, summary.Attempts[0].State)
	require.Equal(t, Failed, summary.Attempts[1].State)
	require.Equal(t, common.Hash{}, summary.Attempts[1].Tx)
	require.Equal(t, Failed, summary.Attempts[2].State)
	require.NotEqual(t, common.Hash{}, summary.Attempts[2].Tx)
	require.ErrorIs(t, summary.Attempts[2].Err, chain.ErrReverted)
	require.Equal(t, Confirmed, summary.Attempts[3].State)
	require.Len(t, h.sleeps, 3)
}

func TestSendNativeCancelledDuringPause(t *testing.T) {
	c := &fakeChain{}
	h := newHarness(c, 10000)
	ctx, cancel := context.WithCancel(context.Background())
	h.d.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	summary, err := h.d.SendNative(ctx, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.Confirmed)
	require.Equal(t, 1, h.count(t))
}

func TestSendTokenRequiresContract(t *testing.T) {
	h := newHarness(&fakeChain{}, 10000)
	_, err := h.d.SendToken(context.Background(), "TST", 1, "1")
	require.ErrorIs(t, err, ErrNoContractDeployed)
}

func TestSendTokenSymbolMismatch(t *testing.T) {
	c := &fakeChain{token: &chain.TokenInfo{Symbol: "TST", Decimals: 18}}
	h := newHarness(c, 10000)

	for _, symbol := range []string{"tst", "TST ", "TSTX", ""} {
		_, err := h.d.SendToken(context.Background(), symbol, 1, "1")
		require.ErrorIs(t, err, ErrSymbolMismatch, symbol)
	}
	require.Zero(t, c.calls)
	require.Zero(t, h.count(t))
}

func TestSendTokenValidation(t *testing.T) {
	c := &fakeChain{token: &chain.TokenInfo{Symbol: "TST", Decimals: 2}}
	h := newHarness(c, 10000)

	_, err := h.d.SendToken(context.Background(), "TST", 1, "abc")
	require.ErrorIs(t, err, amount.ErrInvalidAmount)
	_, err = h.d.SendToken(context.Background(), "TST", 1, "0.001")
	require.ErrorIs(t, err, amount.ErrInvalidAmount)
	_, err = h.d.SendToken(context.Background(), "TST", 0, "1")
	require.ErrorIs(t, err, ErrInvalidCount)

	require.NoError(t, h.quota.Save(quota.Record{Date: "2026-10-14", Count: 9998}))
	_, err = h.d.SendToken(context.Background(), "TST", 3, "1")
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	require.Zero(t, c.calls)
}

func TestSendToken(t *testing.T) {
	c := &fakeChain{token: &chain.TokenInfo{Symbol: "TST", Decimals: 18}}
	h := newHarness(c, 10000)

	summary, err := h.d.SendToken(context.Background(), "TST", 5, "2.5")
	require.NoError(t, err)
	require.Equal(t, 5, summary.Confirmed)
	require.Equal(t, 5, h.count(t))

	want, _ := new(big.Int).SetString("2500000000000000000", 10)
	for _, s := range c.sent {
		require.Equal(t, "token", s.kind)
		require.Equal(t, 0, want.Cmp(s.value))
	}
	require.Len(t, h.sleeps, 4)
	requireWithin(t, h.sleeps, 10*time.Second, 80*time.Second)
}

func TestDelayRangeDraw(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	r := DelayRange{Min: time.Second, Max: 2 * time.Second}
	for i := 0; i < 500; i++ {
		d := r.draw(rng)
		require.GreaterOrEqual(t, d, r.Min)
		require.LessOrEqual(t, d, r.Max)
	}
	require.Equal(t, time.Second, DelayRange{Min: time.Second}.draw(rng))
}

type brokenLedger struct{}

func (brokenLedger) Load() ([]wallet.Wallet, error) { return nil, wallet.ErrCorruptLedger }

func (brokenLedger) Append(wallet.Wallet) error { return nil }

func TestCorruptLedgerIsLoggedAndFatal(t *testing.T) {
	logs := new(bytes.Buffer)
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(&fakeChain{}, 10)
	h.d.wallets = wallet.NewStore(brokenLedger{})

	_, err := h.d.SendNative(context.Background(), 2)
	require.ErrorIs(t, err, wallet.ErrCorruptLedger)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "Failed to read wallet ledger")
	require.Empty(t, h.chain.sent)
}
