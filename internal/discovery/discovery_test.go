package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/internal/registry"
	"github.com/Checker-Finance/venue-registry/pkg/ident"
	"github.com/Checker-Finance/venue-registry/pkg/model"
)

const feed = `[
	{
		"symbol": "USDC",
		"kind": "token",
		"type": {"token_standard": "ERC20"},
		"source": {"kind": "defi", "name": "ethereum"},
		"decimals": 6,
		"blockchain_address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	},
	{
		"symbol": "AAPL",
		"kind": "stock",
		"type": {"ticker": "AAPL", "exchange": "NASDAQ", "isin": "US0378331005", "market_cap": "2950000000000"},
		"source": {"kind": "tradfi", "name": "refdata"},
		"exchange_symbol": "AAPL.O",
		"metadata": {"sector": "tech"}
	},
	{
		"symbol": "BTC-USDT",
		"kind": "currency",
		"type": {"iso_code": "XBT"},
		"source": {"kind": "cex", "name": "okx"}
	}
]`

func TestJSONParser_Parse(t *testing.T) {
	payloads, err := JSONParser{}.Parse([]byte(feed))
	require.NoError(t, err)
	require.Len(t, payloads, 3)

	assert.Equal(t, model.Token{TokenStandard: "ERC20"}, payloads[0].Type)
	assert.Equal(t, model.DeFi("ethereum"), payloads[0].Source)
	assert.Equal(t, uint8(6), payloads[0].Decimals)

	st, ok := payloads[1].Type.(model.Stock)
	require.True(t, ok)
	assert.Equal(t, "US0378331005", st.ISIN)
	assert.True(t, st.MarketCap.Valid)
	assert.Equal(t, "AAPL.O", payloads[1].ExchangeSymbol)
	assert.Equal(t, "tech", payloads[1].Metadata["sector"])
}

func TestJSONParser_Malformed(t *testing.T) {
	tests := map[string]string{
		"not an array": `{"symbol":"X"}`,
		"unknown kind": `[{"symbol":"X","kind":"bond","source":{"kind":"cex","name":"a"}}]`,
		"bad source":   `[{"symbol":"X","kind":"currency","source":{"kind":"otc"}}]`,
		"bad type":     `[{"symbol":"X","kind":"stock","type":{"ticker":7}}]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := JSONParser{}.Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.json")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))

	src := NewFileSource(path, nil, zap.NewNop())
	payloads, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, payloads, 3)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.json"), nil, zap.NewNop()).Load(context.Background())
	assert.Error(t, err)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, srv.Client(), nil, 2, zap.NewNop())
	src.backoff = func(int) time.Duration { return time.Millisecond }
	payloads, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, payloads, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "http:"+srv.URL, src.Name())
}

func TestHTTPSource_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/garbage":
			_, _ = w.Write([]byte("{"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	newSrc := func(path string) *HTTPSource {
		src := NewHTTPSource(srv.URL+path, srv.Client(), nil, 1, nil)
		src.backoff = func(int) time.Duration { return time.Millisecond }
		return src
	}

	_, err := newSrc("/missing").Load(context.Background())
	assert.ErrorContains(t, err, "returned 404")
	assert.Equal(t, int32(1), calls.Load())

	_, err = newSrc("/garbage").Load(context.Background())
	assert.ErrorContains(t, err, "failed to parse feed")

	calls.Store(0)
	_, err = newSrc("/down").Load(context.Background())
	assert.ErrorContains(t, err, "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newSrc("/down").Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_Ingest(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), zap.NewNop())
	payloads, err := JSONParser{}.Parse([]byte(feed))
	require.NoError(t, err)
	// A payload that cannot become an instrument: tokens need an address.
	payloads = append(payloads, model.InstrumentPayload{Symbol: "NOADDR", Type: model.Token{}, Source: model.CEX("okx")})

	a := NewAdapter(reg, zap.NewNop())
	res, err := a.Ingest(context.Background(), payloads)
	require.NoError(t, err)
	assert.Len(t, res.Registered, 3)
	assert.Zero(t, res.Duplicates)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Index)
	assert.ErrorIs(t, res.Failed[0], model.ErrInvalidInstrument)
	assert.Empty(t, res.Conflicts())

	again, err := a.Ingest(context.Background(), payloads[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, again.Duplicates)
	assert.Empty(t, again.Registered)
	assert.Equal(t, 3, reg.Count())

	usdc, ok := reg.GetByAddress("ethereum", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.True(t, ok)
	assert.Equal(t, "USDC", usdc.Symbol)
}

func constantHash([]byte) [32]byte { return [32]byte{0: 1} }

func TestAdapter_NilLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.json")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))
	reg := registry.New(registry.DefaultConfig(), zap.NewNop())

	a := NewAdapter(reg, nil)
	res, err := a.Run(context.Background(), NewFileSource(path, nil, nil))
	require.NoError(t, err)
	assert.Len(t, res.Registered, 3)

	_, err = a.Run(context.Background(), NewFileSource(filepath.Join(t.TempDir(), "missing.json"), nil, nil))
	assert.Error(t, err)

	// Conflict reporting logs through the defaulted logger.
	colliding := registry.New(registry.DefaultConfig(), zap.NewNop(),
		registry.WithDeriver(ident.Deriver{Width: ident.Width64, Hash: constantHash}))
	payloads, err := JSONParser{}.Parse([]byte(feed))
	require.NoError(t, err)
	res, err = NewAdapter(colliding, nil).Ingest(context.Background(), payloads)
	require.NoError(t, err)
	assert.Len(t, res.Conflicts(), 2)
}

func TestAdapter_ReportsConflicts(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), zap.NewNop(),
		registry.WithDeriver(ident.Deriver{Width: ident.Width64, Hash: constantHash}))
	payloads, err := JSONParser{}.Parse([]byte(feed))
	require.NoError(t, err)

	res, err := NewAdapter(reg, zap.NewNop()).Ingest(context.Background(), payloads)
	require.NoError(t, err)
	assert.Len(t, res.Registered, 1)
	conflicts := res.Conflicts()
	require.Len(t, conflicts, 2)
	assert.ErrorIs(t, conflicts[0], registry.ErrHashCollision)
}

func TestAdapter_ContextCancelled(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAdapter(reg, zap.NewNop()).Ingest(ctx, []model.InstrumentPayload{{Symbol: "X"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reg.Count())
}

// fakeRows serves canned rows through the pgx.Rows interface.
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		if row[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

var payloadTime = time.Unix(1700000000, 0).UTC()

func strPtr(s string) *string { return &s }

func TestReferenceSource_Load(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{rows: [][]any{
		{"AAPL", "stock", []byte(`{"ticker":"AAPL","exchange":"NASDAQ","isin":"US0378331005"}`),
			"tradfi", "refdata", int16(0), nil, strPtr("AAPL.O"), []byte(`{"sector":"tech"}`)},
		{"WETH", "token", []byte(`{"blockchain":"ethereum"}`),
			"defi", "ethereum", int16(18), strPtr("0xC02a"), nil, nil},
	}}}

	payloads, err := NewReferenceSource(q, zap.NewNop()).Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, q.sql, "reference.instruments")
	require.Len(t, payloads, 2)
	assert.Equal(t, "AAPL.O", payloads[0].ExchangeSymbol)
	assert.Equal(t, "tech", payloads[0].Metadata["sector"])
	assert.Equal(t, model.TradFi("refdata"), payloads[0].Source)
	assert.Equal(t, uint8(18), payloads[1].Decimals)
	assert.Equal(t, "0xC02a", payloads[1].BlockchainAddress)

	inst, err := payloads[1].ToInstrument(payloadTime)
	require.NoError(t, err)
	assert.Equal(t, "0xC02a", inst.Type.(model.Token).ContractAddress)
}

func TestReferenceSource_Errors(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewReferenceSource(&fakeQuerier{err: boom}, zap.NewNop()).Load(context.Background())
	assert.ErrorIs(t, err, boom)

	bad := &fakeQuerier{rows: &fakeRows{rows: [][]any{
		{"X", "stock", []byte(`{}`), "otc", "", int16(0), nil, nil, nil},
	}}}
	_, err = NewReferenceSource(bad, zap.NewNop()).Load(context.Background())
	assert.ErrorIs(t, err, ErrMalformedPayload)

	iter := &fakeQuerier{rows: &fakeRows{err: boom}}
	_, err = NewReferenceSource(iter, zap.NewNop()).Load(context.Background())
	assert.ErrorIs(t, err, boom)
}
