package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubLister struct {
	insts []Instrument
	err   error
}

func (s stubLister) ListInstruments(ctx context.Context) ([]Instrument, error) {
	return s.insts, s.err
}

type stubReference struct {
	values map[string]decimal.Decimal
	err    error
}

func (s stubReference) FetchReference(ctx context.Context, id string) (decimal.Decimal, string, error) {
	if s.err != nil {
		return decimal.Decimal{}, "", s.err
	}
	v, ok := s.values[id]
	if !ok {
		return decimal.Decimal{}, "", ErrNoQuote
	}
	return v, "2026-10-15", nil
}

type stubState string

func (s stubState) FetchState(ctx context.Context, id string) (string, error) {
	return string(s), nil
}

func TestCompositeWatchlistKeepsMissingInstruments(t *testing.T) {
	lister := stubLister{insts: []Instrument{{ID: "160216", Name: "国泰商品"}, {ID: "501018", Name: "南方原油"}}}
	src := NewComposite(SourceOptions{Watchlist: []string{"501018", "999999"}}, lister, stubReference{}, nil, nil, noopLogger())

	insts, err := src.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("listing should succeed: %v", err)
	}
	if len(insts) != 2 || insts[0].ID != "501018" || insts[1].ID != "999999" {
		t.Fatalf("unexpected watchlist result: %+v", insts)
	}
}

func TestCompositeFetchFillsQuote(t *testing.T) {
	ref := stubReference{values: map[string]decimal.Decimal{"160216": decimal.RequireFromString("0.5")}}
	src := NewComposite(SourceOptions{}, stubLister{}, ref, nil, stubState("开放申购"), noopLogger())

	inst := Instrument{ID: "160216", LastPrice: nullDecimal(decimal.RequireFromString("0.55"))}
	quote, err := src.Fetch(context.Background(), inst)
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !quote.MarketPrice.Valid || !quote.ReferenceValue.Valid {
		t.Fatalf("both prices expected: %+v", quote)
	}
	if quote.State != "开放申购" || quote.ReferenceDate != "2026-10-15" {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}
}

func TestCompositeMissingReferenceIsNotAnError(t *testing.T) {
	src := NewComposite(SourceOptions{}, stubLister{}, stubReference{}, nil, nil, noopLogger())

	quote, err := src.Fetch(context.Background(), Instrument{ID: "160216"})
	if err != nil {
		t.Fatalf("missing reference should not fail: %v", err)
	}
	if quote.ReferenceValue.Valid {
		t.Fatal("reference should be absent")
	}
}

func TestCompositeReferenceErrorKeepsPartialQuote(t *testing.T) {
	src := NewComposite(SourceOptions{}, stubLister{}, stubReference{err: errors.New("boom")}, nil, nil, noopLogger())

	inst := Instrument{ID: "160216", LastPrice: nullDecimal(decimal.NewFromInt(1))}
	quote, err := src.Fetch(context.Background(), inst)
	if err == nil {
		t.Fatal("reference failure should be reported")
	}
	if !quote.MarketPrice.Valid {
		t.Fatal("market price should survive a reference failure")
	}
}

func TestCompositeRoutesVaultInstruments(t *testing.T) {
	vault := NewVault(VaultOptions{Vaults: map[string]VaultSpec{"sUSDe": {Address: "0x1", ShareDecimals: 18, AssetDecimals: 18}}}, noopLogger())
	src := NewComposite(SourceOptions{}, stubLister{}, stubReference{}, vault, nil, noopLogger())

	if src.referenceFor("sUSDe") != ReferenceFetcher(vault) {
		t.Fatal("vault instrument should use the vault fetcher")
	}
	if _, err := src.Fetch(context.Background(), Instrument{ID: "sUSDe"}); err == nil {
		t.Fatal("vault without rpc url should fail")
	}
}

func TestVaultMissingConfig(t *testing.T) {
	vault := NewVault(VaultOptions{}, noopLogger())
	if _, _, err := vault.FetchReference(context.Background(), "x"); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("unknown vault should be ErrNoQuote, got %v", err)
	}

	vault = NewVault(VaultOptions{RPCURL: "http://localhost", Vaults: map[string]VaultSpec{"x": {}}}, noopLogger())
	if _, _, err := vault.FetchReference(context.Background(), "x"); err == nil {
		t.Fatal("missing vault address should fail")
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStatic("160216", "国泰商品", decimal.RequireFromString("1.1"), decimal.NewFromInt(1), "")
	insts, _ := src.ListInstruments(context.Background())
	quote, err := src.Fetch(context.Background(), insts[0])
	if err != nil || !quote.MarketPrice.Decimal.Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("unexpected static quote %+v err %v", quote, err)
	}
	if _, err := src.Fetch(context.Background(), Instrument{ID: "other"}); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("unknown instrument should be ErrNoQuote, got %v", err)
	}
}

// fundServer serves NAV JSONP under /js/ and answers fund pages via page.
func fundServer(t *testing.T, page http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/js/") {
			code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/js/"), ".js")
			fmt.Fprintf(w, `jsonpgz({"fundcode":"%s","jzrq":"2026-10-15","dwjz":"1.0000"});`, code)
			return
		}
		page(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompositeStateFailuresKeepReferenceValues(t *testing.T) {
	srv := fundServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// one client for both upstreams is the worst case for breaker sharing
	client := NewClient(ClientOptions{Name: "shared", RequestsPerSec: 1000, Burst: 100, BreakerFailures: 2}, noopLogger())
	nav := NewNAV(NAVOptions{BaseURL: srv.URL}, client, noopLogger())
	state := NewStateScraper(StateOptions{BaseURL: srv.URL}, client, noopLogger())
	src := NewComposite(SourceOptions{}, stubLister{}, nav, nil, state, noopLogger())

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("16%04d", i)
		quote, err := src.Fetch(context.Background(), Instrument{ID: id, LastPrice: nullDecimal(decimal.NewFromInt(1))})
		if err != nil {
			t.Fatalf("instrument %s: fund page failures must not fail the fetch: %v", id, err)
		}
		if !quote.ReferenceValue.Valid || quote.State != "" {
			t.Fatalf("instrument %s: unexpected quote %+v", id, quote)
		}
	}
}

func TestCompositeSlowStateDoesNotDelayReference(t *testing.T) {
	srv := fundServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	nav := NewNAV(NAVOptions{BaseURL: srv.URL}, testClient(), noopLogger())
	state := NewStateScraper(StateOptions{BaseURL: srv.URL}, testClient(), noopLogger())
	src := NewComposite(SourceOptions{StateTimeout: 50 * time.Millisecond}, stubLister{}, nav, nil, state, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	quote, err := src.Fetch(ctx, Instrument{ID: "160216"})
	if err != nil {
		t.Fatalf("slow fund page must not fail the fetch: %v", err)
	}
	if !quote.ReferenceValue.Valid {
		t.Fatal("reference value expected")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("state lookup should be cut at its own timeout, took %s", elapsed)
	}
}
