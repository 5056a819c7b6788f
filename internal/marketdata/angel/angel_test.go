package angel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "JBSWY3DPEHPK3PXP"

type fakeAPI struct {
	t          *testing.T
	logins     atomic.Int32
	expireOnce atomic.Bool
	lastCandle map[string]string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, data any) {
		json.NewEncoder(w).Encode(map[string]any{"status": true, "message": "SUCCESS", "data": data})
	}
	authed := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("X-PrivateKey") != "key" {
			w.WriteHeader(http.StatusBadRequest)
			return false
		}
		if f.expireOnce.CompareAndSwap(true, false) || r.Header.Get("Authorization") != "Bearer jwt" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{"error_type": "TokenException", "message": "Invalid Token"})
			return false
		}
		return true
	}

	mux.HandleFunc(routeLogin, func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		json.NewDecoder(r.Body).Decode(&p)
		if p["clientcode"] != "C1" || p["password"] != "1234" || !totp.Validate(p["totp"], secret) {
			json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Invalid totp", "errorcode": "AB1050"})
			return
		}
		f.logins.Add(1)
		reply(w, map[string]string{"jwtToken": "jwt", "refreshToken": "r", "feedToken": "f"})
	})
	mux.HandleFunc(routeSearchScrip, func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		reply(w, []Scrip{
			{Exchange: "NSE", TradingSymbol: "INFY-BL", SymbolToken: "999"},
			{Exchange: "NSE", TradingSymbol: "INFY-EQ", SymbolToken: "1594"},
		})
	})
	mux.HandleFunc(routeCandleData, func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		json.NewDecoder(r.Body).Decode(&f.lastCandle)
		reply(w, [][]any{
			{"2024-05-06T09:15:00+05:30", 1500.0, 1510.5, 1495.0, 1505.0, 12000},
			{"2024-05-06T09:20:00+05:30", 1505.0, 1512.0, 1501.0, 1511.25, 8000},
		})
	})
	mux.HandleFunc(routeLTP, func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		reply(w, map[string]any{"exchange": "NSE", "tradingsymbol": "INFY-EQ", "ltp": 1512.4})
	})
	return mux
}

func newTestProvider(t *testing.T, password string) (*Provider, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{t: t}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "key", ClientCode: "C1", Password: password, TOTPSecret: secret, RootURL: srv.URL})
	p := NewProvider(c, "NSE")
	p.now = func() time.Time { return time.Date(2024, 5, 7, 10, 0, 0, 0, time.UTC) }
	return p, api
}

func TestFetchCandles(t *testing.T) {
	p, api := newTestProvider(t, "1234")

	bars, err := p.Fetch(context.Background(), "INFY", "5m", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "INFY", bars[0].Symbol)
	assert.True(t, bars[0].TS.Equal(time.Date(2024, 5, 6, 3, 45, 0, 0, time.UTC)))
	assert.Equal(t, 1511.25, bars[1].Close)
	assert.Equal(t, 8000.0, bars[1].Volume)

	assert.Equal(t, "1594", api.lastCandle["symboltoken"])
	assert.Equal(t, "FIVE_MINUTE", api.lastCandle["interval"])
	assert.Equal(t, "2024-05-05 15:30", api.lastCandle["fromdate"])
	assert.Equal(t, int32(1), api.logins.Load())
}

func TestCurrentPriceReloginsOnExpiredToken(t *testing.T) {
	p, api := newTestProvider(t, "1234")
	ctx := context.Background()

	price, err := p.CurrentPrice(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1512.4, price)

	api.expireOnce.Store(true)
	price, err = p.CurrentPrice(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1512.4, price)
	assert.Equal(t, int32(2), api.logins.Load())
}

func TestLoginFailure(t *testing.T) {
	p, _ := newTestProvider(t, "wrong")
	_, err := p.Fetch(context.Background(), "INFY", "5m", 2)
	assert.True(t, errors.Is(err, ErrAuth), "got %v", err)
}

func TestUnsupportedInterval(t *testing.T) {
	p, api := newTestProvider(t, "1234")
	_, err := p.Fetch(context.Background(), "INFY", "2h", 2)
	assert.Error(t, err)
	assert.Equal(t, int32(0), api.logins.Load())
}
