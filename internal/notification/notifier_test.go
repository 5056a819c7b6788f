package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
)

func TestTradeAlertLevels(t *testing.T) {
	pnl := decimal.NewFromInt(-15)
	stop := model.Trade{Symbol: "INFY", Side: model.SideSell, Qty: 10, Price: decimal.NewFromFloat(10.5), PnL: &pnl, Reason: "STOP_LOSS"}
	a := TradeAlert(stop)
	assert.Equal(t, AlertWarning, a.Level)
	assert.Contains(t, a.Message, "pnl=-15.00")

	buy := model.Trade{Symbol: "INFY", Side: model.SideBuy, Qty: 10, Price: decimal.NewFromInt(12), Reason: model.ReasonSignal}
	assert.Equal(t, AlertInfo, TradeAlert(buy).Level)
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertCritical, Title: "halt", Message: "sink down"})
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", got["level"])
	assert.Equal(t, "halt", got["title"])
	assert.Equal(t, "papertrader", got["source"])
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestTelegramNotifier(t *testing.T) {
	var body struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
		Silent    bool   `json:"disable_notification"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithBaseURL(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Send(ctx, Alert{Level: AlertWarning, Title: "SELL INFY (STOP_LOSS)", Message: "pnl=-1.5 <gap>"}))

	assert.Equal(t, "42", body.ChatID)
	assert.Equal(t, "HTML", body.ParseMode)
	assert.False(t, body.Silent)
	assert.Contains(t, body.Text, "<b>SELL INFY (STOP_LOSS)</b>")
	assert.Contains(t, body.Text, "<code>pnl=-1.5 &lt;gap&gt;</code>")
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{NewLogNotifier(), failing{boom}}.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorIs(t, err, boom)
}
