// Package angel fetches historical candles and last traded prices from the
// Angel One SmartAPI. Logins use a TOTP generated from the account secret.
package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

const defaultRoot = "https://apiconnect.angelone.in"

const (
	routeLogin       = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeCandleData  = "/rest/secure/angelbroking/historical/v1/getCandleData"
	routeLTP         = "/rest/secure/angelbroking/order/v1/getLtpData"
	routeSearchScrip = "/rest/secure/angelbroking/order/v1/searchScrip"
)

var (
	// ErrAuth is returned when login fails or the session token is rejected.
	ErrAuth = errors.New("angel: authentication failed")
	// ErrAPI is returned for status=false responses.
	ErrAPI = errors.New("angel: api error")
)

// Config holds SmartAPI credentials.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
	RootURL    string
	Timeout    time.Duration
}

// Client is a minimal SmartAPI REST client.
type Client struct {
	cfg        Config
	rootURL    string
	httpClient *http.Client
	localIP    string
	mac        string
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
}

// NewClient returns a client; it logs in lazily on the first request.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		cfg:        cfg,
		rootURL:    strings.TrimRight(cfg.RootURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		localIP:    localIP(),
		mac:        macAddress(),
		now:        time.Now,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) headers(h http.Header, token string) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.localIP)
	h.Set("X-ClientPublicIP", c.localIP)
	h.Set("X-MACAddress", c.mac)
	h.Set("X-PrivateKey", c.cfg.APIKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

// post sends params as JSON and decodes the envelope's data into out.
func (c *Client) post(ctx context.Context, route, token string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+route, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.headers(req.Header, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("angel %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("angel %s: read body: %w", route, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s returned %d", ErrAuth, route, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("angel %s: couldn't parse response (status %d): %w", route, resp.StatusCode, err)
	}
	if env.ErrorType == "TokenException" {
		return fmt.Errorf("%w: %s", ErrAuth, env.Message)
	}
	if !env.Status {
		return fmt.Errorf("%w: %s %s %s", ErrAPI, route, env.ErrorCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Login authenticates with client code, password and a fresh TOTP.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return fmt.Errorf("%w: totp: %v", ErrAuth, err)
	}

	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	params := map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}
	if err := c.post(ctx, routeLogin, "", params, &data); err != nil {
		if errors.Is(err, ErrAPI) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return err
	}
	if data.JWTToken == "" {
		return fmt.Errorf("%w: empty jwt token", ErrAuth)
	}

	c.mu.Lock()
	c.accessToken = data.JWTToken
	c.mu.Unlock()
	log.Printf("[angel] logged in as %s", c.cfg.ClientCode)
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.accessToken
	c.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, nil
}

// call runs an authenticated request, logging in again once if the session
// expired.
func (c *Client) call(ctx context.Context, route string, params, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	err = c.post(ctx, route, tok, params, out)
	if !errors.Is(err, ErrAuth) {
		return err
	}

	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
	if tok, err = c.token(ctx); err != nil {
		return err
	}
	return c.post(ctx, route, tok, params, out)
}

// CandleRequest selects historical candles.
type CandleRequest struct {
	Exchange    string
	SymbolToken string
	Interval    string // ONE_MINUTE, FIVE_MINUTE, ONE_DAY, ...
	From, To    time.Time
}

// Candle is one OHLCV row as returned by getCandleData.
type Candle struct {
	TS                     time.Time
	Open, High, Low, Close float64
	Volume                 float64
}

const candleTimeLayout = "2006-01-02 15:04"

// GetCandleData returns historical candles, oldest first.
func (c *Client) GetCandleData(ctx context.Context, r CandleRequest) ([]Candle, error) {
	params := map[string]string{
		"exchange":    r.Exchange,
		"symboltoken": r.SymbolToken,
		"interval":    r.Interval,
		"fromdate":    r.From.Format(candleTimeLayout),
		"todate":      r.To.Format(candleTimeLayout),
	}
	var rows [][]json.RawMessage
	if err := c.call(ctx, routeCandleData, params, &rows); err != nil {
		return nil, err
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("angel: candle %d has %d fields", i, len(row))
		}
		var ts string
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("angel: candle %d timestamp: %w", i, err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("angel: candle %d timestamp: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			if err := json.Unmarshal(row[j+1], &vals[j]); err != nil {
				return nil, fmt.Errorf("angel: candle %d field %d: %w", i, j+1, err)
			}
		}
		out = append(out, Candle{TS: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	return out, nil
}

// LTP returns the last traded price of an instrument.
func (c *Client) LTP(ctx context.Context, exchange, tradingSymbol, symbolToken string) (float64, error) {
	params := map[string]string{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   symbolToken,
	}
	var data struct {
		LTP float64 `json:"ltp"`
	}
	if err := c.call(ctx, routeLTP, params, &data); err != nil {
		return 0, err
	}
	return data.LTP, nil
}

// Scrip is a searchScrip match.
type Scrip struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip looks up instruments matching query on exchange.
func (c *Client) SearchScrip(ctx context.Context, exchange, query string) ([]Scrip, error) {
	var out []Scrip
	params := map[string]string{"exchange": exchange, "searchscrip": query}
	if err := c.call(ctx, routeSearchScrip, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
