package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradebotlab/crypto-bot-engine/internal/enginerr"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

const (
	mainnetBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	component = "exchange"
)

// BinanceClient places signed spot orders against Binance. Requests carry an
// HMAC-SHA256 signature over the query string and the API key header; the
// recvWindow guards against clock skew.
type BinanceClient struct {
	http       *resty.Client
	apiKey     string
	secret     string
	recvWindow int64
}

func NewBinanceClient(apiKey, secret string, testnet bool, timeout time.Duration) *BinanceClient {
	baseURL := mainnetBaseURL
	if testnet {
		baseURL = testnetBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("X-MBX-APIKEY", apiKey)

	return &BinanceClient{
		http:       http,
		apiKey:     apiKey,
		secret:     secret,
		recvWindow: 5000,
	}
}

// sign appends timestamp, recvWindow, and the HMAC signature to params.
func (c *BinanceClient) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	payload := params.Encode()

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(payload))
	return payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

type binanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Fills         []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

// ExecuteOrder places a market or limit order and maps the response to the
// engine's order row. Exchange rejections come back as ExchangeRejection and
// are recorded on the order with status error by the caller.
func (c *BinanceClient) ExecuteOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("newClientOrderId", uuid.NewString())
	switch req.Side {
	case SideBuy:
		params.Set("side", "BUY")
	case SideSell:
		params.Set("side", "SELL")
	default:
		return nil, enginerr.New(enginerr.KindExchangeRejection, component, "execute_order", "unknown side %q", req.Side)
	}
	switch req.Type {
	case OrderMarket:
		params.Set("type", "MARKET")
	case OrderLimit:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.LimitPrice.String())
	default:
		return nil, enginerr.New(enginerr.KindExchangeRejection, component, "execute_order", "unknown order type %q", req.Type)
	}
	params.Set("quantity", req.Qty.String())

	var body binanceOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.sign(params)).
		SetResult(&body).
		Post("/api/v3/order")
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "execute_order")
	}
	if resp.IsError() {
		return nil, enginerr.New(enginerr.KindExchangeRejection, component, "execute_order",
			"order %s %s %s rejected: status %d: %s", req.Side, req.Qty, req.Symbol, resp.StatusCode(), resp.String())
	}

	order := &Order{
		ID:         strconv.FormatInt(body.OrderID, 10),
		BotID:      req.BotID,
		RunID:      req.RunID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty,
		LimitPrice: req.LimitPrice,
		CreatedAt:  time.Now().UTC(),
	}

	switch body.Status {
	case "FILLED":
		fillPrice, fees, err := aggregateFills(body)
		if err != nil {
			return nil, enginerr.Wrap(err, enginerr.KindExchangeRejection, component, "execute_order")
		}
		now := time.Now().UTC()
		order.Status = StatusFilled
		order.FillPrice = fillPrice
		order.Fees = fees
		order.FilledAt = &now
	case "NEW", "PARTIALLY_FILLED":
		order.Status = StatusPending
	default:
		order.Status = StatusError
	}
	return order, nil
}

// aggregateFills collapses the fill list into a volume-weighted price and a
// fee total.
func aggregateFills(body binanceOrderResponse) (decimal.Decimal, decimal.Decimal, error) {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	totalFees := decimal.Zero
	for _, f := range body.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("fill price %q: %w", f.Price, err)
		}
		qty, err := decimal.NewFromString(f.Qty)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("fill qty %q: %w", f.Qty, err)
		}
		fee, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("fill commission %q: %w", f.Commission, err)
		}
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(price.Mul(qty))
		totalFees = totalFees.Add(fee)
	}
	if totalQty.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("filled order has no fills")
	}
	return totalCost.Div(totalQty), totalFees, nil
}

// CancelOrder cancels a working order. Binance requires the symbol alongside
// the exchange order ID on the cancel endpoint.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(c.sign(params)).
		Delete("/api/v3/order")
	if err != nil {
		return enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "cancel_order")
	}
	if resp.IsError() {
		return enginerr.New(enginerr.KindExchangeRejection, component, "cancel_order",
			"cancel %s %s: status %d: %s", symbol, orderID, resp.StatusCode(), resp.String())
	}
	return nil
}

// AccountBalance fetches the spot account balances.
func (c *BinanceClient) AccountBalance(ctx context.Context) (map[string]types.Balance, error) {
	var body struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(c.sign(url.Values{})).
		SetResult(&body).
		Get("/api/v3/account")
	if err != nil {
		return nil, enginerr.Wrap(err, enginerr.KindTransientNetwork, component, "account_balance")
	}
	if resp.IsError() {
		return nil, enginerr.New(enginerr.KindExchangeRejection, component, "account_balance",
			"account: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make(map[string]types.Balance, len(body.Balances))
	for _, b := range body.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		out[b.Asset] = types.Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return out, nil
}
