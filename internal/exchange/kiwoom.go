package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kiwoomapp/internal/types"
)

// Kiwoom REST api-id values
const (
	apiBuy        = "kt10000"
	apiSell       = "kt10001"
	apiCancel     = "kt10003"
	apiHoldings   = "kt00018"
	apiOpenOrders = "ka10075"
	apiStockInfo  = "ka10001"
	apiMinuteBars = "ka10080"
	apiDailyBars  = "ka10081"

	pathOrder   = "/api/dostk/ordr"
	pathAccount = "/api/dostk/acnt"
	pathChart   = "/api/dostk/chart"
	pathInfo    = "/api/dostk/stkinfo"
)

// KiwoomClient talks to the Kiwoom REST API for one account
type KiwoomClient struct {
	baseURL string
	account string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewKiwoomClient creates a client for account using a pre-issued access token
func NewKiwoomClient(baseURL, account, token string, logger *slog.Logger) *KiwoomClient {
	return &KiwoomClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		account: account,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// envelope carries the fields every response has
type envelope struct {
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

// post sends one API call and decodes the body into out. Business
// rejections come back as *BrokerError.
func (k *KiwoomClient) post(ctx context.Context, path, apiID string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", apiID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", apiID, err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("authorization", "Bearer "+k.token)
	req.Header.Set("api-id", apiID)
	req.Header.Set("cont-yn", "N")

	requestID := uuid.NewString()
	start := time.Now()
	resp, err := k.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", apiID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", apiID, err)
	}

	k.logger.Debug("[KIWOOM] Response",
		"request_id", requestID,
		"account", k.account,
		"api_id", apiID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d: %s", apiID, resp.StatusCode, truncate(string(raw), 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", apiID, err)
	}
	if err := DecodeReturn(env.ReturnCode, env.ReturnMsg); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to parse %s body: %w", apiID, err)
		}
	}
	return nil
}

// PlaceOrder submits a limit order
func (k *KiwoomClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	apiID := apiBuy
	if req.Side == types.SideSell {
		apiID = apiSell
	}

	body := map[string]string{
		"dmst_stex_tp": string(req.Venue),
		"stk_cd":       req.Symbol,
		"ord_qty":      strconv.FormatInt(req.Qty, 10),
		"ord_uv":       strconv.FormatInt(int64(math.Round(req.Price)), 10),
		"trde_tp":      "0", // limit
		"cond_uv":      "",
	}

	var resp struct {
		envelope
		OrdNo string `json:"ord_no"`
	}
	if err := k.post(ctx, pathOrder, apiID, body, &resp); err != nil {
		k.logger.Error("[KIWOOM] Order failed",
			"account", k.account,
			"symbol", req.Symbol,
			"side", req.Side,
			"venue", req.Venue,
			"error", err,
		)
		return nil, err
	}

	k.logger.Info("[KIWOOM] Order placed",
		"account", k.account,
		"order_id", resp.OrdNo,
		"symbol", req.Symbol,
		"side", req.Side,
		"venue", req.Venue,
		"qty", req.Qty,
		"price", req.Price,
	)

	return &OrderResult{
		OrderID: resp.OrdNo,
		Code:    strconv.Itoa(resp.ReturnCode),
		Message: resp.ReturnMsg,
	}, nil
}

// CancelOrder cancels a resting order
func (k *KiwoomClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	body := map[string]string{
		"dmst_stex_tp": string(req.Venue),
		"orig_ord_no":  req.OrderID,
		"stk_cd":       req.Symbol,
		"cncl_qty":     strconv.FormatInt(req.Qty, 10),
	}
	if err := k.post(ctx, pathOrder, apiCancel, body, nil); err != nil {
		return fmt.Errorf("cancel %s: %w", req.OrderID, err)
	}
	k.logger.Info("[KIWOOM] Order cancelled",
		"account", k.account,
		"order_id", req.OrderID,
		"symbol", req.Symbol,
		"venue", req.Venue,
	)
	return nil
}

// Holdings returns the account evaluation rows
func (k *KiwoomClient) Holdings(ctx context.Context) ([]types.Holding, error) {
	var resp struct {
		Rows []struct {
			StkCd       string `json:"stk_cd"`
			StkNm       string `json:"stk_nm"`
			RmndQty     string `json:"rmnd_qty"`
			TrdeAbleQty string `json:"trde_able_qty"`
			PurPric     string `json:"pur_pric"`
			CurPrc      string `json:"cur_prc"`
			PrftRt      string `json:"prft_rt"`
		} `json:"acnt_evlt_remn_indv_tot"`
	}
	body := map[string]string{"qry_tp": "1", "dmst_stex_tp": "KRX"}
	if err := k.post(ctx, pathAccount, apiHoldings, body, &resp); err != nil {
		return nil, err
	}

	holdings := make([]types.Holding, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		holdings = append(holdings, types.Holding{
			Code:          r.StkCd,
			Name:          strings.TrimSpace(r.StkNm),
			HeldQty:       parseQty(r.RmndQty),
			TradableQty:   parseQty(r.TrdeAbleQty),
			PurchasePrice: parsePrice(r.PurPric),
			CurrentPrice:  parsePrice(r.CurPrc),
			ProfitRate:    parseSigned(r.PrftRt),
		})
	}
	return holdings, nil
}

// OpenOrders returns unexecuted orders on both venues
func (k *KiwoomClient) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	var resp struct {
		Rows []struct {
			StkCd   string `json:"stk_cd"`
			OrdNo   string `json:"ord_no"`
			IoTpNm  string `json:"io_tp_nm"`
			OrdQty  string `json:"ord_qty"`
			OrdPric string `json:"ord_pric"`
			OsoQty  string `json:"oso_qty"`
			CurPrc  string `json:"cur_prc"`
			Tm      string `json:"tm"`
			StexTp  string `json:"stex_tp"`
		} `json:"oso"`
	}
	body := map[string]string{"all_stk_tp": "0", "trde_tp": "0", "stk_cd": "", "stex_tp": "0"}
	if err := k.post(ctx, pathAccount, apiOpenOrders, body, &resp); err != nil {
		return nil, err
	}

	orders := make([]types.OpenOrder, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		qty := parseQty(r.OsoQty)
		if qty == 0 {
			qty = parseQty(r.OrdQty)
		}
		orders = append(orders, types.OpenOrder{
			Code:         r.StkCd,
			Side:         parseSide(r.IoTpNm),
			Qty:          qty,
			LimitPrice:   parsePrice(r.OrdPric),
			CurrentPrice: parsePrice(r.CurPrc),
			Venue:        parseVenue(r.StexTp),
			OrderID:      strings.TrimSpace(r.OrdNo),
			Time:         r.Tm,
		})
	}
	return orders, nil
}

// DailyBars returns daily candles up to asOf, oldest first
func (k *KiwoomClient) DailyBars(ctx context.Context, symbol string, asOf time.Time) ([]types.Bar, error) {
	var resp struct {
		Rows []struct {
			Dt        string `json:"dt"`
			OpenPric  string `json:"open_pric"`
			HighPric  string `json:"high_pric"`
			LowPric   string `json:"low_pric"`
			CurPrc    string `json:"cur_prc"`
			TrdeQty   string `json:"trde_qty"`
			TrdePrica string `json:"trde_prica"`
		} `json:"stk_dt_pole_chart_qry"`
	}
	body := map[string]string{
		"stk_cd":       symbol,
		"base_dt":      asOf.In(types.KST).Format("20060102"),
		"upd_stkpc_tp": "1",
	}
	if err := k.post(ctx, pathChart, apiDailyBars, body, &resp); err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(resp.Rows))
	for i := len(resp.Rows) - 1; i >= 0; i-- {
		r := resp.Rows[i]
		t, err := time.ParseInLocation("20060102", r.Dt, types.KST)
		if err != nil {
			continue
		}
		bars = append(bars, types.Bar{
			Time:   t,
			Open:   parsePrice(r.OpenPric),
			High:   parsePrice(r.HighPric),
			Low:    parsePrice(r.LowPric),
			Close:  parsePrice(r.CurPrc),
			Volume: float64(parseQty(r.TrdeQty)),
			Value:  parsePrice(r.TrdePrica),
		})
	}
	return bars, nil
}

// MinuteBars returns one-minute candles, oldest first
func (k *KiwoomClient) MinuteBars(ctx context.Context, symbol string) ([]types.Bar, error) {
	var resp struct {
		Rows []struct {
			CntrTm   string `json:"cntr_tm"`
			OpenPric string `json:"open_pric"`
			HighPric string `json:"high_pric"`
			LowPric  string `json:"low_pric"`
			CurPrc   string `json:"cur_prc"`
			TrdeQty  string `json:"trde_qty"`
		} `json:"stk_min_pole_chart_qry"`
	}
	body := map[string]string{"stk_cd": symbol, "tic_scope": "1", "upd_stkpc_tp": "1"}
	if err := k.post(ctx, pathChart, apiMinuteBars, body, &resp); err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(resp.Rows))
	for i := len(resp.Rows) - 1; i >= 0; i-- {
		r := resp.Rows[i]
		t, err := time.ParseInLocation("20060102150405", r.CntrTm, types.KST)
		if err != nil {
			continue
		}
		bars = append(bars, types.Bar{
			Time:   t,
			Open:   parsePrice(r.OpenPric),
			High:   parsePrice(r.HighPric),
			Low:    parsePrice(r.LowPric),
			Close:  parsePrice(r.CurPrc),
			Volume: float64(parseQty(r.TrdeQty)),
		})
	}
	return bars, nil
}

type stockInfo struct {
	UplPric string `json:"upl_pric"`
	CurPrc  string `json:"cur_prc"`
}

func (k *KiwoomClient) stockInfo(ctx context.Context, symbol string) (stockInfo, error) {
	var resp stockInfo
	err := k.post(ctx, pathInfo, apiStockInfo, map[string]string{"stk_cd": symbol}, &resp)
	return resp, err
}

// UpperLimit returns the symbol's daily price ceiling
func (k *KiwoomClient) UpperLimit(ctx context.Context, symbol string) (float64, error) {
	info, err := k.stockInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p := parsePrice(info.UplPric)
	if p == 0 {
		return 0, ErrNotFound
	}
	return p, nil
}

// CurrentPrice returns the last traded price
func (k *KiwoomClient) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	info, err := k.stockInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p := parsePrice(info.CurPrc)
	if p == 0 {
		return 0, ErrNotFound
	}
	return p, nil
}

// Close releases idle connections
func (k *KiwoomClient) Close() error {
	k.http.CloseIdleConnections()
	return nil
}

// parseSigned reads numbers like "+000123", "-12300" or "1.25"; garbage is 0
func parseSigned(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

// parsePrice drops the direction sign the broker prefixes on prices
func parsePrice(s string) float64 {
	return math.Abs(parseSigned(s))
}

func parseQty(s string) int64 {
	return int64(parsePrice(s))
}

func parseSide(s string) types.Side {
	if strings.Contains(s, "매도") || strings.HasPrefix(strings.TrimSpace(s), "-") {
		return types.SideSell
	}
	return types.SideBuy
}

func parseVenue(s string) types.Venue {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "2" || strings.Contains(s, "NXT") {
		return types.VenueNXT
	}
	return types.VenueKRX
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
