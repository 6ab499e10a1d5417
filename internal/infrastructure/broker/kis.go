package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davik/stock_day_trader/internal/domain"
)

const DefaultBaseURL = "https://openapi.koreainvestment.com:9443"

// Transaction ids per endpoint and market.
const (
	trDomesticBuy     = "TTTC0802U"
	trDomesticSell    = "TTTC0801U"
	trDomesticCancel  = "TTTC0803U"
	trDomesticBalance = "TTTC8434R"
	trDomesticOpen    = "TTTC8036R"
	trDomesticPrice   = "FHKST01010100"

	trForeignBuy     = "TTTT1002U"
	trForeignSell    = "TTTT1006U"
	trForeignCancel  = "TTTT1004U"
	trForeignBalance = "TTTS3012R"
	trForeignCash    = "TTTS3007R"
	trForeignOpen    = "TTTS3018R"
	trForeignPrice   = "HHDFS00000300"
)

// TokenStore persists the access token between restarts. Token issuance is
// rate limited at the venue, so a fresh token per boot gets the key locked.
type TokenStore interface {
	GetToken(ctx context.Context, key string) (string, time.Time, error)
	SaveToken(ctx context.Context, key, token string, expiresAt time.Time) error
}

type Credentials struct {
	AppKey    string
	AppSecret string
	AccountNo string // "12345678-01" -> CANO + ACNT_PRDT_CD
}

// KISAdapter is the REST gateway to the brokerage OpenAPI.
type KISAdapter struct {
	creds   Credentials
	cano    string
	prdtCd  string
	baseURL string
	client  *http.Client
	tokens  TokenStore
	log     *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewKISAdapter(creds Credentials, baseURL string, timeout time.Duration, tokens TokenStore, log *zap.Logger) *KISAdapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cano, prdtCd := creds.AccountNo, "01"
	if i := strings.Index(creds.AccountNo, "-"); i > 0 {
		cano, prdtCd = creds.AccountNo[:i], creds.AccountNo[i+1:]
	}
	return &KISAdapter{
		creds:   creds,
		cano:    cano,
		prdtCd:  prdtCd,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

// --- Auth ---

func (k *KISAdapter) accessToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.token != "" && time.Now().Before(k.tokenExpiry.Add(-5*time.Minute)) {
		return k.token, nil
	}

	if k.tokens != nil {
		token, expiry, err := k.tokens.GetToken(ctx, k.creds.AppKey)
		if err == nil && token != "" && time.Now().Before(expiry.Add(-5*time.Minute)) {
			k.token, k.tokenExpiry = token, expiry
			return token, nil
		}
	}

	payload, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     k.creds.AppKey,
		"appsecret":  k.creds.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, "POST", k.baseURL+"/oauth2/tokenP", bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token issuance failed: %s", string(body))
	}

	k.token = result.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	if k.tokens != nil {
		if err := k.tokens.SaveToken(ctx, k.creds.AppKey, k.token, k.tokenExpiry); err != nil {
			k.log.Warn("token cache write failed", zap.Error(err))
		}
	}
	k.log.Info("access token issued", zap.Time("expires", k.tokenExpiry))
	return k.token, nil
}

// --- Transport ---

func (k *KISAdapter) sendRequest(ctx context.Context, method, path, trID string, query url.Values, payload any) ([]byte, error) {
	token, err := k.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	u := k.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", k.creds.AppKey)
	req.Header.Set("appsecret", k.creds.AppSecret)
	req.Header.Set("tr_id", trID)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// classifyError maps the venue's response codes onto the failure taxonomy.
// Everything unrecognized is transient.
func classifyError(msgCd, msg string) error {
	switch {
	case msgCd == "APBK0656":
		return domain.NewBrokerError(domain.FailureExchangeMismatch, msgCd, msg)
	case msgCd == "APBK0913", strings.Contains(msg, "주문가능금액"):
		return domain.NewBrokerError(domain.FailureInsufficientFunds, msgCd, msg)
	case strings.Contains(msg, "장운영"), strings.Contains(msg, "휴장"):
		return domain.NewBrokerError(domain.FailureMarketClosed, msgCd, msg)
	default:
		return domain.NewBrokerError(domain.FailureTransient, msgCd, msg)
	}
}

func checkResponse(body []byte) error {
	var head struct {
		RtCd  string `json:"rt_cd"`
		MsgCd string `json:"msg_cd"`
		Msg1  string `json:"msg1"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return err
	}
	if head.RtCd != "0" {
		return classifyError(head.MsgCd, strings.TrimSpace(head.Msg1))
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// --- Balance ---

func (k *KISAdapter) GetBalance(ctx context.Context, market domain.Market) (*domain.Balance, error) {
	if market == domain.MarketDomestic {
		return k.domesticBalance(ctx)
	}
	return k.foreignBalance(ctx)
}

func (k *KISAdapter) domesticBalance(ctx context.Context) (*domain.Balance, error) {
	q := k.accountQuery()
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "00")
	q.Set("OFL_YN", "")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/domestic-stock/v1/trading/inquire-balance", trDomesticBalance, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output2 []struct {
			OrdPsblCash string `json:"ord_psbl_cash"`
			TotEvluAmt  string `json:"tot_evlu_amt"`
		} `json:"output2"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if len(result.Output2) == 0 {
		return nil, fmt.Errorf("balance response missing output2")
	}
	return &domain.Balance{
		Cash:        parseFloat(result.Output2[0].OrdPsblCash),
		TotalEquity: parseFloat(result.Output2[0].TotEvluAmt),
	}, nil
}

func (k *KISAdapter) foreignBalance(ctx context.Context) (*domain.Balance, error) {
	// Orderable USD comes from the psamount endpoint, holdings value from
	// the balance endpoint. Two calls, one Balance.
	q := k.accountQuery()
	q.Set("OVRS_EXCG_CD", "NASD")
	q.Set("OVRS_ORD_UNPR", "0")
	q.Set("ITEM_CD", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/overseas-stock/v1/trading/inquire-psamount", trForeignCash, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}
	var cashResult struct {
		Output struct {
			OrdPsblFrcrAmt string `json:"ord_psbl_frcr_amt"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &cashResult); err != nil {
		return nil, err
	}
	cash := parseFloat(cashResult.Output.OrdPsblFrcrAmt)

	holdings, err := k.GetHoldings(ctx, domain.MarketForeign)
	if err != nil {
		return nil, err
	}
	equity := cash
	for _, h := range holdings {
		equity += float64(h.Quantity) * h.AverageCost
	}
	return &domain.Balance{Cash: cash, TotalEquity: equity}, nil
}

// --- Holdings ---

func (k *KISAdapter) GetHoldings(ctx context.Context, market domain.Market) ([]domain.HoldingSnapshot, error) {
	if market == domain.MarketDomestic {
		return k.domesticHoldings(ctx)
	}
	return k.foreignHoldings(ctx)
}

func (k *KISAdapter) domesticHoldings(ctx context.Context) ([]domain.HoldingSnapshot, error) {
	q := k.accountQuery()
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "00")
	q.Set("OFL_YN", "")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/domestic-stock/v1/trading/inquire-balance", trDomesticBalance, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output1 []struct {
			Pdno        string `json:"pdno"`
			PrdtName    string `json:"prdt_name"`
			HldgQty     string `json:"hldg_qty"`
			PchsAvgPric string `json:"pchs_avg_pric"`
		} `json:"output1"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var holdings []domain.HoldingSnapshot
	for _, h := range result.Output1 {
		holdings = append(holdings, domain.HoldingSnapshot{
			Symbol:      h.Pdno,
			Name:        h.PrdtName,
			Market:      domain.MarketDomestic,
			Quantity:    parseInt(h.HldgQty),
			AverageCost: parseFloat(h.PchsAvgPric),
		})
	}
	return holdings, nil
}

func (k *KISAdapter) foreignHoldings(ctx context.Context) ([]domain.HoldingSnapshot, error) {
	q := k.accountQuery()
	q.Set("OVRS_EXCG_CD", "NASD")
	q.Set("TR_CRCY_CD", "USD")
	q.Set("CTX_AREA_FK200", "")
	q.Set("CTX_AREA_NK200", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/overseas-stock/v1/trading/inquire-balance", trForeignBalance, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output1 []struct {
			OvrsPdno     string `json:"ovrs_pdno"`
			OvrsItemName string `json:"ovrs_item_name"`
			OvrsCblcQty  string `json:"ovrs_cblc_qty"`
			PchsAvgPric  string `json:"pchs_avg_pric"`
			OvrsExcgCd   string `json:"ovrs_excg_cd"`
		} `json:"output1"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var holdings []domain.HoldingSnapshot
	for _, h := range result.Output1 {
		holdings = append(holdings, domain.HoldingSnapshot{
			Symbol:       h.OvrsPdno,
			Name:         h.OvrsItemName,
			Market:       domain.MarketForeign,
			ExchangeCode: h.OvrsExcgCd,
			Quantity:     parseInt(h.OvrsCblcQty),
			AverageCost:  parseFloat(h.PchsAvgPric),
		})
	}
	return holdings, nil
}

// --- Orders ---

func (k *KISAdapter) PlaceOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	if req.Market == domain.MarketDomestic {
		return k.placeDomesticOrder(ctx, req)
	}
	return k.placeForeignOrder(ctx, req)
}

func (k *KISAdapter) placeDomesticOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	trID := trDomesticBuy
	if req.Side == domain.SideSell {
		trID = trDomesticSell
	}
	ordDvsn, unpr := "00", strconv.FormatInt(int64(req.Price), 10)
	if req.Price == 0 {
		ordDvsn, unpr = "01", "0" // market order
	}

	payload := map[string]string{
		"CANO":         k.cano,
		"ACNT_PRDT_CD": k.prdtCd,
		"PDNO":         req.Symbol,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
		"ORD_UNPR":     unpr,
	}
	return k.submitOrder(ctx, "/uapi/domestic-stock/v1/trading/order-cash", trID, payload)
}

func (k *KISAdapter) placeForeignOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderAck, error) {
	trID := trForeignBuy
	if req.Side == domain.SideSell {
		trID = trForeignSell
	}
	payload := map[string]string{
		"CANO":            k.cano,
		"ACNT_PRDT_CD":    k.prdtCd,
		"OVRS_EXCG_CD":    req.ExchangeCode,
		"PDNO":            req.Symbol,
		"ORD_QTY":         strconv.FormatInt(req.Quantity, 10),
		"OVRS_ORD_UNPR":   strconv.FormatFloat(req.Price, 'f', 2, 64),
		"ORD_DVSN":        "00", // the venue requires limit orders
		"ORD_SVR_DVSN_CD": "0",
	}
	return k.submitOrder(ctx, "/uapi/overseas-stock/v1/trading/order", trID, payload)
}

func (k *KISAdapter) submitOrder(ctx context.Context, path, trID string, payload map[string]string) (*domain.OrderAck, error) {
	body, err := k.sendRequest(ctx, "POST", path, trID, nil, payload)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output struct {
			Odno string `json:"ODNO"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &domain.OrderAck{OrderID: result.Output.Odno}, nil
}

func (k *KISAdapter) CancelOrder(ctx context.Context, order *domain.OutstandingOrder) error {
	var path, trID string
	payload := map[string]string{
		"CANO":         k.cano,
		"ACNT_PRDT_CD": k.prdtCd,
	}
	if order.Market == domain.MarketDomestic {
		path, trID = "/uapi/domestic-stock/v1/trading/order-rvsecncl", trDomesticCancel
		payload["KRX_FWDG_ORD_ORGNO"] = ""
		payload["ORGN_ODNO"] = order.OrderID
		payload["ORD_DVSN"] = "00"
		payload["RVSE_CNCL_DVSN_CD"] = "02" // cancel
		payload["ORD_QTY"] = "0"            // all remaining
		payload["ORD_UNPR"] = "0"
		payload["QTY_ALL_ORD_YN"] = "Y"
	} else {
		path, trID = "/uapi/overseas-stock/v1/trading/order-rvsecncl", trForeignCancel
		payload["OVRS_EXCG_CD"] = order.ExchangeCode
		payload["PDNO"] = order.Symbol
		payload["ORGN_ODNO"] = order.OrderID
		payload["RVSE_CNCL_DVSN_CD"] = "02"
		payload["ORD_QTY"] = strconv.FormatInt(order.RemainingQty, 10)
		payload["OVRS_ORD_UNPR"] = "0"
	}

	body, err := k.sendRequest(ctx, "POST", path, trID, nil, payload)
	if err != nil {
		return err
	}
	return checkResponse(body)
}

func (k *KISAdapter) GetOutstandingOrders(ctx context.Context, market domain.Market) ([]domain.OutstandingOrder, error) {
	if market == domain.MarketDomestic {
		return k.domesticOutstanding(ctx)
	}
	return k.foreignOutstanding(ctx)
}

func (k *KISAdapter) domesticOutstanding(ctx context.Context) ([]domain.OutstandingOrder, error) {
	q := k.accountQuery()
	q.Set("INQR_DVSN_1", "1")
	q.Set("INQR_DVSN_2", "0")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/domestic-stock/v1/trading/inquire-psbl-rvsecncl", trDomesticOpen, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output []struct {
			Odno        string `json:"odno"`
			Pdno        string `json:"pdno"`
			PrdtName    string `json:"prdt_name"`
			PsblQty     string `json:"psbl_qty"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var orders []domain.OutstandingOrder
	for _, o := range result.Output {
		orders = append(orders, domain.OutstandingOrder{
			OrderID:      o.Odno,
			Symbol:       o.Pdno,
			Name:         o.PrdtName,
			Market:       domain.MarketDomestic,
			RemainingQty: parseInt(o.PsblQty),
		})
	}
	return orders, nil
}

func (k *KISAdapter) foreignOutstanding(ctx context.Context) ([]domain.OutstandingOrder, error) {
	q := k.accountQuery()
	q.Set("OVRS_EXCG_CD", "NASD")
	q.Set("SORT_SQN", "DS")
	q.Set("CTX_AREA_FK200", "")
	q.Set("CTX_AREA_NK200", "")

	body, err := k.sendRequest(ctx, "GET", "/uapi/overseas-stock/v1/trading/inquire-nccs", trForeignOpen, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output []struct {
			Odno         string `json:"odno"`
			Pdno         string `json:"pdno"`
			PrdtName     string `json:"prdt_name"`
			NccsQty      string `json:"nccs_qty"`
			OvrsExcgCd   string `json:"ovrs_excg_cd"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var orders []domain.OutstandingOrder
	for _, o := range result.Output {
		orders = append(orders, domain.OutstandingOrder{
			OrderID:      o.Odno,
			Symbol:       o.Pdno,
			Name:         o.PrdtName,
			Market:       domain.MarketForeign,
			ExchangeCode: o.OvrsExcgCd,
			RemainingQty: parseInt(o.NccsQty),
		})
	}
	return orders, nil
}

// --- Quotes ---

func (k *KISAdapter) GetRealtimePrice(ctx context.Context, symbol string, market domain.Market, exchangeCode string) (*domain.Quote, error) {
	if market == domain.MarketDomestic {
		return k.domesticPrice(ctx, symbol)
	}
	return k.foreignPrice(ctx, symbol, exchangeCode)
}

func (k *KISAdapter) domesticPrice(ctx context.Context, symbol string) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", symbol)

	body, err := k.sendRequest(ctx, "GET", "/uapi/domestic-stock/v1/quotations/inquire-price", trDomesticPrice, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output struct {
			StckPrpr string `json:"stck_prpr"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	price := parseFloat(result.Output.StckPrpr)
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &domain.Quote{Price: price, Time: time.Now()}, nil
}

func (k *KISAdapter) foreignPrice(ctx context.Context, symbol, exchangeCode string) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("AUTH", "")
	q.Set("EXCD", shortExchangeCode(exchangeCode))
	q.Set("SYMB", symbol)

	body, err := k.sendRequest(ctx, "GET", "/uapi/overseas-price/v1/quotations/price", trForeignPrice, q, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(body); err != nil {
		return nil, err
	}

	var result struct {
		Output struct {
			Last string `json:"last"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	price := parseFloat(result.Output.Last)
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return &domain.Quote{Price: price, Time: time.Now()}, nil
}

// shortExchangeCode maps order-side exchange codes to the three-letter codes
// the quote endpoints use.
func shortExchangeCode(code string) string {
	switch code {
	case "NASD":
		return "NAS"
	case "NYSE":
		return "NYS"
	case "AMEX":
		return "AMS"
	default:
		return code
	}
}

func (k *KISAdapter) accountQuery() url.Values {
	q := url.Values{}
	q.Set("CANO", k.cano)
	q.Set("ACNT_PRDT_CD", k.prdtCd)
	return q
}
