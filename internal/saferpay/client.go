package saferpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/metrics"
)

// Client is the stateless HTTP client for the Saferpay JSON API. It owns no
// retry policy; wrap it in a RetryClient for that.
type Client struct {
	baseURL    string
	customerID string
	terminalID string
	codec      *Codec
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.SaferpayConfig, codec *Codec, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.APIURL, "/"),
		customerID: cfg.CustomerID,
		terminalID: cfg.TerminalID,
		codec:      codec,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
		logger: logger,
	}
}

func (c *Client) header(requestID string, retryIndicator int) RequestHeader {
	return RequestHeader{
		SpecVersion:    SpecVersion,
		CustomerId:     c.customerID,
		RequestId:      requestID,
		RetryIndicator: retryIndicator,
	}
}

// Initialize starts a hosted payment page session and returns the redirect
// URL together with the session token.
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	req := initializeRequest{
		RequestHeader: c.header(params.RequestID, params.RetryIndicator),
		TerminalId:    c.terminalID,
		Payment: Payment{
			Amount: Amount{
				Value:        params.Amount.Value(),
				CurrencyCode: params.Amount.Currency,
			},
			OrderId:     params.OrderRef,
			Description: params.Description,
		},
		ReturnUrls: ReturnUrlsSpec{
			Success: params.URLs.Success,
			Fail:    params.URLs.Fail,
			Abort:   params.URLs.Abort,
		},
	}
	if params.URLs.Notify != "" {
		req.Notification = &NotificationSpec{NotifyUrl: params.URLs.Notify}
	}

	resp, err := sendRequest[initializeRequest, initializeResponse](c, ctx, endpointInitialize, &req)
	if err != nil {
		return nil, err
	}

	if resp.Token == "" || resp.RedirectUrl == "" {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			Message:    "initialize response missing Token or RedirectUrl",
		}
	}

	c.logger.Info("saferpay session initialized",
		"order_ref", params.OrderRef,
		"token", resp.Token,
	)

	return &InitializeResult{
		Token:       resp.Token,
		RedirectURL: resp.RedirectUrl,
	}, nil
}

// AssertAndCapture confirms a hosted payment page session server-side and
// converts the authorization into a settled payment. The browser redirect is
// never trusted as proof of payment; only this call is.
func (c *Client) AssertAndCapture(ctx context.Context, params AssertParams) (*AssertResult, error) {
	assertReq := assertRequest{
		RequestHeader: c.header(params.RequestID, params.RetryIndicator),
		Token:         params.Token,
	}

	assertResp, err := sendRequest[assertRequest, assertResponse](c, ctx, endpointAssert, &assertReq)
	if err != nil {
		if IsDecline(err) {
			return declinedResult(err), nil
		}
		return nil, err
	}

	tx := assertResp.Transaction
	amount, _ := parseWireAmount(tx.Amount)
	result := &AssertResult{
		TransactionID: tx.Id,
		Amount:        amount,
		CardMasked:    assertResp.PaymentMeans.Card.MaskedNumber,
		CardBrand:     assertResp.PaymentMeans.Brand.PaymentMethod,
		RawStatus:     tx.Status,
	}

	switch tx.Status {
	case "CAPTURED":
		result.Status = CaptureCaptured
		return result, nil
	case "AUTHORIZED":
		// fall through to capture below
	case "PENDING":
		result.Status = CapturePending
		return result, nil
	default:
		result.Status = CaptureFailed
		return result, nil
	}

	captureReq := captureRequest{
		RequestHeader:        c.header(params.RequestID, params.RetryIndicator),
		TransactionReference: transactionReference{TransactionId: tx.Id},
	}

	captureResp, err := sendRequest[captureRequest, captureResponse](c, ctx, endpointCapture, &captureReq)
	if err != nil {
		if IsDecline(err) {
			return declinedResult(err), nil
		}
		return nil, err
	}

	result.CaptureID = captureResp.CaptureId
	result.RawStatus = captureResp.Status
	switch captureResp.Status {
	case "CAPTURED":
		result.Status = CaptureCaptured
	case "PENDING":
		result.Status = CapturePending
	default:
		result.Status = CaptureFailed
	}
	return result, nil
}

// Refund issues a partial or full refund against a captured payment. The
// caller tracks the remaining refundable amount.
func (c *Client) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	req := refundRequest{
		RequestHeader: c.header(params.RequestID, params.RetryIndicator),
		Refund: refundSpec{
			Amount: Amount{
				Value:        params.Amount.Value(),
				CurrencyCode: params.Amount.Currency,
			},
		},
		CaptureReference: captureReference{CaptureId: params.CaptureID},
	}

	resp, err := sendRequest[refundRequest, refundResponse](c, ctx, endpointRefund, &req)
	if err != nil {
		if IsDecline(err) {
			apiErr, _ := IsAPIError(err)
			return &RefundResult{Status: RefundFailed, RawStatus: apiErr.ErrorName}, nil
		}
		return nil, err
	}

	result := &RefundResult{RawStatus: resp.Transaction.Status}
	switch resp.Transaction.Status {
	case "CAPTURED", "AUTHORIZED":
		// A refund transaction is itself authorized/captured on success.
		result.Status = RefundRefunded
	default:
		result.Status = RefundFailed
	}
	return result, nil
}

func declinedResult(err error) *AssertResult {
	apiErr, _ := IsAPIError(err)
	return &AssertResult{
		Status:    CaptureFailed,
		RawStatus: apiErr.ErrorName,
	}
}

func parseWireAmount(a Amount) (domain.Money, error) {
	var cents int64
	if _, err := fmt.Sscanf(a.Value, "%d", &cents); err != nil {
		return domain.Money{}, fmt.Errorf("parse amount value %q: %w", a.Value, err)
	}
	return domain.Money{Cents: cents, Currency: a.CurrencyCode}, nil
}

func sendRequest[Req any, Resp any](c *Client, ctx context.Context, endpoint string, reqBody *Req) (*Resp, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshalling json: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.codec.AuthHeader())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("unparseable error response: %s", string(body)),
			}
		}
		metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorName:  errResp.ErrorName,
			Message:    errResp.ErrorMessage,
			Behavior:   errResp.Behavior,
		}
	}

	var apiResp Resp
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("error decoding json response: %v", err),
		}
	}

	metrics.GatewayRequests.WithLabelValues(endpoint, "ok").Inc()
	return &apiResp, nil
}
