// Package saferpay implements the JSON API client for the Saferpay payment
// gateway: hosted payment page initialization, assert/capture confirmation
// and refunds.
//
// API documentation: https://saferpay.github.io/jsonapi/index.html
package saferpay

import (
	"github.com/ecomkit/saferpay-gateway/internal/domain"
)

// SpecVersion is the Saferpay JSON API specification version sent in every
// request header.
const SpecVersion = "1.19"

// Gateway endpoints, relative to the configured API base URL.
const (
	endpointInitialize = "Payment/v1/PaymentPage/Initialize"
	endpointAssert     = "Payment/v1/PaymentPage/Assert"
	endpointCapture    = "Payment/v1/Transaction/Capture"
	endpointRefund     = "Payment/v1/Transaction/Refund"
)

// RequestHeader is mandatory on every Saferpay call. RequestId is the
// idempotency token: retries replay the same id with an incremented
// RetryIndicator so the gateway recognizes them as one logical operation.
type RequestHeader struct {
	SpecVersion    string `json:"SpecVersion"`
	CustomerId     string `json:"CustomerId"`
	RequestId      string `json:"RequestId"`
	RetryIndicator int    `json:"RetryIndicator"`
}

// Amount carries the value in minor units as a string, per the Saferpay spec.
type Amount struct {
	Value        string `json:"Value"`
	CurrencyCode string `json:"CurrencyCode"`
}

type Payment struct {
	Amount      Amount `json:"Amount"`
	OrderId     string `json:"OrderId"`
	Description string `json:"Description,omitempty"`
}

type ReturnUrlsSpec struct {
	Success string `json:"Success"`
	Fail    string `json:"Fail"`
	Abort   string `json:"Abort,omitempty"`
}

type NotificationSpec struct {
	NotifyUrl string `json:"NotifyUrl"`
}

type initializeRequest struct {
	RequestHeader RequestHeader     `json:"RequestHeader"`
	TerminalId    string            `json:"TerminalId"`
	Payment       Payment           `json:"Payment"`
	ReturnUrls    ReturnUrlsSpec    `json:"ReturnUrls"`
	Notification  *NotificationSpec `json:"Notification,omitempty"`
}

type initializeResponse struct {
	Token       string `json:"Token"`
	Expiration  string `json:"Expiration"`
	RedirectUrl string `json:"RedirectUrl"`
}

type assertRequest struct {
	RequestHeader RequestHeader `json:"RequestHeader"`
	Token         string        `json:"Token"`
}

type transactionInfo struct {
	Type   string `json:"Type"`
	Status string `json:"Status"`
	Id     string `json:"Id"`
	Date   string `json:"Date"`
	Amount Amount `json:"Amount"`
}

type paymentMeans struct {
	Brand struct {
		PaymentMethod string `json:"PaymentMethod"`
		Name          string `json:"Name"`
	} `json:"Brand"`
	Card struct {
		MaskedNumber string `json:"MaskedNumber"`
	} `json:"Card"`
}

type assertResponse struct {
	Transaction  transactionInfo `json:"Transaction"`
	PaymentMeans paymentMeans    `json:"PaymentMeans"`
}

type transactionReference struct {
	TransactionId string `json:"TransactionId"`
}

type captureRequest struct {
	RequestHeader        RequestHeader        `json:"RequestHeader"`
	TransactionReference transactionReference `json:"TransactionReference"`
}

type captureResponse struct {
	CaptureId string `json:"CaptureId"`
	Status    string `json:"Status"`
	Date      string `json:"Date"`
}

type refundSpec struct {
	Amount Amount `json:"Amount"`
}

type captureReference struct {
	CaptureId string `json:"CaptureId"`
}

type refundRequest struct {
	RequestHeader    RequestHeader    `json:"RequestHeader"`
	Refund           refundSpec       `json:"Refund"`
	CaptureReference captureReference `json:"CaptureReference"`
}

type refundResponse struct {
	Transaction transactionInfo `json:"Transaction"`
}

// errorResponse is the body Saferpay returns on non-200 responses. Behavior
// tells the caller whether the request may be retried.
type errorResponse struct {
	Behavior     string `json:"Behavior"`
	ErrorName    string `json:"ErrorName"`
	ErrorMessage string `json:"ErrorMessage"`
}

// ReturnURLs are the browser and notification callbacks passed on Initialize.
type ReturnURLs struct {
	Success string
	Fail    string
	Abort   string
	Notify  string
}

// InitializeParams starts a hosted payment page session.
type InitializeParams struct {
	RequestID      string
	RetryIndicator int
	OrderRef       string
	Description    string
	Amount         domain.Money
	URLs           ReturnURLs
}

// InitializeResult carries the session token and the page the payer is
// redirected to.
type InitializeResult struct {
	Token       string
	RedirectURL string
}

// AssertParams confirms what actually happened on the gateway side for a
// hosted payment page session.
type AssertParams struct {
	RequestID      string
	RetryIndicator int
	Token          string
}

// CaptureStatus is the normalized outcome of AssertAndCapture.
type CaptureStatus string

const (
	CaptureCaptured CaptureStatus = "captured"
	CapturePending  CaptureStatus = "pending"
	CaptureFailed   CaptureStatus = "failed"
)

// AssertResult is the outcome of the confirm-then-capture sequence. RawStatus
// preserves the gateway's own status string for diagnostics.
type AssertResult struct {
	Status        CaptureStatus
	TransactionID string
	CaptureID     string
	Amount        domain.Money
	CardMasked    string
	CardBrand     string
	RawStatus     string
}

// RefundParams issues a partial or full refund against a captured payment.
type RefundParams struct {
	RequestID      string
	RetryIndicator int
	CaptureID      string
	Amount         domain.Money
}

// RefundStatus is the normalized outcome of a refund call.
type RefundStatus string

const (
	RefundRefunded RefundStatus = "refunded"
	RefundFailed   RefundStatus = "failed"
)

type RefundResult struct {
	Status    RefundStatus
	RawStatus string
}

// NotificationEvent is the server-to-server completion callback payload. The
// token must be cross-checked against the stored transaction before any state
// change; knowing a transaction id alone must not be enough to forge
// completion.
type NotificationEvent struct {
	OrderID       string `json:"OrderId"`
	Token         string `json:"Token"`
	TransactionID string `json:"TransactionId,omitempty"`
}
