package postgres

import (
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
)

// transactionModel mirrors the transactions table row.
type transactionModel struct {
	OrderRef          string
	GatewayToken      *string
	GatewayTxID       *string
	CaptureID         *string
	AmountCents       int64
	Currency          string
	Status            string
	RequestID         string
	RefundedCents     int64
	LastGatewayStatus *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CapturedAt        *time.Time
}

func toDBModel(t *domain.Transaction) transactionModel {
	return transactionModel{
		OrderRef:          t.OrderRef,
		GatewayToken:      nullable(t.GatewayToken),
		GatewayTxID:       nullable(t.GatewayTxID),
		CaptureID:         nullable(t.CaptureID),
		AmountCents:       t.AmountCents,
		Currency:          t.Currency,
		Status:            string(t.Status),
		RequestID:         t.RequestID,
		RefundedCents:     t.RefundedCents,
		LastGatewayStatus: nullable(t.LastGatewayStatus),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		CapturedAt:        t.CapturedAt,
	}
}

func toDomainModel(m transactionModel) *domain.Transaction {
	return &domain.Transaction{
		OrderRef:          m.OrderRef,
		GatewayToken:      deref(m.GatewayToken),
		GatewayTxID:       deref(m.GatewayTxID),
		CaptureID:         deref(m.CaptureID),
		AmountCents:       m.AmountCents,
		Currency:          m.Currency,
		Status:            domain.Status(m.Status),
		RequestID:         m.RequestID,
		RefundedCents:     m.RefundedCents,
		LastGatewayStatus: deref(m.LastGatewayStatus),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		CapturedAt:        m.CapturedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
