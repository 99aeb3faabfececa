package saferpay

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/google/uuid"
)

// Codec builds the authentication artifacts for gateway calls and verifies
// inbound notifications. It holds the API credentials read-only.
type Codec struct {
	username string
	password string
}

func NewCodec(cfg config.SaferpayConfig) *Codec {
	return &Codec{
		username: cfg.APIUsername,
		password: cfg.APIPassword,
	}
}

// AuthHeader returns the Authorization header value for the JSON API.
// https://saferpay.github.io/jsonapi/index.html#authentication
func (c *Codec) AuthHeader() string {
	credentials := fmt.Sprintf("%s:%s", c.username, c.password)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// NewRequestID generates the opaque idempotency token attached to a logical
// gateway operation. It is generated once per payment attempt and replayed
// unchanged on retries.
func (c *Codec) NewRequestID() string {
	return uuid.NewString()
}

// VerifyNotification confirms that a notification refers to a known
// transaction by comparing the embedded token against the stored gateway
// token in constant time. It returns false on any mismatch and never errors:
// the caller must treat a failed verification as a silent drop.
func (c *Codec) VerifyNotification(event NotificationEvent, tx *domain.Transaction) bool {
	if tx == nil {
		return false
	}
	if event.OrderID == "" || event.Token == "" || tx.GatewayToken == "" {
		return false
	}
	if event.OrderID != tx.OrderRef {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(event.Token), []byte(tx.GatewayToken)) == 1
}
