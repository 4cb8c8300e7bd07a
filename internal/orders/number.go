package orders

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderNumberSuffix   = 6
	referencePrefix     = "sf_"
)

// NewOrderNumber returns a customer facing number like ORD-20260301-7KQ2XM.
func NewOrderNumber(now time.Time) (string, error) {
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < orderNumberSuffix; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewGatewayReference returns a fresh reference for a payment attempt.
func NewGatewayReference() string {
	return referencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
