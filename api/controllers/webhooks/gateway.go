package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// GatewayIngestor consumes verified gateway notifications.
type GatewayIngestor interface {
	Handle(ctx context.Context, body []byte, signature string) (*payments.IngestResult, error)
}

// GatewayWebhook receives payment gateway notifications. Any 2xx tells the
// gateway to stop retrying, so only failures we want redelivered return 5xx.
func GatewayWebhook(ingestor GatewayIngestor, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ingestor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook ingestor unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(gateway.SignatureHeader)
		if signature == "" {
			logg.Warn(logg.WithField(ctx, "remote_addr", r.RemoteAddr), "webhook rejected: signature missing")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "gateway signature missing"))
			return
		}

		result, err := ingestor.Handle(ctx, payload, signature)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
				logg.Warn(logg.WithField(ctx, "remote_addr", r.RemoteAddr), "webhook rejected: invalid signature")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
