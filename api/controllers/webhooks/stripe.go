package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/giftledger-backend/api/responses"
	"github.com/angelmondragon/giftledger-backend/internal/reconcile"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBytes       = 1 << 20
)

type Reconciler interface {
	Reconcile(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Ack, error)
}

// StripeWebhook hands the raw body to the reconciler. Any 2xx tells the
// provider to stop retrying, so only reconciled or deliberately ignored
// events are acknowledged.
func StripeWebhook(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		ack, err := svc.Reconcile(ctx, payload, r.Header.Get(stripeSignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Debug(logg.WithFields(ctx, map[string]any{
				"provider_event_id": ack.EventID,
				"event_kind":        ack.Kind,
				"outcome":           ack.Outcome,
			}), "stripe event acknowledged")
		}
		responses.WriteAck(w)
	}
}
