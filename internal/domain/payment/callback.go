// Package payment receives completion callbacks from the payment gateway.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/appointment"
	"github.com/clinicdesk/clinic/internal/platform/notification"
)

const (
	SignatureHeader = "X-Payment-Signature"
	maxCallbackBody = 64 << 10
)

const (
	StatusPaid     = "paid"
	StatusFailed   = "failed"
	StatusPending  = "pending"
	StatusRefunded = "refunded"
)

// Callback is the gateway's notification body.
type Callback struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	Status        string    `json:"status" validate:"required,oneof=paid failed pending refunded"`
	Reference     string    `json:"reference" validate:"required,max=128"`
	AmountCents   int64     `json:"amount_cents" validate:"gte=0"`
	Currency      string    `json:"currency" validate:"omitempty,len=3"`
}

// SystemNotifier sends account notices that are not lifecycle events.
type SystemNotifier interface {
	SendSystem(ctx context.Context, recipientID uuid.UUID, code, title, detail string, priority notification.Priority) error
}

type Handler struct {
	wf       *appointment.Workflow
	notifier SystemNotifier
	secret   string
	logger   zerolog.Logger
}

func NewHandler(wf *appointment.Workflow, notifier SystemNotifier, secret string, logger zerolog.Logger) *Handler {
	return &Handler{
		wf:       wf,
		notifier: notifier,
		secret:   secret,
		logger:   logger.With().Str("component", "payment-callback").Logger(),
	}
}

// RegisterRoutes mounts the callback. The path is public; requests are
// authenticated by signature instead of a bearer token.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/callback", h.Callback)
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts the signature with or without a "sha256=" prefix.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

func (h *Handler) Callback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxCallbackBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "callback body too large")
	}

	if h.secret == "" {
		h.logger.Warn().Msg("PAYMENT_WEBHOOK_SECRET is not set; accepting unsigned callback")
	} else if !VerifySignature(body, h.secret, c.Request().Header.Get(SignatureHeader)) {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("payment callback with bad signature")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := c.Validate(&cb); err != nil {
		return err
	}

	log := h.logger.With().
		Str("appointment_id", cb.AppointmentID.String()).
		Str("reference", cb.Reference).
		Str("payment_status", cb.Status).
		Logger()
	ctx := c.Request().Context()

	switch cb.Status {
	case StatusPaid:
		res, err := h.wf.Confirm(ctx, appointment.PaymentActor, cb.AppointmentID, appointment.Input{})
		if errors.Is(err, appointment.ErrStaleState) {
			// A repeated "paid" callback is a no-op.
			log.Info().Msg("payment callback for already confirmed appointment")
			return c.JSON(http.StatusOK, map[string]string{"result": "already_confirmed"})
		}
		if err != nil {
			log.Warn().Err(err).Msg("payment callback could not confirm appointment")
			return appointment.HTTPError(err)
		}
		log.Info().Msg("appointment confirmed by payment")
		return c.JSON(http.StatusOK, map[string]interface{}{"result": "confirmed", "warnings": res.Warnings})

	case StatusFailed:
		a, err := h.wf.Get(ctx, appointment.SystemActor, cb.AppointmentID)
		if err != nil {
			return appointment.HTTPError(err)
		}
		if err := h.notifier.SendSystem(ctx, a.PatientID, "payment_failed", "Payment Failed",
			"The payment for your appointment on "+a.Date+" at "+a.Time+" did not go through. Please try again.",
			notification.PriorityMedium); err != nil {
			log.Warn().Err(err).Msg("payment failure notice not delivered")
		}
		log.Info().Msg("payment failed")
		return c.JSON(http.StatusAccepted, map[string]string{"result": "acknowledged"})

	default:
		log.Info().Msg("payment callback acknowledged")
		return c.JSON(http.StatusAccepted, map[string]string{"result": "acknowledged"})
	}
}
