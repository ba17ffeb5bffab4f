package auth

import (
	"context"
	"net/http"

	"flux-gateway/internal/jwt"

	handlerutil "github.com/NYCU-SDC/summer/pkg/handler"
	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type tokenIssuer interface {
	New(ctx context.Context, user jwt.User) (string, error)
}

type authenticator interface {
	Authenticate(ctx context.Context, username, password string) (jwt.User, error)
}

type Handler struct {
	logger *zap.Logger
	tracer trace.Tracer

	issuer        tokenIssuer
	authenticator authenticator
}

func NewHandler(logger *zap.Logger, issuer tokenIssuer, authenticator authenticator) *Handler {
	return &Handler{
		logger:        logger,
		tracer:        otel.Tracer("auth/handler"),
		issuer:        issuer,
		authenticator: authenticator,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// TokenHandler exchanges basic credentials for a bearer token so clients do
// not have to send the password on every request.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "TokenHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	username, password, ok := r.BasicAuth()
	if !ok {
		logger.Warn("Token request without basic credentials")
		unauthorized(w)
		return
	}

	caller, err := h.authenticator.Authenticate(traceCtx, username, password)
	if err != nil {
		logger.Warn("Failed to authenticate token request", zap.String("username", username), zap.Error(err))
		unauthorized(w)
		return
	}

	token, err := h.issuer.New(traceCtx, caller)
	if err != nil {
		logger.Error("Failed to issue token", zap.Error(err))
		span.RecordError(err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	handlerutil.WriteJSONResponse(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
