package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/layer-3/gatekeeper/connector"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/service"
)

// fieldErrors maps a request field to the reasons it was rejected
type fieldErrors map[string][]string

func (f fieldErrors) add(field, reason string) {
	f[field] = append(f[field], reason)
}

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	metrics     *Metrics
	log         *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, metrics *Metrics, log *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		metrics:     metrics,
		log:         log,
	}
}

// Nonce issues a sign-in nonce bound to a draft session cookie
func (h *AuthHandlers) Nonce(c *gin.Context) {
	nonce, err := h.authService.IssueNonce(c.Request.Context(), c.Writer)
	if err != nil {
		h.log.Error("auth.nonce_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue nonce"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// Verify checks the signed sign-in message and starts a session
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Message   string `json:"message" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.authLogin("invalid_request")
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}

	session, err := h.authService.Verify(c.Request.Context(), c.Writer, c.Request, req.Message, req.Signature)
	if err != nil {
		statusCode := http.StatusInternalServerError
		var body any = gin.H{"error": "Verification failed"}
		result := "error"

		switch {
		case errors.Is(err, core.ErrMalformedChallenge):
			statusCode = http.StatusBadRequest
			body = fieldErrors{"message": {"Malformed sign-in message"}}
			result = "invalid_request"
		case errors.Is(err, core.ErrChainMismatch):
			statusCode = http.StatusBadRequest
			body = fieldErrors{"message": {"Unsupported chain"}}
			result = "invalid_request"
		case errors.Is(err, core.ErrInvalidNonce):
			statusCode = http.StatusUnauthorized
			body = gin.H{"error": "Invalid nonce"}
			result = "rejected"
		case errors.Is(err, core.ErrChallengeExpired):
			statusCode = http.StatusUnauthorized
			body = gin.H{"error": "Sign-in message expired"}
			result = "rejected"
		case errors.Is(err, core.ErrChallengeNotYetValid):
			statusCode = http.StatusUnauthorized
			body = gin.H{"error": "Sign-in message not yet valid"}
			result = "rejected"
		case errors.Is(err, core.ErrInvalidSignature):
			statusCode = http.StatusUnauthorized
			body = gin.H{"error": "Invalid signature"}
			result = "rejected"
		default:
			h.log.Error("auth.verify_failed", "error", err)
		}

		h.metrics.authLogin(result)
		c.JSON(statusCode, body)
		return
	}

	h.metrics.authLogin("success")
	h.log.Info("auth.signed_in", "address", session.Address, "chain_id", session.ChainID)
	c.JSON(http.StatusOK, gin.H{
		"address": session.Address,
		"chainId": session.ChainID,
	})
}

// Session returns the current session
func (h *AuthHandlers) Session(c *gin.Context) {
	session, err := h.authService.Session(c.Writer, c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":        session.Address,
		"chainId":        session.ChainID,
		"expirationTime": session.ExpirationTime.Format(time.RFC3339),
		"connector":      connector.Detect(c.Request.Header),
	})
}

// Logout ends the session. It always succeeds.
func (h *AuthHandlers) Logout(c *gin.Context) {
	h.authService.Logout(c.Request.Context(), c.Writer, c.Request)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RelayHandlers contains HTTP handlers for gasless relay endpoints
type RelayHandlers struct {
	relayService *service.RelayService
	metrics      *Metrics
	log          *slog.Logger
}

// NewRelayHandlers creates new relay handlers
func NewRelayHandlers(relayService *service.RelayService, metrics *Metrics, log *slog.Logger) *RelayHandlers {
	return &RelayHandlers{
		relayService: relayService,
		metrics:      metrics,
		log:          log,
	}
}

// Edit relays a co-signed edit operation
func (h *RelayHandlers) Edit(c *gin.Context) {
	session, ok := SessionFromContext(c)
	if !ok {
		h.metrics.relayResult("unauthenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}
	if !h.relayService.Available() {
		h.metrics.relayResult("unavailable")
		c.JSON(http.StatusNotFound, gin.H{"error": "Gasless not available"})
		return
	}

	var req core.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.relayResult("invalid_request")
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}
	if errs := validateRelayRequest(&req); len(errs) > 0 {
		h.metrics.relayResult("invalid_request")
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	txHash, err := h.relayService.SubmitEdit(c.Request.Context(), session, &req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		var body any = gin.H{"error": "Failed to relay transaction"}
		result := "failed"

		switch {
		case errors.Is(err, core.ErrUnauthenticated):
			statusCode = http.StatusUnauthorized
			body = gin.H{"error": "Unauthenticated"}
			result = "unauthenticated"
		case errors.Is(err, core.ErrRelayUnavailable):
			statusCode = http.StatusNotFound
			body = gin.H{"error": "Gasless not available"}
			result = "unavailable"
		case errors.Is(err, core.ErrInvalidAppSignature):
			statusCode = http.StatusBadRequest
			body = fieldErrors{"signature": {"Invalid app signature"}}
			result = "invalid_signature"
		case errors.Is(err, core.ErrChainMismatch):
			statusCode = http.StatusBadRequest
			body = fieldErrors{"chainId": {"Unsupported chain"}}
			result = "invalid_request"
		}

		h.metrics.relayResult(result)
		c.JSON(statusCode, body)
		return
	}

	h.metrics.relayResult("submitted")
	c.JSON(http.StatusOK, gin.H{"txHash": txHash.Hex()})
}

// Authorize returns the application signature over typed data prepared by the client
func (h *RelayHandlers) Authorize(c *gin.Context) {
	session, ok := SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		return
	}

	var req struct {
		SignTypedDataParams apitypes.TypedData `json:"signTypedDataParams"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}
	errs := fieldErrors{}
	validateTypedData(errs, &req.SignTypedDataParams)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errs)
		return
	}

	sig, signer, err := h.relayService.Authorize(c.Request.Context(), session, req.SignTypedDataParams)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
		case errors.Is(err, core.ErrRelayUnavailable):
			c.JSON(http.StatusNotFound, gin.H{"error": "Gasless not available"})
		default:
			h.log.Error("relay.authorize_failed", "author", session.Address, "error", err)
			c.JSON(http.StatusBadRequest, fieldErrors{"signTypedDataParams": {"Cannot be signed"}})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"appSignature": hexutil.Encode(sig),
		"signer":       signer.Hex(),
	})
}

// Status reports whether gasless relaying is offered
func (h *RelayHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.relayService.Status(c.Request.Context()))
}

func validateRelayRequest(req *core.RelayRequest) fieldErrors {
	errs := fieldErrors{}

	validateTypedData(errs, &req.SignTypedDataParams)
	if len(req.AppSignature) == 0 {
		errs.add("appSignature", "Required")
	}
	if len(req.AuthorSignature) == 0 {
		errs.add("authorSignature", "Required")
	}
	if req.Edit.CommentID == (common.Hash{}) {
		errs.add("edit.commentId", "Required")
	}
	if req.Edit.App == (common.Address{}) {
		errs.add("edit.app", "Required")
	}
	if req.Edit.Nonce == nil {
		errs.add("edit.nonce", "Required")
	}
	if req.Edit.Deadline == nil {
		errs.add("edit.deadline", "Required")
	}
	if req.ChainID < 0 {
		errs.add("chainId", "Must be positive")
	}

	return errs
}

func validateTypedData(errs fieldErrors, data *apitypes.TypedData) {
	switch {
	case data.PrimaryType == "":
		errs.add("signTypedDataParams", "primaryType is required")
	case len(data.Types[data.PrimaryType]) == 0:
		errs.add("signTypedDataParams", "primaryType is not defined in types")
	}
	if data.Message == nil {
		errs.add("signTypedDataParams", "message is required")
	}
}

// bindErrors turns a gin binding error into per-field reasons
func bindErrors(err error) fieldErrors {
	errs := fieldErrors{}

	var validationErrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError

	switch {
	case errors.As(err, &validationErrs):
		for _, fe := range validationErrs {
			errs.add(lowerFirst(fe.Field()), "Required")
		}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		errs.add(field, "Invalid value")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		errs.add("body", "Malformed JSON")
	case errors.Is(err, io.EOF):
		errs.add("body", "Required")
	default:
		errs.add("body", "Invalid request")
	}

	return errs
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
