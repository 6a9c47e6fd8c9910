package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/passthrough"
	"github.com/nerrad567/nsm-core/internal/requester"
)

// PassthroughBody is the request of POST /devices/{uuid}/passthrough.
// Payload is base64 in JSON.
type PassthroughBody struct {
	MessageType *uint8 `json:"message_type" validate:"required"`
	Command     *uint8 `json:"command" validate:"required"`
	Payload     []byte `json:"payload,omitempty" validate:"max=65535"`
}

// handleGetOperation returns the record of one async operation.
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	if !s.operationsReady(w) {
		return
	}
	rec, err := s.operations.Manager().Status(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDiscardOperation releases a terminal operation record.
func (s *Server) handleDiscardOperation(w http.ResponseWriter, r *http.Request) {
	if !s.operationsReady(w) {
		return
	}
	err := s.operations.Manager().Discard(chi.URLParam(r, "id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, asyncop.ErrNotFound):
		writeNotFound(w, "operation not found")
	case errors.Is(err, asyncop.ErrInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, "operation still in progress")
	default:
		writeInternalError(w, err.Error())
	}
}

// handlePassthrough sends one raw command and returns the device's answer
// unchanged, including non-success completion codes.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if s.passthrough == nil {
		writeUnavailable(w, "passthrough not available")
		return
	}
	var body PassthroughBody
	if !decodeBody(w, r, &body) {
		return
	}

	uuid := chi.URLParam(r, "uuid")
	res, err := s.passthrough.Execute(r.Context(), uuid, nsm.MessageType(*body.MessageType), *body.Command, body.Payload)
	if err != nil {
		s.logger.Warn("passthrough failed", "device", uuid, "command", *body.Command, "error", err)
		writePassthroughError(w, err)
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("passthrough command",
		"device", uuid,
		"message_type", *body.MessageType,
		"command", *body.Command,
		"cc", res.CCName,
		"subject", subject,
	)
	writeJSON(w, http.StatusOK, res)
}

func writePassthroughError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passthrough.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, requester.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device busy")
	case errors.Is(err, requester.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, requester.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, requester.ErrClosed):
		writeUnavailable(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
