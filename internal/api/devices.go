package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/requester"
	"github.com/nerrad567/nsm-core/internal/sensor"
)

// DeviceDetail is the response of GET /devices/{uuid}.
type DeviceDetail struct {
	device.Info
	Readings  []sensor.Reading `json:"readings"`
	Exchanges requester.Stats  `json:"exchanges"`
}

// WriteProtectBody is the request of POST /devices/{uuid}/write-protect.
// The component is chosen by data_index, or by instance when data_index is
// omitted.
type WriteProtectBody struct {
	DataIndex uint8 `json:"data_index,omitempty"`
	Instance  uint8 `json:"instance"`
	Retimer   bool  `json:"retimer,omitempty"`
	Enable    *bool `json:"enable" validate:"required"`
}

// PowerModeBody is the request of POST /devices/{uuid}/power-mode.
type PowerModeBody struct {
	Field string  `json:"field" validate:"required,oneof=hw_mode_control hw_mode_threshold fw_throttling_mode prediction_mode hw_active_time hw_inactive_time prediction_inactive_time"`
	Value *uint64 `json:"value" validate:"required"`
}

// ModeBody is the request of POST /devices/{uuid}/mode.
type ModeBody struct {
	Setting string `json:"setting" validate:"required,oneof=error_injection_mode egm_mode"`
	Enable  *bool  `json:"enable" validate:"required"`
}

// OperationAccepted is returned when an async operation has started.
type OperationAccepted struct {
	ID        string `json:"id"`
	StatusURL string `json:"status_url"`
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.Infos()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": infos,
		"count":   len(infos),
	})
}

// handleGetDevice returns one device with its latest readings and
// exchange counters.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	detail := DeviceDetail{
		Info:     dev.Info(),
		Readings: s.readings.forDevice(dev.UUID()),
	}
	if s.exchanges != nil {
		detail.Exchanges = s.exchanges.Stats(dev.EID())
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleWriteProtect starts a write-protect change.
func (s *Server) handleWriteProtect(w http.ResponseWriter, r *http.Request) {
	var body WriteProtectBody
	if !s.operationsReady(w) || !decodeBody(w, r, &body) {
		return
	}
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	s.startOperation(w, r, dev, asyncop.KindWriteProtect, func(ctx context.Context) (string, error) {
		return s.operations.SetWriteProtect(ctx, dev, asyncop.WriteProtectRequest{
			DataIndex: nsm.WPDataIndex(body.DataIndex),
			Instance:  body.Instance,
			Retimer:   body.Retimer,
			Enable:    *body.Enable,
		})
	})
}

// handlePowerMode starts a read-modify-write of one power mode field.
func (s *Server) handlePowerMode(w http.ResponseWriter, r *http.Request) {
	var body PowerModeBody
	if !s.operationsReady(w) || !decodeBody(w, r, &body) {
		return
	}
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	s.startOperation(w, r, dev, asyncop.KindPowerMode, func(ctx context.Context) (string, error) {
		return s.operations.SetPowerModeField(ctx, dev, asyncop.PowerModeChange{
			Field: body.Field,
			Value: *body.Value,
		})
	})
}

// handleMode toggles error injection or EGM mode.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body ModeBody
	if !s.operationsReady(w) || !decodeBody(w, r, &body) {
		return
	}
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	s.startOperation(w, r, dev, body.Setting, func(ctx context.Context) (string, error) {
		if body.Setting == asyncop.KindEGMMode {
			return s.operations.SetEGMMode(ctx, dev, *body.Enable)
		}
		return s.operations.SetErrorInjectionMode(ctx, dev, *body.Enable)
	})
}

// lookupDevice resolves the {uuid} path parameter, writing 404 when the
// device is unknown.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	uuid := chi.URLParam(r, "uuid")
	dev, ok := s.registry.FindByUUID(uuid)
	if !ok {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return dev, true
}

func (s *Server) operationsReady(w http.ResponseWriter) bool {
	if s.operations == nil {
		writeUnavailable(w, "async operations not available")
		return false
	}
	return true
}

// startOperation runs begin and maps its outcome to a response: 202 with
// the operation id, or an error that still carries the id of the terminal
// record when one was allocated.
func (s *Server) startOperation(w http.ResponseWriter, r *http.Request, dev *device.Device, kind string, begin func(ctx context.Context) (string, error)) {
	id, err := begin(r.Context())

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("async operation requested",
		"device", dev.UUID(),
		"kind", kind,
		"id", id,
		"subject", subject,
		"error", err,
	)

	if err == nil {
		writeJSON(w, http.StatusAccepted, OperationAccepted{ID: id, StatusURL: "/api/v1/operations/" + id})
		return
	}

	resp := Error{Message: err.Error(), OperationID: id}
	switch {
	case errors.Is(err, asyncop.ErrInvalidArgument):
		resp.Status, resp.Code = http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, asyncop.ErrUnavailable):
		resp.Status, resp.Code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, asyncop.ErrClosed):
		resp.Status, resp.Code = http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		resp.Status, resp.Code = http.StatusInternalServerError, ErrCodeInternal
	}
	writeJSON(w, resp.Status, resp)
}
