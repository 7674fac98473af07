package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/studio-core/internal/broadcast"
	"github.com/nerrad567/studio-core/internal/device"
)

// handleListDevices returns every device status, with optional query filters.
//
// Query parameters:
//   - kind: filter by kind (mixer, router, other)
//   - connected: filter by connection state (true, false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.All()

	if kind := r.URL.Query().Get("kind"); kind != "" {
		switch device.Kind(kind) {
		case device.KindMixer, device.KindRouter, device.KindOther:
			devices = s.registry.ByKind(device.Kind(kind))
		default:
			writeBadRequest(w, "unknown kind: "+kind)
			return
		}
	}

	if v := r.URL.Query().Get("connected"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "connected must be true or false")
			return
		}
		filtered := devices[:0:0]
		for _, d := range devices {
			if d.Connected() == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeDeviceList(w, devices)
}

// handleListDevicesByType returns the devices of one family.
func (s *Server) handleListDevicesByType(w http.ResponseWriter, r *http.Request) {
	t, ok := deviceType(w, r)
	if !ok {
		return
	}
	writeDeviceList(w, s.registry.ByType(t))
}

// handleGetDevice returns a single device by type and display name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	t, ok := deviceType(w, r)
	if !ok {
		return
	}

	d, err := broadcast.Lookup(s.registry, t, pathParam(r, "name"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

// handleDeviceCommand invokes a command on a device. The body is an optional
// JSON array of arguments. A name of "*" addresses every device of the type.
//
// The response is 202 because the device's echo, not the request, carries
// the resulting state change.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	t, ok := deviceType(w, r)
	if !ok {
		return
	}
	name := pathParam(r, "name")
	method := pathParam(r, "method")

	var args []any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "body must be a JSON array of arguments")
		return
	}

	accepted, err := broadcast.Execute(s.registry, t, name, broadcast.Command{Method: method, Args: args})
	if err != nil {
		if errors.Is(err, broadcast.ErrEmptyMethod) {
			writeBadRequest(w, "method is required")
			return
		}
		writeLookupError(w, err)
		return
	}

	s.logger.Debug("device command",
		"type", t,
		"device", name,
		"method", method,
		"accepted", accepted,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

// deviceType reads and validates the {type} path parameter, writing a 404
// for unknown families.
func deviceType(w http.ResponseWriter, r *http.Request) (device.Type, bool) {
	t := device.Type(chi.URLParam(r, "type"))
	if !t.Valid() {
		writeNotFound(w, "unknown device type: "+string(t))
		return "", false
	}
	return t, true
}

// pathParam returns a decoded path parameter. Device names may contain
// characters that arrive percent-encoded.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrAmbiguousName):
		writeConflict(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, broadcast.ErrUnknownType):
		writeNotFound(w, err.Error())
	default:
		writeInternalError(w, "failed to resolve device")
	}
}

func writeDeviceList(w http.ResponseWriter, devices []device.Device) {
	statuses := make([]device.Status, 0, len(devices))
	for _, d := range devices {
		statuses = append(statuses, d.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": statuses, "count": len(statuses)})
}
