// Package entities exposes discovered devices, sensor entity states and
// their history over HTTP.
package entities

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/infra/history"
)

// Service is the bridge surface used by the handlers.
type Service interface {
	Devices() []registry.Device
	States(mac string) []bridge.EntityState
	State(entityID string) (bridge.EntityState, bool)
	RenameEntity(entityID, newEntityID string) (registry.Entity, error)
}

// Device is the API view of a discovered device.
type Device struct {
	MAC       string `json:"mac"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	IP        string `json:"ip"`
	Hostname  string `json:"hostname"`
	SWVersion string `json:"sw_version"`
	Topic     string `json:"topic"`
}

// History is the response of the history endpoint.
type History struct {
	EntityID string           `json:"entity_id"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Records  []history.Record `json:"records"`
	Summary  history.Summary  `json:"summary"`
}

type handlers struct {
	svc  Service
	hist history.Store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h handlers) devices(w http.ResponseWriter, _ *http.Request) {
	devs := h.svc.Devices()
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		v := Device{MAC: d.MAC}
		if c := d.Config; c != nil {
			v.Name = c.Name()
			v.Model = c.Model
			v.IP = c.IP
			v.Hostname = c.Hostname
			v.SWVersion = c.SWVersion
			v.Topic = c.Topic
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h handlers) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.States(r.URL.Query().Get("device")))
}

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.svc.State(mux.Vars(r)["entity_id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h handlers) rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	_, err := h.svc.RenameEntity(mux.Vars(r)["entity_id"], body.EntityID)
	switch {
	case errors.Is(err, registry.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, registry.ErrEntityIDTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, registry.ErrInvalidEntityID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, _ := h.svc.State(body.EntityID)
	writeJSON(w, http.StatusOK, st)
}

// history returns the records between start and end (RFC 3339). end defaults
// to now and start to 24 hours before end.
func (h handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	st, ok := h.svc.State(mux.Vars(r)["entity_id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	end := time.Now()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		start = t
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end before start")
		return
	}
	recs, err := h.hist.Query(r.Context(), history.Query{UniqueID: st.UniqueID, Start: start, End: end})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, History{
		EntityID: st.EntityID,
		Start:    start,
		End:      end,
		Records:  recs,
		Summary:  history.Summarize(recs),
	})
}
