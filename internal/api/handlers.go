package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/commute"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/live"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errCommuteDisabled = errors.New("commute log is disabled")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps the error class to a status code. Unclassified errors are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errCommuteDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

type HealthResponse struct {
	Status       string    `json:"status"`
	TrackedBuses int       `json:"tracked_buses"`
	Uptime       string    `json:"uptime"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		TrackedBuses: len(s.tracker.LiveLocations()),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.ListRoutes())
}

func (s *Server) listStopsForRoute(w http.ResponseWriter, r *http.Request) {
	stops, err := s.tracker.ListStopsForRoute(chi.URLParam(r, "routeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

func (s *Server) getStop(w http.ResponseWriter, r *http.Request) {
	stop, err := s.tracker.GetStop(chi.URLParam(r, "stopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) listBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.ListBuses())
}

func (s *Server) getBus(w http.ResponseWriter, r *http.Request) {
	bus, err := s.tracker.GetBus(chi.URLParam(r, "busID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bus)
}

type assignRouteRequest struct {
	RouteID *string `json:"route_id"`
}

func (s *Server) assignRoute(w http.ResponseWriter, r *http.Request) {
	var req assignRouteRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.RouteID == nil {
		badRequest(w, "route_id is required (use an empty string to unassign)")
		return
	}
	bus, err := s.tracker.AssignRoute(r.Context(), chi.URLParam(r, "busID"), *req.RouteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bus)
}

type locationUpdateRequest struct {
	BusID     string   `json:"bus_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type LocationUpdateResponse struct {
	Message  string            `json:"message"`
	Location live.LiveLocation `json:"location"`
}

func (s *Server) reportLocation(w http.ResponseWriter, r *http.Request) {
	var req locationUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.BusID) == "" || req.Latitude == nil || req.Longitude == nil {
		badRequest(w, "bus_id, latitude and longitude are required")
		return
	}
	loc, err := s.tracker.ReportLocation(req.BusID, *req.Latitude, *req.Longitude)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LocationUpdateResponse{Message: "Location updated successfully", Location: loc})
}

func (s *Server) getLiveLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.tracker.GetLiveLocation(chi.URLParam(r, "busID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) estimateArrival(w http.ResponseWriter, r *http.Request) {
	est, err := s.tracker.EstimateArrival(chi.URLParam(r, "busID"), chi.URLParam(r, "stopID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type DepartureTimeResponse struct {
	BusID                  string  `json:"bus_id"`
	OriginStopID           string  `json:"origin_stop_id"`
	ScheduledDepartureTime string  `json:"scheduled_departure_time"`
	ActualDepartureTime    *string `json:"actual_departure_time"`
}

func (s *Server) departureTime(w http.ResponseWriter, r *http.Request) {
	busID, stopID := chi.URLParam(r, "busID"), chi.URLParam(r, "stopID")
	dep, err := s.tracker.GetDepartureTime(busID, stopID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DepartureTimeResponse{
		BusID:                  busID,
		OriginStopID:           stopID,
		ScheduledDepartureTime: dep.String(),
	})
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracker.Progress(chi.URLParam(r, "busID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	asJSON := r.URL.Query().Get("format") == "json"
	body, err := feed.Marshal(s.feed.VehiclePositions(), asJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	if asJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/x-protobuf")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type busLogRequest struct {
	UserID      string `json:"userId"`
	Type        string `json:"type"`
	PickupTime  string `json:"pickupTime"`
	ArrivalTime string `json:"arrivalTime"`
	From        string `json:"from"`
	To          string `json:"to"`
}

type BusLogResponse struct {
	Message string      `json:"message"`
	Log     commute.Log `json:"log"`
}

func (s *Server) recordBusLog(w http.ResponseWriter, r *http.Request) {
	if s.commute == nil {
		writeError(w, errCommuteDisabled)
		return
	}
	var req busLogRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	l, err := s.commute.Record(r.Context(), req.UserID, commute.Trip{
		Kind:    commute.Kind(strings.ToLower(req.Type)),
		Pickup:  req.PickupTime,
		Arrival: req.ArrivalTime,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BusLogResponse{Message: "Bus log updated successfully", Log: l})
}

func (s *Server) getBusLog(w http.ResponseWriter, r *http.Request) {
	if s.commute == nil {
		writeError(w, errCommuteDisabled)
		return
	}
	l, err := s.commute.Today(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
