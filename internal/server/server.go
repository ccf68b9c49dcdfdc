package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"bloodlink/internal/audit"
	"bloodlink/internal/cache"
	"bloodlink/internal/config"
	"bloodlink/internal/middleware"
	"bloodlink/internal/models"
	"bloodlink/internal/repository"
	"bloodlink/internal/service"
)

type Server struct {
	svc       *service.Service
	active    *cache.ActiveRequestsCache
	auditPool *audit.WorkerPool
	user      string
	password  string
	addr      string
}

func NewServer(svc *service.Service, active *cache.ActiveRequestsCache, auditPool *audit.WorkerPool, cfg *config.Config) *Server {
	return &Server{
		svc:       svc,
		active:    active,
		auditPool: auditPool,
		user:      cfg.Username,
		password:  cfg.Password,
		addr:      cfg.Addr(),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handleWith(mux, "/donors", s.handleDonors,
		[]string{"POST"}, []string{"POST"},
	)
	s.handleWith(mux, "/donors/", s.handleDonorOne,
		[]string{"PUT"}, []string{"PUT"},
	)
	s.handleWith(mux, "/donors-availability/", s.handleDonorAvailability,
		[]string{"PUT"}, []string{"PUT"},
	)
	s.handleWith(mux, "/donors-location/", s.handleDonorLocation,
		[]string{"PUT"}, []string{"PUT"},
	)
	mux.HandleFunc("/donors-requests/", s.handleDonorRequests)

	s.handleWith(mux, "/requests", s.handleRequests,
		[]string{"POST"}, []string{"POST"},
	)
	mux.HandleFunc("/requests/", s.handleRequestOne)
	s.handleWith(mux, "/requests-accept/", s.handleAccept,
		[]string{"POST"}, []string{"POST"},
	)
	s.handleWith(mux, "/requests-reject/", s.handleReject,
		[]string{"POST"}, []string{"POST"},
	)
	s.handleWith(mux, "/requests-start/", s.handleStartDonation,
		[]string{"POST"}, []string{"POST"},
	)
	s.handleWith(mux, "/requests-complete/", s.handleCompleteDonation,
		[]string{"POST"}, []string{"POST"},
	)
	s.handleWith(mux, "/requests-cancel/", s.handleCancel,
		[]string{"PUT"}, []string{"PUT"},
	)

	mux.HandleFunc("/active", s.handleActive)
}

func (s *Server) Run() error {
	mux := http.NewServeMux()

	s.RegisterRoutes(mux)

	log.Printf("Server listen on %s...", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleWith(mux *http.ServeMux, path string,
	handlerFunc http.HandlerFunc,
	logMethods []string, authMethods []string,
) {
	finalHandler := middleware.LogMiddleware(s.auditPool, logMethods...)(
		middleware.BasicAuthMiddleware(s.user, s.password, authMethods...)(
			handlerFunc,
		),
	)
	mux.Handle(path, finalHandler)
}

// --- donors -----------------------------------------------------------------

func (s *Server) handleDonors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var d models.Donor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	if err := s.svc.RegisterDonor(r.Context(), &d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDonorOne(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/donors/")
	if id == "" {
		http.Error(w, "missing ID", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		d, err := s.svc.GetDonor(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodPut:
		var d models.Donor
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, "bad JSON", http.StatusBadRequest)
			return
		}
		d.ID = id
		if err := s.svc.UpdateDonorProfile(r.Context(), &d); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDonorAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/donors-availability/")
	var body struct {
		IsAvailable bool `json:"is_available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	if err := s.svc.SetDonorAvailability(r.Context(), id, body.IsAvailable); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDonorLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/donors-location/")
	var loc models.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	if err := s.svc.UpdateDonorLocation(r.Context(), id, loc); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDonorRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	donorID := strings.TrimPrefix(r.URL.Path, "/donors-requests/")
	reqs, err := s.svc.ListRequestsByDonor(r.Context(), donorID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(reqs))
	for _, req := range reqs {
		m := req.MatchFor(donorID)
		if m == nil {
			continue
		}
		out = append(out, map[string]interface{}{
			"request":     donorFacingRequest(req),
			"response":    m.Response,
			"score":       m.Score,
			"distance_km": m.DistanceKm,
			"expires_at":  m.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- requests ---------------------------------------------------------------

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req models.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad JSON", http.StatusBadRequest)
			return
		}
		matched, err := s.svc.CreateRequest(r.Context(), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"request":     req,
			"match_count": matched,
		})
	case http.MethodGet:
		receiverID := r.URL.Query().Get("receiver_id")
		reqs, err := s.svc.ListRequestsByReceiver(r.Context(), receiverID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reqs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRequestOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests/")
	if id == "" {
		http.Error(w, "missing ID", http.StatusBadRequest)
		return
	}
	req, err := s.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// Codes never travel over the read endpoint, only via the requester
	// notification.
	sanitized := *req
	sanitized.Matches = make([]*models.Match, len(req.Matches))
	for i, m := range req.Matches {
		mc := *m
		mc.ConfirmationCode = ""
		sanitized.Matches[i] = &mc
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request": &sanitized,
		"stats":   matchStats(req),
	})
}

type respondBody struct {
	DonorID string `json:"donor_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests-accept/")
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	req, err := s.svc.Accept(r.Context(), id, body.DonorID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Donor side only learns the response; the confirmation code travels
	// to the requester out-of-band.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": id,
		"response":   models.ResponseAccepted,
		"status":     req.Status,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests-reject/")
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	req, err := s.svc.Reject(r.Context(), id, body.DonorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": id,
		"response":   models.ResponseRejected,
		"status":     req.Status,
	})
}

func (s *Server) handleStartDonation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests-start/")
	var body struct {
		ReceiverID string `json:"receiver_id"`
		DonorID    string `json:"donor_id"`
		OTP        string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	if err := s.svc.StartDonation(r.Context(), id, body.ReceiverID, body.DonorID, body.OTP); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompleteDonation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests-complete/")
	var body struct {
		ReceiverID   string `json:"receiver_id"`
		DonorID      string `json:"donor_id"`
		UnitsDonated int    `json:"units_donated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	if err := s.svc.CompleteDonation(r.Context(), id, body.ReceiverID, body.DonorID, body.UnitsDonated); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/requests-cancel/")
	receiverID := r.URL.Query().Get("receiver_id")
	if err := s.svc.CancelRequest(r.Context(), id, receiverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.active.List())
}

// --- helpers ----------------------------------------------------------------

func matchStats(req *models.Request) map[string]interface{} {
	counts := map[models.MatchResponse]int{}
	for _, m := range req.Matches {
		counts[m.Response]++
	}
	pct := 0.0
	if req.UnitsRequired > 0 {
		pct = float64(req.UnitsCompleted) / float64(req.UnitsRequired) * 100
	}
	return map[string]interface{}{
		"total_matches":          len(req.Matches),
		"pending":                counts[models.ResponsePending],
		"accepted":               counts[models.ResponseAccepted],
		"rejected":               counts[models.ResponseRejected],
		"expired":                counts[models.ResponseExpired],
		"superseded":             counts[models.ResponseSuperseded],
		"units_required":         req.UnitsRequired,
		"units_accepted":         req.UnitsAccepted,
		"units_completed":        req.UnitsCompleted,
		"fulfillment_percentage": pct,
	}
}

// donorFacingRequest strips match internals (other donors, codes) from a
// request before it goes to a donor.
func donorFacingRequest(req *models.Request) map[string]interface{} {
	return map[string]interface{}{
		"id":             req.ID,
		"blood_group":    req.BloodGroup,
		"urgency":        req.Urgency,
		"units_required": req.UnitsRequired,
		"required_by":    req.RequiredBy,
		"status":         req.Status,
		"location":       req.Location.Address,
		"hospital":       req.Hospital,
		"created_at":     req.CreatedAt,
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrConflict), errors.Is(err, repository.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
