package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/board"
	"github.com/umputun/laborportal/app/store"
)

// flexString accepts a JSON string or number, form fields may come as either
type flexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

type recruiterLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type laborerLoginRequest struct {
	Name    string     `json:"name"`
	Contact flexString `json:"contact"`
	Passkey flexString `json:"passkey"`
}

type jobRequest struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	PricePerHour  flexString `json:"pricePerHour"`
	RequiredCount flexString `json:"requiredCount"`
	Location      string     `json:"location"`
	StartDateTime string     `json:"startDateTime"`
}

type applyRequest struct {
	Name    string     `json:"name"`
	Contact flexString `json:"contact"`
	Passkey flexString `json:"passkey"`
}

type unapplyRequest struct {
	Contact flexString `json:"contact"`
}

// SessionResponse is returned by login and session endpoints
type SessionResponse struct {
	Session store.Session `json:"session"`
	Setup   bool          `json:"setup,omitempty"`
}

// JobsResponse is a list of jobs
type JobsResponse struct {
	Jobs []store.Job `json:"jobs"`
}

// handleLoginRecruiter verifies the recruiter credential, the first login sets it up
func (s *Server) handleLoginRecruiter(w http.ResponseWriter, r *http.Request) {
	var req recruiterLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	sid := s.board.NewSessionID()
	sess, setup, err := s.board.VerifyOrSetupRecruiter(r.Context(), sid, req.Email, req.Password)
	if err != nil {
		log.Printf("[INFO] recruiter login from %s rejected, %v", r.RemoteAddr, err)
		s.writeError(w, err)
		return
	}
	s.startSession(w, r, sid, SessionResponse{Session: sess, Setup: setup})
}

// handleLoginLaborer registers or verifies the laborer and logs them in
func (s *Server) handleLoginLaborer(w http.ResponseWriter, r *http.Request) {
	var req laborerLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	sid := s.board.NewSessionID()
	sess, err := s.board.LoginLabor(r.Context(), sid, req.Name, string(req.Contact), string(req.Passkey))
	if err != nil {
		log.Printf("[INFO] laborer login from %s rejected, %v", r.RemoteAddr, err)
		s.writeError(w, err)
		return
	}
	s.startSession(w, r, sid, SessionResponse{Session: sess})
}

// startSession drops the previous session of the request and sets the cookie for sid
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, sid string, resp SessionResponse) {
	if prev := sessionID(r); prev != "" && prev != sid {
		if err := s.board.ClearSession(r.Context(), prev); err != nil {
			log.Printf("[WARN] failed to clear previous session, %v", err)
		}
	}
	if err := s.setSessionCookie(w, r, sid); err != nil {
		log.Printf("[ERROR] %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to start session", "backend")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.board.ClearSession(r.Context(), sessionID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.clearSessionCookie(w, r)
	s.writeJSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.board.RequireRole(r.Context(), sessionID(r), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SessionResponse{Session: sess})
}

func (s *Server) handleOpenJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.board.OpenJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

// handleMyJobs returns own jobs for the recruiter and applied jobs for the laborer
func (s *Server) handleMyJobs(w http.ResponseWriter, r *http.Request) {
	sess, err := s.board.RequireRole(r.Context(), sessionID(r), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var jobs []store.Job
	switch sess.Role {
	case store.RoleRecruiter:
		jobs, err = s.board.JobsForRecruiter(r.Context(), sess.Username)
	case store.RoleLaborer:
		jobs, err = s.board.JobsForLaborer(r.Context(), sess.Username)
	default:
		err = board.ErrWrongRole
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
}

// handleAddJob posts a job owned by the logged in recruiter
func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	sess, err := s.board.RequireRole(r.Context(), sessionID(r), store.RoleRecruiter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req jobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.board.AddJob(r.Context(), board.JobRequest{
		Title:         req.Title,
		Description:   req.Description,
		Price:         string(req.PricePerHour),
		RequiredCount: string(req.RequiredCount),
		Location:      req.Location,
		StartDateTime: req.StartDateTime,
		CreatedBy:     sess.Username,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

// handleDeleteJob removes a job of the logged in recruiter.
// Foreign jobs report not found to avoid confirming they exist.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	sess, err := s.board.RequireRole(r.Context(), sessionID(r), store.RoleRecruiter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ok, err := s.board.DeleteJob(r.Context(), r.PathValue("id"), sess.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, board.ErrJobNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleApply signs up an applicant. Blank name and contact are taken from the laborer session.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !s.decode(w, r, &req) {
		return
	}
	areq := board.ApplicantRequest{Name: req.Name, Contact: string(req.Contact), Passkey: string(req.Passkey)}
	if sess, err := s.board.RequireRole(r.Context(), sessionID(r), store.RoleLaborer); err == nil {
		if areq.Name == "" {
			areq.Name = sess.Name
		}
		if areq.Contact == "" {
			areq.Contact = sess.Contact
		}
	}
	job, err := s.board.ApplyToJobWithDetails(r.Context(), r.PathValue("id"), areq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleUnapply removes an applicant. Laborers can remove only themselves,
// the recruiter removes the applicant with the given contact from own jobs only.
func (s *Server) handleUnapply(w http.ResponseWriter, r *http.Request) {
	sess, err := s.board.RequireRole(r.Context(), sessionID(r), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req unapplyRequest
	if !s.decode(w, r, &req) {
		return
	}
	var job store.Job
	switch sess.Role {
	case store.RoleLaborer:
		job, err = s.board.UnapplyFromJobByContact(r.Context(), r.PathValue("id"), sess.Contact)
	case store.RoleRecruiter:
		job, err = s.board.RemoveApplicant(r.Context(), r.PathValue("id"), string(req.Contact), sess.Username)
	default:
		err = board.ErrWrongRole
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// decode reads the JSON body into v, an empty body leaves v untouched
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return false
	}
	return true
}

// writeError writes err with the status of its kind
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var berr *board.Error
	if !errors.As(err, &berr) {
		log.Printf("[ERROR] %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, err.Error(), board.KindBackend.String())
		return
	}
	if berr.Kind == board.KindBackend {
		log.Printf("[ERROR] %v", berr.Err)
	}
	reason := berr.Reason
	if reason == "" {
		reason = berr.Kind.String()
	}
	s.writeJSONError(w, statusOf(berr), berr.Msg, reason)
}

// statusOf maps the error kind to HTTP status
func statusOf(err *board.Error) int {
	switch err.Kind {
	case board.KindValidation:
		return http.StatusBadRequest
	case board.KindAuthorization:
		if errors.Is(err, board.ErrNoSession) || errors.Is(err, board.ErrInvalidPassword) || errors.Is(err, board.ErrEmailMismatch) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case board.KindNotFound:
		return http.StatusNotFound
	case board.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message, reason string) {
	s.writeJSON(w, status, map[string]string{"error": message, "reason": reason})
}
