package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/florianilch/mindline/internal/resources"
)

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerBody struct {
	Email    string         `json:"email" validate:"required,email"`
	Password string         `json:"password" validate:"required,min=8"`
	Name     string         `json:"name" validate:"required,max=120"`
	Role     resources.Role `json:"role" validate:"required,oneof=patient psychologist clinic"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// tokenPair is the data of a refresh response.
type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type sendMessageBody struct {
	Content  string `json:"content" validate:"required,max=4000"`
	ClientID string `json:"clientId" validate:"omitempty,max=64"`
}

type createInviteBody struct {
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"max=1000"`
}

type createRecordBody struct {
	PatientID string `json:"patientId" validate:"required"`
	Title     string `json:"title" validate:"required,max=200"`
	Notes     string `json:"notes" validate:"required"`
	Diagnosis string `json:"diagnosis" validate:"max=200"`
}

type createTicketBody struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Body    string `json:"body" validate:"required,max=4000"`
}

// writeStateError maps a state error to a response.
func writeStateError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		msg := "Not found"
		if err != errNotFound {
			msg = detail(err, errNotFound) + " not found"
		}
		writeError(ctx, w, msg, http.StatusNotFound)
	case errors.Is(err, errForbidden):
		writeError(ctx, w, detail(err, errForbidden), http.StatusForbidden)
	case errors.Is(err, errConflict):
		writeError(ctx, w, detail(err, errConflict), http.StatusConflict)
	case errors.Is(err, errBadRequest):
		writeError(ctx, w, detail(err, errBadRequest), http.StatusBadRequest)
	default:
		writeError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// detail strips the sentinel prefix from a wrapped state error.
func detail(err, sentinel error) string {
	return capitalize(strings.TrimPrefix(err.Error(), sentinel.Error()+": "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// startSession issues a credential pair for u.
func (s *Server) startSession(ctx context.Context, w http.ResponseWriter, u resources.User, status int) {
	access, err := s.auth.issue(u)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", "error", err)
		writeError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeData(ctx, w, resources.Session{
		Token:        access,
		RefreshToken: s.state.grant(u.ID),
		User:         u,
	}, status)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !s.decode(w, r, &body) {
		return
	}

	u, err := s.state.authenticate(body.Email, body.Password)
	if err != nil {
		writeError(r.Context(), w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	s.startSession(r.Context(), w, u, http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !s.decode(w, r, &body) {
		return
	}

	u, err := s.state.register(body.Email, body.Password, strings.TrimSpace(body.Name), body.Role)
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	if u.Role == resources.RolePsychologist {
		s.state.addPsychologist(resources.Psychologist{ID: u.ID, Name: u.Name, AcceptsPatients: true})
	}

	s.startSession(r.Context(), w, u, http.StatusCreated)
}

// handleRefresh rotates a refresh token. Rejections use a 401 with a failed envelope.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body refreshBody
	if !s.decode(w, r, &body) {
		return
	}

	userID, err := s.state.redeem(body.RefreshToken)
	if err != nil {
		writeError(ctx, w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}
	u, err := s.state.user(userID)
	if err != nil {
		writeError(ctx, w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	access, err := s.auth.issue(u)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue access token", "error", err)
		writeError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeData(ctx, w, tokenPair{Token: access, RefreshToken: s.state.grant(u.ID)}, http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	revoked := s.state.revokeAll(u.ID)
	s.logger.DebugContext(r.Context(), "revoked refresh tokens", "user_id", u.ID, "count", revoked)
	writeData(r.Context(), w, nil, http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, currentUser(r.Context()), http.StatusOK)
}

func (s *Server) handleListPsychologists(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, s.state.listPsychologists(), http.StatusOK)
}

func (s *Server) handleGetPsychologist(w http.ResponseWriter, r *http.Request) {
	p, err := s.state.psychologist(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, "Psychologist not found", http.StatusNotFound)
		return
	}
	writeData(r.Context(), w, p, http.StatusOK)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	writeData(r.Context(), w, s.state.conversationsOf(u.ID), http.StatusOK)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	c, err := s.state.conversation(r.PathValue("id"), u.ID)
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	writeData(r.Context(), w, c, http.StatusOK)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body sendMessageBody
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(r.Context(), w, "content is required", http.StatusBadRequest)
		return
	}

	u := currentUser(r.Context())
	msg, created, err := s.state.postMessage(r.PathValue("id"), u, body.Content, body.ClientID)
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeData(r.Context(), w, msg, status)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, s.state.invitesOf(currentUser(r.Context())), http.StatusOK)
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body createInviteBody
	if !s.decode(w, r, &body) {
		return
	}

	inv, err := s.state.createInvite(currentUser(r.Context()), body.Email)
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	writeData(r.Context(), w, inv, http.StatusCreated)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := s.state.acceptInvite(r.PathValue("code"), currentUser(r.Context()))
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	writeData(r.Context(), w, inv, http.StatusOK)
}

func (s *Server) handleListMedicalRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.state.medicalRecords(currentUser(r.Context()), r.URL.Query().Get("patientId"))
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	writeData(r.Context(), w, records, http.StatusOK)
}

func (s *Server) handleCreateMedicalRecord(w http.ResponseWriter, r *http.Request) {
	var body createRecordBody
	if !s.decode(w, r, &body) {
		return
	}

	rec, err := s.state.createMedicalRecord(currentUser(r.Context()), resources.CreateMedicalRecordRequest{
		PatientID: body.PatientID,
		Title:     body.Title,
		Notes:     body.Notes,
		Diagnosis: body.Diagnosis,
	})
	if err != nil {
		writeStateError(r.Context(), w, err)
		return
	}
	writeData(r.Context(), w, rec, http.StatusCreated)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, s.state.ticketsOf(currentUser(r.Context()).ID), http.StatusOK)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var body createTicketBody
	if !s.decode(w, r, &body) {
		return
	}

	t := s.state.createTicket(currentUser(r.Context()).ID, body.Subject, body.Body)
	writeData(r.Context(), w, t, http.StatusCreated)
}
