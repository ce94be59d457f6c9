package resources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"github.com/florianilch/mindline/internal/apiclient"
	"github.com/florianilch/mindline/internal/credstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Requester issues a request and returns the body of a 2xx response.
// Implemented by *apiclient.Client.
type Requester interface {
	Request(ctx context.Context, method, path string, body any, header http.Header) ([]byte, error)
}

// Envelope is the response wrapper used by every backend route.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// Service exposes the backend's resources as typed calls.
type Service struct {
	client Requester
	store  credstore.Store
	logger *slog.Logger
}

// New creates a Service. store receives the credential pair issued by Login and
// Register and is cleared by Logout.
func New(client Requester, store credstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client: client,
		store:  store,
		logger: logger,
	}
}

// call issues a request and unwraps the envelope's data field.
func call[T any](ctx context.Context, s *Service, method, path string, body any) (T, error) {
	var zero T

	raw, err := s.client.Request(ctx, method, path, body, nil)
	if err != nil {
		return zero, normalize(err)
	}

	var envelope Envelope[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return zero, &APIError{Message: messageMalformed, Err: err}
	}
	if !envelope.Success {
		msg := envelope.Message
		if msg == "" {
			msg = messageFailed
		}
		return zero, &APIError{Code: http.StatusOK, Message: msg}
	}
	return envelope.Data, nil
}

// Login signs in and stores the issued credential pair.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	return s.startSession(ctx, "/auth/login", LoginRequest{Email: email, Password: password})
}

// Register creates an account and stores the issued credential pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	return s.startSession(ctx, "/auth/register", req)
}

func (s *Service) startSession(ctx context.Context, path string, body any) (*Session, error) {
	session, err := call[Session](apiclient.Anonymous(ctx), s, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if session.Token == "" {
		return nil, &APIError{Message: messageMalformed, Err: errors.New("missing access token")}
	}

	if err := credstore.SavePair(ctx, s.store, session.Token, session.RefreshToken); err != nil {
		return nil, &APIError{Message: "Signed in, but the session could not be saved.", Err: err}
	}

	s.logger.InfoContext(ctx, "session started", "user_id", session.User.ID, "role", session.User.Role)
	return &session, nil
}

// Logout tells the backend to end the session and clears stored credentials. The
// local session is cleared even when the backend call fails.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := call[any](ctx, s, http.MethodPost, "/auth/logout", nil); err != nil {
		s.logger.WarnContext(ctx, "backend logout failed", "error", err)
	}

	if err := s.store.Clear(ctx); err != nil {
		return &APIError{Message: "The local session could not be cleared.", Err: err}
	}
	return nil
}

// Me returns the signed-in user.
func (s *Service) Me(ctx context.Context) (*User, error) {
	user, err := call[User](ctx, s, http.MethodGet, "/users/me", nil)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) ListPsychologists(ctx context.Context) ([]Psychologist, error) {
	return call[[]Psychologist](ctx, s, http.MethodGet, "/psychologists", nil)
}

func (s *Service) GetPsychologist(ctx context.Context, id string) (*Psychologist, error) {
	p, err := call[Psychologist](ctx, s, http.MethodGet, "/psychologists/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	return call[[]Conversation](ctx, s, http.MethodGet, "/chat/conversations", nil)
}

// GetConversation returns a conversation including its messages.
func (s *Service) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := call[Conversation](ctx, s, http.MethodGet, "/chat/conversations/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SendMessage posts a message to a conversation and returns it as stored by the server.
func (s *Service) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	m, err := call[Message](ctx, s, http.MethodPost, "/chat/conversations/"+url.PathEscape(conversationID)+"/messages", req)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) ListInvites(ctx context.Context) ([]Invite, error) {
	return call[[]Invite](ctx, s, http.MethodGet, "/invites", nil)
}

func (s *Service) CreateInvite(ctx context.Context, req CreateInviteRequest) (*Invite, error) {
	inv, err := call[Invite](ctx, s, http.MethodPost, "/invites", req)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// AcceptInvite accepts an invitation by code and returns it with its conversation set.
func (s *Service) AcceptInvite(ctx context.Context, code string) (*Invite, error) {
	inv, err := call[Invite](ctx, s, http.MethodPost, "/invites/"+url.PathEscape(code)+"/accept", nil)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListMedicalRecords lists records for patientID. An empty patientID lists the
// signed-in patient's own records.
func (s *Service) ListMedicalRecords(ctx context.Context, patientID string) ([]MedicalRecord, error) {
	path := "/medical-records"
	if patientID != "" {
		path += "?" + url.Values{"patientId": {patientID}}.Encode()
	}
	return call[[]MedicalRecord](ctx, s, http.MethodGet, path, nil)
}

func (s *Service) CreateMedicalRecord(ctx context.Context, req CreateMedicalRecordRequest) (*MedicalRecord, error) {
	rec, err := call[MedicalRecord](ctx, s, http.MethodPost, "/medical-records", req)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) ListSupportTickets(ctx context.Context) ([]SupportTicket, error) {
	return call[[]SupportTicket](ctx, s, http.MethodGet, "/support/tickets", nil)
}

func (s *Service) CreateSupportTicket(ctx context.Context, req CreateSupportTicketRequest) (*SupportTicket, error) {
	ticket, err := call[SupportTicket](ctx, s, http.MethodPost, "/support/tickets", req)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}
