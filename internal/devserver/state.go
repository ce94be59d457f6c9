package devserver

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/florianilch/mindline/internal/resources"
)

var (
	errNotFound     = errors.New("not found")
	errForbidden    = errors.New("forbidden")
	errConflict     = errors.New("conflict")
	errBadRequest   = errors.New("bad request")
	errInvalidLogin = errors.New("invalid email or password")
	errInvalidGrant = errors.New("invalid refresh token")
)

type account struct {
	user         resources.User
	passwordHash []byte
}

type refreshGrant struct {
	userID    string
	expiresAt time.Time
}

type conversation struct {
	id           string
	participants []string
	messages     []resources.Message
}

// state is the backend's data. All methods are safe for concurrent use and return
// copies.
type state struct {
	now        func() time.Time
	cost       int
	refreshTTL time.Duration

	mu            sync.Mutex
	accounts      map[string]*account
	emails        map[string]string
	grants        map[string]refreshGrant
	psychologists []resources.Psychologist
	conversations []*conversation
	invites       []*resources.Invite
	records       []resources.MedicalRecord
	tickets       []resources.SupportTicket
}

func newState(now func() time.Time, cost int, refreshTTL time.Duration) *state {
	return &state{
		now:        now,
		cost:       cost,
		refreshTTL: refreshTTL,
		accounts:   make(map[string]*account),
		emails:     make(map[string]string),
		grants:     make(map[string]refreshGrant),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// register creates an account. Passwords are hashed outside the lock.
func (s *state) register(email, password, name string, role resources.Role) (resources.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return resources.User{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	if _, exists := s.emails[email]; exists {
		return resources.User{}, fmt.Errorf("%w: email already registered", errConflict)
	}

	u := resources.User{ID: uuid.NewString(), Email: email, Name: name, Role: role}
	s.accounts[u.ID] = &account{user: u, passwordHash: hash}
	s.emails[email] = u.ID
	return u, nil
}

func (s *state) authenticate(email, password string) (resources.User, error) {
	s.mu.Lock()
	id, ok := s.emails[normalizeEmail(email)]
	var acct account
	if ok {
		acct = *s.accounts[id]
	}
	s.mu.Unlock()

	if !ok {
		return resources.User{}, errInvalidLogin
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return resources.User{}, errInvalidLogin
	}
	return acct.user, nil
}

func (s *state) user(id string) (resources.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return resources.User{}, errNotFound
	}
	return acct.user, nil
}

// grant stores a new refresh token for userID.
func (s *state) grant(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	s.grants[token] = refreshGrant{userID: userID, expiresAt: s.now().Add(s.refreshTTL)}
	return token
}

// redeem consumes a refresh token. A token can be redeemed once.
func (s *state) redeem(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[token]
	if !ok {
		return "", errInvalidGrant
	}
	delete(s.grants, token)
	if !s.now().Before(g.expiresAt) {
		return "", errInvalidGrant
	}
	return g.userID, nil
}

// revokeAll drops every refresh token of userID.
func (s *state) revokeAll(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for token, g := range s.grants {
		if g.userID == userID {
			delete(s.grants, token)
			n++
		}
	}
	return n
}

func (s *state) listPsychologists() []resources.Psychologist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.psychologists)
}

func (s *state) psychologist(id string) (resources.Psychologist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.psychologists, func(p resources.Psychologist) bool { return p.ID == id })
	if i < 0 {
		return resources.Psychologist{}, errNotFound
	}
	return s.psychologists[i], nil
}

// conversationsOf lists userID's conversations, most recently active first.
func (s *state) conversationsOf(userID string) []resources.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []resources.Conversation{}
	for _, c := range s.conversations {
		if slices.Contains(c.participants, userID) {
			out = append(out, s.render(c, false))
		}
	}
	slices.SortStableFunc(out, func(a, b resources.Conversation) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
	return out
}

func (s *state) conversation(id, userID string) (resources.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.findConversation(id, userID)
	if err != nil {
		return resources.Conversation{}, err
	}
	return s.render(c, true), nil
}

// postMessage appends a message. A repeated client ID from the same sender returns
// the stored message and created=false.
func (s *state) postMessage(conversationID string, sender resources.User, content, clientID string) (resources.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.findConversation(conversationID, sender.ID)
	if err != nil {
		return resources.Message{}, false, err
	}

	if clientID != "" {
		i := slices.IndexFunc(c.messages, func(m resources.Message) bool {
			return m.SenderID == sender.ID && m.ClientID == clientID
		})
		if i >= 0 {
			return c.messages[i], false, nil
		}
	}

	msg := resources.Message{
		ID:             uuid.NewString(),
		ConversationID: c.id,
		SenderID:       sender.ID,
		Content:        content,
		ClientID:       clientID,
		CreatedAt:      s.now().UTC(),
	}
	c.messages = append(c.messages, msg)
	return msg, true, nil
}

// findConversation requires mu.
func (s *state) findConversation(id, userID string) (*conversation, error) {
	i := slices.IndexFunc(s.conversations, func(c *conversation) bool { return c.id == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: conversation", errNotFound)
	}
	c := s.conversations[i]
	if !slices.Contains(c.participants, userID) {
		return nil, fmt.Errorf("%w: not a participant", errForbidden)
	}
	return c, nil
}

// openConversation returns the conversation between a and b, creating it if needed.
// Requires mu.
func (s *state) openConversation(a, b string) *conversation {
	for _, c := range s.conversations {
		if slices.Contains(c.participants, a) && slices.Contains(c.participants, b) {
			return c
		}
	}
	c := &conversation{id: uuid.NewString(), participants: []string{a, b}}
	s.conversations = append(s.conversations, c)
	return c
}

// sharesConversation requires mu.
func (s *state) sharesConversation(a, b string) bool {
	return slices.ContainsFunc(s.conversations, func(c *conversation) bool {
		return slices.Contains(c.participants, a) && slices.Contains(c.participants, b)
	})
}

// render requires mu.
func (s *state) render(c *conversation, withMessages bool) resources.Conversation {
	out := resources.Conversation{ID: c.id, Participants: []resources.User{}}
	for _, id := range c.participants {
		if acct, ok := s.accounts[id]; ok {
			out.Participants = append(out.Participants, acct.user)
		}
	}
	if n := len(c.messages); n > 0 {
		out.LastMessageAt = c.messages[n-1].CreatedAt
	}
	if withMessages {
		out.Messages = slices.Clone(c.messages)
		if out.Messages == nil {
			out.Messages = []resources.Message{}
		}
	}
	return out
}

// invitesOf lists invites sent by u or addressed to u's email.
func (s *state) invitesOf(u resources.User) []resources.Invite {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []resources.Invite{}
	for _, inv := range s.invites {
		if inv.InviterID == u.ID || inv.Email == u.Email {
			out = append(out, *inv)
		}
	}
	return out
}

func (s *state) createInvite(inviter resources.User, email string) (resources.Invite, error) {
	if inviter.Role != resources.RolePsychologist && inviter.Role != resources.RoleClinic {
		return resources.Invite{}, fmt.Errorf("%w: only psychologists and clinics can invite", errForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv := &resources.Invite{
		Code:      strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10]),
		InviterID: inviter.ID,
		Email:     normalizeEmail(email),
		Status:    resources.InviteStatusPending,
		CreatedAt: s.now().UTC(),
	}
	s.invites = append(s.invites, inv)
	return *inv, nil
}

// acceptInvite marks the invite accepted and opens a conversation between the
// inviter and u.
func (s *state) acceptInvite(code string, u resources.User) (resources.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.invites, func(inv *resources.Invite) bool { return strings.EqualFold(inv.Code, code) })
	if i < 0 {
		return resources.Invite{}, fmt.Errorf("%w: invite", errNotFound)
	}
	inv := s.invites[i]

	switch {
	case inv.Email != u.Email:
		return resources.Invite{}, fmt.Errorf("%w: invite addressed to another email", errForbidden)
	case inv.Status == resources.InviteStatusAccepted:
		return resources.Invite{}, fmt.Errorf("%w: invite already accepted", errConflict)
	}

	c := s.openConversation(inv.InviterID, u.ID)
	inv.Status = resources.InviteStatusAccepted
	inv.ConversationID = c.id
	return *inv, nil
}

// medicalRecords lists records visible to u. Patients see their own; psychologists
// see those of patients they are in conversation with.
func (s *state) medicalRecords(u resources.User, patientID string) ([]resources.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Role {
	case resources.RolePatient:
		if patientID != "" && patientID != u.ID {
			return nil, fmt.Errorf("%w: patients can only view their own records", errForbidden)
		}
		patientID = u.ID
	case resources.RolePsychologist:
		if patientID == "" {
			return nil, fmt.Errorf("%w: patientId is required", errBadRequest)
		}
		if !s.sharesConversation(u.ID, patientID) {
			return nil, fmt.Errorf("%w: not a patient of this psychologist", errForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: medical records are not available to this account", errForbidden)
	}

	out := []resources.MedicalRecord{}
	for _, r := range s.records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b resources.MedicalRecord) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *state) createMedicalRecord(author resources.User, req resources.CreateMedicalRecordRequest) (resources.MedicalRecord, error) {
	if author.Role != resources.RolePsychologist {
		return resources.MedicalRecord{}, fmt.Errorf("%w: only psychologists can write records", errForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sharesConversation(author.ID, req.PatientID) {
		return resources.MedicalRecord{}, fmt.Errorf("%w: not a patient of this psychologist", errForbidden)
	}

	rec := resources.MedicalRecord{
		ID:        uuid.NewString(),
		PatientID: req.PatientID,
		AuthorID:  author.ID,
		Title:     req.Title,
		Notes:     req.Notes,
		Diagnosis: req.Diagnosis,
		CreatedAt: s.now().UTC(),
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *state) ticketsOf(userID string) []resources.SupportTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []resources.SupportTicket{}
	for _, t := range s.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *state) createTicket(userID, subject, body string) resources.SupportTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := resources.SupportTicket{
		ID:        uuid.NewString(),
		UserID:    userID,
		Subject:   subject,
		Body:      body,
		Status:    resources.TicketStatusOpen,
		CreatedAt: s.now().UTC(),
	}
	s.tickets = append(s.tickets, t)
	return t
}

// addPsychologist lists an existing psychologist account in the directory.
func (s *state) addPsychologist(p resources.Psychologist) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.psychologists = append(s.psychologists, p)
	slices.SortFunc(s.psychologists, func(a, b resources.Psychologist) int { return cmp.Compare(a.Name, b.Name) })
}

// connect opens a conversation between two accounts and posts an opening message
// from a.
func (s *state) connect(a, b, opening string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.openConversation(a, b)
	if opening != "" {
		c.messages = append(c.messages, resources.Message{
			ID:             uuid.NewString(),
			ConversationID: c.id,
			SenderID:       a,
			Content:        opening,
			CreatedAt:      s.now().UTC(),
		})
	}
}
