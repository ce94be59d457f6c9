package resources

import "time"

// Role identifies what kind of account a user holds.
type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
	RoleClinic       Role = "clinic"
)

// User is an authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Session is the payload of a successful login or registration.
type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// LoginRequest carries credentials for /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest carries the fields for /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Psychologist is a practitioner listed in the directory.
type Psychologist struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Specialties     []string `json:"specialties,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	Bio             string   `json:"bio,omitempty"`
	ClinicID        string   `json:"clinicId,omitempty"`
	AcceptsPatients bool     `json:"acceptsPatients"`
}

// Conversation is a direct chat between two participants.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []User    `json:"participants"`
	Messages      []Message `json:"messages,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitzero"`
}

// Message is a single chat message. ClientID is assigned by the sender and echoed
// back by the server so optimistic sends can be reconciled.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	ClientID       string    `json:"clientId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendMessageRequest is the body of a chat message post.
type SendMessageRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

// InviteStatus tracks an invitation through its lifecycle.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
)

// Invite links a psychologist or clinic with a prospective patient.
type Invite struct {
	Code           string       `json:"code"`
	InviterID      string       `json:"inviterId"`
	Email          string       `json:"email"`
	Status         InviteStatus `json:"status"`
	ConversationID string       `json:"conversationId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// CreateInviteRequest is the body for creating an invitation.
type CreateInviteRequest struct {
	Email   string `json:"email"`
	Message string `json:"message,omitempty"`
}

// MedicalRecord is a clinical note about a patient.
type MedicalRecord struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes"`
	Diagnosis string    `json:"diagnosis,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateMedicalRecordRequest is the body for creating a medical record.
type CreateMedicalRecordRequest struct {
	PatientID string `json:"patientId"`
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	Diagnosis string `json:"diagnosis,omitempty"`
}

// TicketStatus tracks a support ticket.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// SupportTicket is a request for help from the support team.
type SupportTicket struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Subject   string       `json:"subject"`
	Body      string       `json:"body"`
	Status    TicketStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// CreateSupportTicketRequest is the body for opening a support ticket.
type CreateSupportTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
