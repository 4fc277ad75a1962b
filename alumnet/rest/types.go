package rest

import (
	"bytes"
	"encoding/json"
	"time"
)

// Authentication types

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// AuthResponse contains the bearer token and the authenticated user.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// User is an entry of the user roster.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Message types

// Message is a persisted direct message between two users.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
	Sender     *User     `json:"sender,omitempty"`
	Receiver   *User     `json:"receiver,omitempty"`
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// Alumni types

// Alumni is an alumni record.
type Alumni struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	FullName       string    `json:"full_name"`
	GraduationDate string    `json:"graduation_date"`
	Degree         string    `json:"degree"`
	Faculty        string    `json:"faculty"`
	Major          *string   `json:"major"`
	Email          string    `json:"email"`
	Phone          *string   `json:"phone"`
	CurrentJob     *string   `json:"current_job"`
	Company        *string   `json:"company"`
	SocialLinks    []string  `json:"social_links"`
	Biography      *string   `json:"biography"`
	ProfilePhoto   *string   `json:"profile_photo"`
	Country        *string   `json:"country"`
	City           *string   `json:"city"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// AlumniInput is the request body for creating or updating an alumni record.
type AlumniInput struct {
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	GraduationDate string   `json:"graduation_date"`
	Degree         string   `json:"degree"`
	Faculty        string   `json:"faculty"`
	Major          string   `json:"major,omitempty"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone,omitempty"`
	CurrentJob     string   `json:"current_job,omitempty"`
	Company        string   `json:"company,omitempty"`
	SocialLinks    []string `json:"social_links,omitempty"`
	Biography      string   `json:"biography,omitempty"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
}

// Event types

// EventStatus is the publication status of an event.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// Event is an entry of the events catalog.
type Event struct {
	ID                   int64       `json:"id"`
	Title                string      `json:"title"`
	Description          string      `json:"description"`
	Date                 time.Time   `json:"date"`
	Location             string      `json:"location"`
	Capacity             *int        `json:"capacity"`
	RegistrationDeadline *time.Time  `json:"registration_deadline"`
	Image                *string     `json:"image"`
	OrganizerInfo        *string     `json:"organizer_info"`
	Status               EventStatus `json:"status"`
	IsRegistered         bool        `json:"is_registered,omitempty"`
	AttendeeCount        int         `json:"attendee_count,omitempty"`
	CreatedAt            time.Time   `json:"created_at,omitzero"`
	UpdatedAt            time.Time   `json:"updated_at,omitzero"`
}

// EventInput is the request body for creating or updating an event.
type EventInput struct {
	Title                string      `json:"title"`
	Description          string      `json:"description"`
	Date                 time.Time   `json:"date"`
	Location             string      `json:"location"`
	Capacity             *int        `json:"capacity,omitempty"`
	RegistrationDeadline *time.Time  `json:"registration_deadline,omitempty"`
	OrganizerInfo        string      `json:"organizer_info,omitempty"`
	Status               EventStatus `json:"status,omitempty"`
}

// Attendee is a user registered for an event.
type Attendee struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Pivot    struct {
		CreatedAt time.Time `json:"created_at"`
	} `json:"pivot"`
}

// Broadcasting types

// ChannelAuth is the signed authorization for a private channel subscription.
type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

// list decodes either a bare JSON array or a {"data": [...]} envelope.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var env struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Data
	return nil
}

// item decodes either a bare object or a {"data": {...}} envelope.
type item[T any] struct {
	v T
}

func (i *item[T]) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if inner, ok := probe["data"]; ok && len(probe) == 1 {
			return json.Unmarshal(inner, &i.v)
		}
	}
	return json.Unmarshal(data, &i.v)
}
