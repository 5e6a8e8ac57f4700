package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

const (
	MaxBodyLength = 1000
	// MaxParticipants bounds deleted_by: a conversation has exactly two users.
	MaxParticipants = 2
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseMessageKind defaults an empty kind to text.
func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case "":
		return KindText, nil
	case KindText, KindImage, KindFile:
		return MessageKind(s), nil
	}
	return "", apperr.Validation("messageType must be one of text, image, file")
}

type Attachment struct {
	URL       string `bson:"url" json:"url"`
	Kind      string `bson:"type" json:"type"`
	Name      string `bson:"name" json:"name"`
	SizeBytes int64  `bson:"size" json:"size"`
}

func (a Attachment) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return apperr.Validation("attachment url is required")
	}
	if a.SizeBytes < 0 {
		return apperr.Validation("attachment size cannot be negative")
	}
	return nil
}

type Message struct {
	ID             string       `bson:"_id" json:"id"`
	Sender         string       `bson:"sender" json:"sender"`
	Receiver       string       `bson:"receiver" json:"receiver"`
	ConversationID string       `bson:"conversation_id" json:"conversationId"`
	Body           string       `bson:"message" json:"message"`
	Kind           MessageKind  `bson:"message_type" json:"messageType"`
	Attachments    []Attachment `bson:"attachments" json:"attachments"`
	IsRead         bool         `bson:"is_read" json:"isRead"`
	ReadAt         *time.Time   `bson:"read_at,omitempty" json:"readAt,omitempty"`
	IsDeleted      bool         `bson:"is_deleted" json:"isDeleted"`
	DeletedBy      []string     `bson:"deleted_by" json:"deletedBy"`
	IsReported     bool         `bson:"is_reported" json:"isReported"`
	ReportedBy     *string      `bson:"reported_by,omitempty" json:"reportedBy,omitempty"`
	ReportReason   *string      `bson:"report_reason,omitempty" json:"reportReason,omitempty"`
	CreatedAt      time.Time    `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updatedAt"`
}

// DeletedFor reports whether userID has hidden the message.
func (m *Message) DeletedFor(userID string) bool {
	for _, u := range m.DeletedBy {
		if u == userID {
			return true
		}
	}
	return false
}

func (m *Message) HasParticipant(userID string) bool {
	return m.Sender == userID || m.Receiver == userID
}

// Normalize fills nil slices so JSON and bson encode empty arrays.
func (m *Message) Normalize() {
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
}

// Clone returns a deep copy; the memory store hands out copies only.
func (m *Message) Clone() *Message {
	c := *m
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	c.DeletedBy = append([]string(nil), m.DeletedBy...)
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	if m.ReportedBy != nil {
		s := *m.ReportedBy
		c.ReportedBy = &s
	}
	if m.ReportReason != nil {
		s := *m.ReportReason
		c.ReportReason = &s
	}
	c.Normalize()
	return &c
}

// NewMessage is the append input.
type NewMessage struct {
	Sender      string
	Receiver    string
	Body        string
	Kind        string
	Attachments []Attachment
}

// ValidateBody trims the body and enforces 1..MaxBodyLength characters.
func ValidateBody(body string) (string, error) {
	b := strings.TrimSpace(body)
	n := utf8.RuneCountInString(b)
	if n == 0 {
		return "", apperr.Validation("message cannot be empty")
	}
	if n > MaxBodyLength {
		return "", apperr.Validation("message cannot exceed 1000 characters")
	}
	return b, nil
}

// Validate checks body, kind and attachments and returns the cleaned values.
func (n NewMessage) Validate() (string, MessageKind, []Attachment, error) {
	body, err := ValidateBody(n.Body)
	if err != nil {
		return "", "", nil, err
	}
	kind, err := ParseMessageKind(n.Kind)
	if err != nil {
		return "", "", nil, err
	}
	atts := make([]Attachment, 0, len(n.Attachments))
	for _, a := range n.Attachments {
		if err := a.Validate(); err != nil {
			return "", "", nil, err
		}
		if a.Kind == "" {
			a.Kind = string(kind)
		}
		atts = append(atts, a)
	}
	return body, kind, atts, nil
}

// Page is one page of conversation history, oldest first.
type Page struct {
	Messages []*Message `json:"messages"`
	Page     int        `json:"page"`
	PageSize int        `json:"limit"`
	Total    int64      `json:"total"`
	Pages    int64      `json:"pages"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ClampPage applies page/pageSize defaults.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func PageCount(total int64, pageSize int) int64 {
	if pageSize <= 0 {
		return 0
	}
	return (total + int64(pageSize) - 1) / int64(pageSize)
}

// ConversationDigest is the store-side grouping behind a conversation summary.
type ConversationDigest struct {
	ConversationID string   `bson:"_id" json:"conversationId"`
	LastMessage    *Message `bson:"last_message" json:"lastMessage"`
	UnreadCount    int64    `bson:"unread_count" json:"unreadCount"`
}

// ConversationSummary is the read-only projection served to clients.
type ConversationSummary struct {
	ConversationID string       `json:"conversationId"`
	OtherUser      *UserProfile `json:"otherUser"`
	LastMessage    *Message     `json:"lastMessage"`
	UnreadCount    int64        `json:"unreadCount"`
}
