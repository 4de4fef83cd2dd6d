package domain

import "time"

// TemplateScope says whether a template is shared by the store or owned by
// one cast.
type TemplateScope string

const (
	ScopeStore TemplateScope = "store"
	ScopeCast  TemplateScope = "cast"
)

// Template is a reusable message body with {placeholder} tokens.
type Template struct {
	ID          string        `json:"id"                      gorm:"type:char(36);primaryKey"`
	StoreID     string        `json:"store_id"                gorm:"type:char(36);not null;index"`
	Scope       TemplateScope `json:"scope"                   gorm:"type:varchar(8);not null;default:'store'"`
	OwnerCastID *string       `json:"owner_cast_id,omitempty" gorm:"type:char(36)"`
	Type        string        `json:"type"                    gorm:"type:varchar(32);not null;default:'custom'"`
	Title       string        `json:"title"                   gorm:"type:varchar(255);not null"`
	Body        string        `json:"body"                    gorm:"type:text;not null"`
	IsActive    bool          `json:"is_active"               gorm:"not null;default:true"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Template.
func (Template) TableName() string { return "templates" }

// SendStatus is the outcome recorded for an outbound message attempt.
type SendStatus string

const (
	SendSuccess SendStatus = "success"
	SendFailed  SendStatus = "failed"
	SendBlocked SendStatus = "blocked"
)

// MessageLog is the audit record of every outbound attempt, including the
// ones denied by the sending guardrails.
type MessageLog struct {
	ID          string     `json:"id"                    gorm:"type:char(36);primaryKey"`
	StoreID     string     `json:"store_id"              gorm:"type:char(36);not null;index"`
	CustomerID  string     `json:"customer_id"           gorm:"type:char(36);not null;index"`
	CastID      string     `json:"cast_id"               gorm:"type:char(36);not null"`
	TemplateID  *string    `json:"template_id,omitempty" gorm:"type:char(36)"`
	TodoID      *string    `json:"todo_id,omitempty"     gorm:"type:char(36)"`
	Body        string     `json:"body"                  gorm:"type:text;not null"`
	Status      SendStatus `json:"status"                gorm:"type:varchar(16);not null"`
	DenyReason  *string    `json:"deny_reason,omitempty" gorm:"type:varchar(32)"`
	APIResponse string     `json:"-"                     gorm:"type:text"`
	SentAt      time.Time  `json:"sent_at"               gorm:"not null"`
}

// TableName returns the database table name for MessageLog.
func (MessageLog) TableName() string { return "message_logs" }

// InboundMessage stores a message received from a LINE user that was not
// consumed as a registration code.
type InboundMessage struct {
	ID          string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	StoreID     string    `json:"store_id"              gorm:"type:char(36);not null;index"`
	CustomerID  *string   `json:"customer_id,omitempty" gorm:"type:char(36);index"`
	LineUserID  string    `json:"line_user_id"          gorm:"type:varchar(64);not null"`
	MessageType string    `json:"message_type"          gorm:"type:varchar(32);not null"`
	Body        *string   `json:"body,omitempty"        gorm:"type:text"`
	ReceivedAt  time.Time `json:"received_at"           gorm:"not null"`
}

// TableName returns the database table name for InboundMessage.
func (InboundMessage) TableName() string { return "inbound_messages" }

// RegistrationCode is a short-lived code a cast hands to a guest so that the
// guest's LINE account gets linked to that cast on first contact.
type RegistrationCode struct {
	ID               string     `json:"id"                            gorm:"type:char(36);primaryKey"`
	StoreID          string     `json:"store_id"                      gorm:"type:char(36);not null;index:idx_code_store_code,priority:1"`
	CastID           string     `json:"cast_id"                       gorm:"type:char(36);not null;index"`
	Code             string     `json:"code"                          gorm:"type:varchar(8);not null;index:idx_code_store_code,priority:2"`
	ExpiresAt        time.Time  `json:"expires_at"                    gorm:"not null"`
	UsedAt           *time.Time `json:"used_at,omitempty"`
	UsedByCustomerID *string    `json:"used_by_customer_id,omitempty" gorm:"type:char(36)"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName returns the database table name for RegistrationCode.
func (RegistrationCode) TableName() string { return "registration_codes" }

// Expired reports whether the code is past its expiry at now. A code is
// still valid at exactly ExpiresAt.
func (c RegistrationCode) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// Used reports whether the code has been redeemed.
func (c RegistrationCode) Used() bool { return c.UsedAt != nil }
