package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MessagingStatus tracks whether a customer can currently receive messages.
type MessagingStatus string

const (
	StatusActive     MessagingStatus = "active"
	StatusBlocked    MessagingStatus = "blocked"
	StatusUnfollowed MessagingStatus = "unfollowed"
)

// Customer is a LINE user known to a store. (StoreID, LineUserID) is unique.
//
// LastVisitAt and LastMessageSentAt are nil until the first visit / send.
// AssignedCastID is nil for customers not yet linked to a cast.
type Customer struct {
	ID                string          `json:"id"                             gorm:"type:char(36);primaryKey"`
	StoreID           string          `json:"store_id"                       gorm:"type:char(36);not null;uniqueIndex:ux_customer_store_line,priority:1;index:idx_customer_followup,priority:1"`
	LineUserID        string          `json:"line_user_id"                   gorm:"type:varchar(64);not null;uniqueIndex:ux_customer_store_line,priority:2"`
	LineDisplayName   *string         `json:"line_display_name,omitempty"    gorm:"type:varchar(255)"`
	CallName          *string         `json:"call_name,omitempty"            gorm:"type:varchar(255)"`
	AssignedCastID    *string         `json:"assigned_cast_id,omitempty"     gorm:"type:char(36);index"`
	MessagingStatus   MessagingStatus `json:"messaging_status"               gorm:"type:varchar(16);not null;default:'active';index:idx_customer_followup,priority:2"`
	Tags              datatypes.JSON  `json:"tags,omitempty"`
	Notes             string          `json:"notes,omitempty"                gorm:"type:text"`
	LastVisitAt       *time.Time      `json:"last_visit_at,omitempty"        gorm:"index:idx_customer_followup,priority:3"`
	LastMessageSentAt *time.Time      `json:"last_message_sent_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	Store        Store `json:"-" gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	AssignedCast *User `json:"-" gorm:"foreignKey:AssignedCastID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// NominationType records how a cast was involved in a visit.
type NominationType string

const (
	NominationMain    NominationType = "main"
	NominationInHouse NominationType = "in_house"
	NominationHelp    NominationType = "help"
	NominationNone    NominationType = "none"
)

// Valid reports whether n is a known nomination type.
func (n NominationType) Valid() bool {
	switch n {
	case NominationMain, NominationInHouse, NominationHelp, NominationNone:
		return true
	}
	return false
}

// Visit is an immutable record of a customer's visit.
type Visit struct {
	ID                 string              `json:"id"                              gorm:"type:char(36);primaryKey"`
	StoreID            string              `json:"store_id"                        gorm:"type:char(36);not null;index"`
	CustomerID         string              `json:"customer_id"                     gorm:"type:char(36);not null;index"`
	OccurredAt         time.Time           `json:"occurred_at"                     gorm:"not null"`
	ApproxSpend        decimal.NullDecimal `json:"approx_spend"                  gorm:"type:numeric(12,2)"`
	NominationType     *NominationType     `json:"nomination_type,omitempty"       gorm:"type:varchar(16)"`
	Memo               *string             `json:"memo,omitempty"                  gorm:"type:text"`
	RegisteredByCastID *string             `json:"registered_by_cast_id,omitempty" gorm:"type:char(36)"`
	CreatedAt          time.Time           `json:"created_at"`

	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Visit.
func (Visit) TableName() string { return "visits" }
