// Package domain defines the persistence models of the CRM: tenants (stores),
// staff, LINE channels, customers and their visits, follow-up todos, message
// templates and the message/registration audit trail. These types are mapped
// with GORM and shared by the repository and service layers.
package domain

import (
	"time"
)

// Role is a staff member's authorization role within a store.
type Role string

const (
	RoleManager Role = "manager"
	RoleCast    Role = "cast"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleManager || r == RoleCast }

// Defaults applied to stores provisioned without explicit messaging policy.
const (
	DefaultSendingStart        = "12:00"
	DefaultSendingEnd          = "22:30"
	DefaultFrequencyLimitHours = 24
)

// Store is the tenant boundary. All other tenant-scoped data is keyed by the
// store and deleted with it.
//
// Fields:
//   - AllowedSendingStartTime / EndTime: daily "HH:MM" sending window, both
//     bounds inclusive; the window never wraps past midnight.
//   - MessagingFrequencyLimitHours: minimum hours between two outbound
//     messages to the same customer.
type Store struct {
	ID                           string    `json:"id"                              gorm:"type:char(36);primaryKey"`
	Name                         string    `json:"name"                            gorm:"type:varchar(255);not null"`
	AllowedSendingStartTime      string    `json:"allowed_sending_start_time"      gorm:"type:varchar(5);not null;default:'12:00'"`
	AllowedSendingEndTime        string    `json:"allowed_sending_end_time"        gorm:"type:varchar(5);not null;default:'22:30'"`
	MessagingFrequencyLimitHours int       `json:"messaging_frequency_limit_hours" gorm:"not null;default:24"`
	CreatedAt                    time.Time `json:"created_at"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Store.
func (Store) TableName() string { return "stores" }

// User is a staff account (manager or cast) belonging to one store.
type User struct {
	ID           string    `json:"id"           gorm:"type:char(36);primaryKey"`
	StoreID      string    `json:"store_id"     gorm:"type:char(36);not null;index"`
	Email        string    `json:"email"        gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `json:"-"            gorm:"type:varchar(255);not null"`
	DisplayName  string    `json:"display_name" gorm:"type:varchar(255);not null"`
	Role         Role      `json:"role"         gorm:"type:varchar(16);not null;check:role IN ('manager','cast')"`
	IsActive     bool      `json:"is_active"    gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Store Store `json:"-" gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// LineChannel holds a store's LINE Messaging API credentials. BotUserID is
// the webhook "destination" used to route inbound payloads to their store.
type LineChannel struct {
	ID                 string    `json:"id"          gorm:"type:char(36);primaryKey"`
	StoreID            string    `json:"store_id"    gorm:"type:char(36);not null;index"`
	ChannelAccessToken string    `json:"-"           gorm:"type:text;not null"`
	ChannelSecret      string    `json:"-"           gorm:"type:varchar(255);not null"`
	BotUserID          string    `json:"bot_user_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	IsActive           bool      `json:"is_active"   gorm:"not null;default:true"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	Store Store `json:"-" gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for LineChannel.
func (LineChannel) TableName() string { return "line_channels" }

// Principal is the authenticated staff identity a request acts as. It is
// passed explicitly to service operations.
type Principal struct {
	UserID  string
	StoreID string
	Role    Role
}

// IsManager reports whether the principal has store-wide rights.
func (p Principal) IsManager() bool { return p.Role == RoleManager }
