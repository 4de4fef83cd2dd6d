package domain

import "time"

// TodoType identifies what a follow-up task is for. Generation rules share
// the same vocabulary.
type TodoType string

const (
	TodoFollowUp7    TodoType = "follow_up_7"
	TodoFollowUp14   TodoType = "follow_up_14"
	TodoReactivate30 TodoType = "reactivate_30"
	TodoBirthday     TodoType = "birthday"
)

// Valid reports whether t is a known todo type.
func (t TodoType) Valid() bool {
	switch t {
	case TodoFollowUp7, TodoFollowUp14, TodoReactivate30, TodoBirthday:
		return true
	}
	return false
}

// TodoStatus is the lifecycle state of a todo.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoSkipped    TodoStatus = "skipped"
)

// Terminal reports whether no further transition is allowed from s.
func (s TodoStatus) Terminal() bool { return s == TodoCompleted || s == TodoSkipped }

// Valid reports whether s is a known status.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted, TodoSkipped:
		return true
	}
	return false
}

// OpenTodoStatuses are the non-terminal statuses covered by the
// one-open-todo-per-(customer, type) constraint.
var OpenTodoStatuses = []TodoStatus{TodoPending, TodoInProgress}

// Todo is a follow-up task for a cast about one customer.
//
// At most one todo per (CustomerID, Type) may be pending or in_progress; the
// partial unique index ux_todo_open_customer_type enforces this (created by
// repo.AutoMigrate).
type Todo struct {
	ID          string     `json:"id"                     gorm:"type:char(36);primaryKey"`
	StoreID     string     `json:"store_id"               gorm:"type:char(36);not null;index:idx_todo_store_status,priority:1"`
	CustomerID  string     `json:"customer_id"            gorm:"type:char(36);not null;index"`
	CastID      string     `json:"cast_id"                gorm:"type:char(36);not null;index"`
	Type        TodoType   `json:"type"                   gorm:"type:varchar(32);not null"`
	DueDate     time.Time  `json:"due_date"               gorm:"not null"`
	Status      TodoStatus `json:"status"                 gorm:"type:varchar(16);not null;default:'pending';index:idx_todo_store_status,priority:2"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Todo.
func (Todo) TableName() string { return "todos" }

// TodoGenerationRule enables one kind of automatic todo for a store.
// DaysAfterLastVisit overrides the rule type's default offset when > 0.
type TodoGenerationRule struct {
	ID                 string    `json:"id"                              gorm:"type:char(36);primaryKey"`
	StoreID            string    `json:"store_id"                        gorm:"type:char(36);not null;uniqueIndex:ux_rule_store_type,priority:1"`
	RuleType           TodoType  `json:"rule_type"                       gorm:"type:varchar(32);not null;uniqueIndex:ux_rule_store_type,priority:2"`
	IsEnabled          bool      `json:"is_enabled"                      gorm:"not null;default:true"`
	DaysAfterLastVisit *int      `json:"days_after_last_visit,omitempty"`
	CronSchedule       string    `json:"cron_schedule"                   gorm:"type:varchar(64);not null;default:'0 12 * * *'"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	Store Store `json:"-" gorm:"foreignKey:StoreID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TodoGenerationRule.
func (TodoGenerationRule) TableName() string { return "todo_generation_rules" }
