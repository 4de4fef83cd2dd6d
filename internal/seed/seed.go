// Package seed loads YAML fixtures describing stores, their staff, LINE
// channels, templates and todo rules, and upserts them so that running the
// same file twice leaves the database unchanged.
//
// Values may reference environment variables (${LINE_SECRET}) so channel
// secrets and passwords stay out of the file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/domain"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// File is the top-level fixture document.
type File struct {
	Stores []Store `yaml:"stores"`
}

// Store is one tenant with everything it owns.
type Store struct {
	ID                  string     `yaml:"id"`
	Name                string     `yaml:"name"`
	SendingStart        string     `yaml:"sending_start"`
	SendingEnd          string     `yaml:"sending_end"`
	FrequencyLimitHours int        `yaml:"frequency_limit_hours"`
	DefaultRules        *bool      `yaml:"default_rules"` // nil means true
	Rules               []Rule     `yaml:"rules"`
	Channel             *Channel   `yaml:"channel"`
	Staff               []Staff    `yaml:"staff"`
	Templates           []Template `yaml:"templates"`
}

// Rule overrides (or adds) a generation rule by type.
type Rule struct {
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`
	Days    *int   `yaml:"days"`
	Cron    string `yaml:"cron"`
}

// Channel is the store's LINE official account.
type Channel struct {
	BotUserID   string `yaml:"bot_user_id"`
	AccessToken string `yaml:"access_token"`
	Secret      string `yaml:"secret"`
}

// Staff is a manager or cast login. Password is plain text in the file and
// hashed on load.
type Staff struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
}

// Template is a message template. Owner is a staff email and makes the
// template cast-scoped.
type Template struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Owner string `yaml:"owner"`
}

// Summary counts the rows written by Apply.
type Summary struct {
	Stores    int
	Staff     int
	Channels  int
	Templates int
	Rules     int
}

// Parse decodes a fixture document after expanding ${VAR} references.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and parses path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the document without touching the database.
func (f *File) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, st := range f.Stores {
		at := fmt.Sprintf("stores[%d]", i)
		if st.ID == "" || st.Name == "" {
			errs = append(errs, fmt.Errorf("%s: id and name are required", at))
		}
		if seen[st.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", at, st.ID))
		}
		seen[st.ID] = true
		for _, clock := range []string{st.SendingStart, st.SendingEnd} {
			if clock == "" {
				continue
			}
			if _, err := services.ParseClock(clock); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", at, err))
			}
		}
		if st.FrequencyLimitHours < 0 {
			errs = append(errs, fmt.Errorf("%s: frequency_limit_hours must be >= 0", at))
		}
		emails := map[string]bool{}
		for j, s := range st.Staff {
			if s.Email == "" || s.Password == "" {
				errs = append(errs, fmt.Errorf("%s.staff[%d]: email and password are required", at, j))
			}
			if !domain.Role(s.Role).Valid() {
				errs = append(errs, fmt.Errorf("%s.staff[%d]: unknown role %q", at, j, s.Role))
			}
			emails[strings.ToLower(s.Email)] = true
		}
		for j, r := range st.Rules {
			if !domain.TodoType(r.Type).Valid() {
				errs = append(errs, fmt.Errorf("%s.rules[%d]: unknown type %q", at, j, r.Type))
			}
		}
		for j, t := range st.Templates {
			if t.ID == "" || t.Title == "" || t.Body == "" {
				errs = append(errs, fmt.Errorf("%s.templates[%d]: id, title and body are required", at, j))
			}
			if t.Owner != "" && !emails[strings.ToLower(t.Owner)] {
				errs = append(errs, fmt.Errorf("%s.templates[%d]: owner %q is not staff of this store", at, j, t.Owner))
			}
		}
		if ch := st.Channel; ch != nil && (ch.BotUserID == "" || ch.AccessToken == "" || ch.Secret == "") {
			errs = append(errs, fmt.Errorf("%s.channel: bot_user_id, access_token and secret are required", at))
		}
	}
	return errors.Join(errs...)
}

// Apply upserts everything in f inside one transaction.
func Apply(ctx context.Context, db *gorm.DB, f *File) (Summary, error) {
	var sum Summary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range f.Stores {
			if err := applyStore(ctx, tx, &f.Stores[i], &sum); err != nil {
				return fmt.Errorf("store %s: %w", f.Stores[i].ID, err)
			}
		}
		return nil
	})
	return sum, err
}

func applyStore(ctx context.Context, tx *gorm.DB, in *Store, sum *Summary) error {
	st := &domain.Store{
		ID:                           in.ID,
		Name:                         in.Name,
		AllowedSendingStartTime:      orDefault(in.SendingStart, domain.DefaultSendingStart),
		AllowedSendingEndTime:        orDefault(in.SendingEnd, domain.DefaultSendingEnd),
		MessagingFrequencyLimitHours: in.FrequencyLimitHours,
	}
	if st.MessagingFrequencyLimitHours == 0 {
		st.MessagingFrequencyLimitHours = domain.DefaultFrequencyLimitHours
	}
	if err := repo.UpsertStore(ctx, tx, st); err != nil {
		return err
	}
	sum.Stores++

	if ch := in.Channel; ch != nil {
		err := repo.UpsertLineChannel(ctx, tx, &domain.LineChannel{
			StoreID:            st.ID,
			BotUserID:          ch.BotUserID,
			ChannelAccessToken: ch.AccessToken,
			ChannelSecret:      ch.Secret,
			IsActive:           true,
		})
		if err != nil {
			return fmt.Errorf("channel: %w", err)
		}
		sum.Channels++
	}

	owners := map[string]string{}
	for _, s := range in.Staff {
		hash, err := services.HashPassword(s.Password)
		if err != nil {
			return fmt.Errorf("staff %s: %w", s.Email, err)
		}
		u := &domain.User{
			ID:           s.ID,
			StoreID:      st.ID,
			Email:        s.Email,
			PasswordHash: hash,
			DisplayName:  orDefault(s.Name, s.Email),
			Role:         domain.Role(s.Role),
			IsActive:     true,
		}
		if err := repo.UpsertUser(ctx, tx, u); err != nil {
			return fmt.Errorf("staff %s: %w", s.Email, err)
		}
		owners[strings.ToLower(s.Email)] = u.ID
		sum.Staff++
	}

	for _, t := range in.Templates {
		tpl := &domain.Template{
			ID:       t.ID,
			StoreID:  st.ID,
			Scope:    domain.ScopeStore,
			Type:     orDefault(t.Type, "custom"),
			Title:    t.Title,
			Body:     t.Body,
			IsActive: true,
		}
		if t.Owner != "" {
			id := owners[strings.ToLower(t.Owner)]
			tpl.Scope, tpl.OwnerCastID = domain.ScopeCast, &id
		}
		if err := repo.UpsertTemplate(ctx, tx, tpl); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
		sum.Templates++
	}

	for _, r := range mergeRules(st.ID, in) {
		if err := repo.UpsertRule(ctx, tx, &r); err != nil {
			return fmt.Errorf("rule %s: %w", r.RuleType, err)
		}
		sum.Rules++
	}
	return nil
}

// mergeRules starts from the default rules (unless disabled) and applies
// per-type overrides in file order.
func mergeRules(storeID string, in *Store) []domain.TodoGenerationRule {
	var out []domain.TodoGenerationRule
	if in.DefaultRules == nil || *in.DefaultRules {
		out = services.DefaultRules(storeID)
	}
	for _, o := range in.Rules {
		idx := -1
		for i := range out {
			if out[i].RuleType == domain.TodoType(o.Type) {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, domain.TodoGenerationRule{
				StoreID:      storeID,
				RuleType:     domain.TodoType(o.Type),
				IsEnabled:    true,
				CronSchedule: "0 12 * * *",
			})
			idx = len(out) - 1
		}
		if o.Enabled != nil {
			out[idx].IsEnabled = *o.Enabled
		}
		if o.Days != nil {
			d := *o.Days
			out[idx].DaysAfterLastVisit = &d
		}
		if o.Cron != "" {
			out[idx].CronSchedule = o.Cron
		}
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
