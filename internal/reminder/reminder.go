// Package reminder notifies when the last feeding is older than the
// configured interval.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/collection"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/models"
)

// FeedingTag groups feeding reminders so a newer one replaces the last.
const FeedingTag = "feeding-reminder"

// Notification is one user-visible reminder.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// Notifier shows notifications. Delivery is best effort.
type Notifier interface {
	RequestPermission(ctx context.Context) bool
	Show(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) RequestPermission(context.Context) bool { return true }

func (LogNotifier) Show(_ context.Context, n Notification) {
	logging.Info(n.Title, map[string]interface{}{
		"body": n.Body,
		"tag":  n.Tag,
	})
}

// FeedingSource reports when the most recent feeding was logged.
type FeedingSource interface {
	LastFeeding(ctx context.Context) (time.Time, bool, error)
}

// BackendSource reads the newest feeding log of the current user.
type BackendSource struct {
	Backend backend.Backend
	Users   collection.UserResolver
}

// LastFeeding implements FeedingSource.
func (s BackendSource) LastFeeding(ctx context.Context) (time.Time, bool, error) {
	rows, err := s.Backend.Select(ctx, backend.Query{
		Table: models.BabyLog{}.TableName(),
		Eq: map[string]any{
			"user_id":  s.Users.ResolveUserID(ctx),
			"log_type": string(models.LogFeeding),
		},
		Order: []backend.Order{{Column: "logged_at", Descending: true}},
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	l, err := backend.Decode[models.BabyLog](rows[0])
	if err != nil {
		return time.Time{}, false, err
	}
	return l.LoggedAtTime(), true, nil
}

// Config controls the feeding reminder.
type Config struct {
	// Interval is how long after a feeding the reminder fires.
	Interval time.Duration
	// Schedule is the cron spec for checks, e.g. "@every 1m".
	Schedule string
}

// DefaultConfig returns a three hour interval checked every minute.
func DefaultConfig() Config {
	return Config{Interval: 3 * time.Hour, Schedule: "@every 1m"}
}

// FeedingReminder checks on a cron schedule and notifies once per feeding.
type FeedingReminder struct {
	source   FeedingSource
	notifier Notifier
	interval time.Duration
	schedule cron.Schedule
	now      func() time.Time

	mu          sync.Mutex
	cron        *cron.Cron
	permitted   bool
	notifiedFor time.Time
}

// NewFeedingReminder validates cfg and creates a stopped reminder.
func NewFeedingReminder(source FeedingSource, notifier Notifier, cfg Config) (*FeedingReminder, error) {
	if cfg.Interval <= 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "feeding interval must be positive")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid reminder schedule", err)
	}
	return &FeedingReminder{
		source:    source,
		notifier:  notifier,
		interval:  cfg.Interval,
		schedule:  schedule,
		now:       time.Now,
		permitted: true,
	}, nil
}

// Start asks for notification permission and begins scheduled checks.
// Without permission checks still run but nothing is shown.
func (r *FeedingReminder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	permitted := r.notifier.RequestPermission(ctx)

	c := cron.New()
	c.Schedule(r.schedule, cron.FuncJob(func() {
		if err := r.Check(ctx); err != nil {
			logging.Warn("Feeding reminder check failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}))

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return
	}
	r.permitted = permitted
	r.cron = c
	r.mu.Unlock()

	c.Start()
	logging.Info("Feeding reminder started", map[string]interface{}{
		"interval":  r.interval.String(),
		"permitted": permitted,
	})
}

// Stop halts scheduled checks and waits for a running check to finish.
func (r *FeedingReminder) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	logging.Info("Feeding reminder stopped", nil)
}

// Check runs one evaluation outside the schedule.
func (r *FeedingReminder) Check(ctx context.Context) error {
	_, err := r.check(ctx)
	return err
}

func (r *FeedingReminder) check(ctx context.Context) (bool, error) {
	last, ok, err := r.source.LastFeeding(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	elapsed := r.now().Sub(last)
	if elapsed < r.interval {
		return false, nil
	}

	r.mu.Lock()
	if r.notifiedFor.Equal(last) {
		r.mu.Unlock()
		return false, nil
	}
	r.notifiedFor = last
	permitted := r.permitted
	r.mu.Unlock()

	if !permitted {
		return false, nil
	}
	r.notifier.Show(ctx, Notification{
		Title: "Feeding reminder",
		Body:  fmt.Sprintf("Last feeding was %s ago", elapsed.Truncate(time.Minute)),
		Tag:   FeedingTag,
	})
	return true, nil
}
