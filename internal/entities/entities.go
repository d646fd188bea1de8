// Package entities binds each record type to its collection schema.
package entities

import (
	"time"

	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/collection"
	"github.com/kimhsiao/babylog/internal/models"
)

// Tables lists every table the backend exposes to clients.
func Tables() []string {
	return []string{
		models.BabyLog{}.TableName(),
		models.CalendarEvent{}.TableName(),
		models.Checkup{}.TableName(),
		models.Outing{}.TableName(),
		models.Achievement{}.TableName(),
		models.ShoppingItem{}.TableName(),
		models.ChildProfile{}.TableName(),
	}
}

// BirthdayFunc returns the child's birthday, or nil when unknown.
type BirthdayFunc func() *time.Time

// Logs is scoped to one day, newest first.
var Logs = collection.Schema[models.BabyLog]{
	Table:       models.BabyLog{}.TableName(),
	Scope:       collection.ScopeDay,
	RangeColumn: "logged_at",
	RangeKind:   collection.KindTimestamp,
	Order:       []backend.Order{{Column: "logged_at", Descending: true}},
	Less:        func(a, b models.BabyLog) bool { return a.LoggedAt > b.LoggedAt },
	InRange: func(l models.BabyLog, r collection.Range) bool {
		return r.ContainsMillis(l.LoggedAt)
	},
	Validate: models.BabyLog.Validate,
}

// Checkups is scoped to one month, earliest first.
var Checkups = collection.Schema[models.Checkup]{
	Table:       models.Checkup{}.TableName(),
	Scope:       collection.ScopeMonth,
	RangeColumn: "checkup_date",
	RangeKind:   collection.KindDate,
	Order:       []backend.Order{{Column: "checkup_date"}},
	Less:        func(a, b models.Checkup) bool { return a.CheckupDate < b.CheckupDate },
	InRange: func(c models.Checkup, r collection.Range) bool {
		return r.ContainsDate(c.CheckupDate)
	},
}

// Outings is scoped to one month, newest first.
var Outings = collection.Schema[models.Outing]{
	Table:       models.Outing{}.TableName(),
	Scope:       collection.ScopeMonth,
	RangeColumn: "started_at",
	RangeKind:   collection.KindTimestamp,
	Order:       []backend.Order{{Column: "started_at", Descending: true}},
	Less:        func(a, b models.Outing) bool { return a.StartedAt > b.StartedAt },
	InRange: func(o models.Outing, r collection.Range) bool {
		return r.ContainsMillis(o.StartedAt)
	},
}

// Achievements is the full list in user order.
var Achievements = collection.Schema[models.Achievement]{
	Table: models.Achievement{}.TableName(),
	Order: []backend.Order{{Column: "sort_order"}},
	Less:  func(a, b models.Achievement) bool { return a.SortOrder < b.SortOrder },
}

// Shopping is the full list in user order.
var Shopping = collection.Schema[models.ShoppingItem]{
	Table: models.ShoppingItem{}.TableName(),
	Order: []backend.Order{{Column: "sort_order"}},
	Less:  func(a, b models.ShoppingItem) bool { return a.SortOrder < b.SortOrder },
}

// Children lists child profiles oldest record first.
var Children = collection.Schema[models.ChildProfile]{
	Table: models.ChildProfile{}.TableName(),
	Order: []backend.Order{{Column: "created_at"}},
	Less:  func(a, b models.ChildProfile) bool { return a.CreatedAt < b.CreatedAt },
}

// Events returns the calendar schema. Relative events are fetched with every
// month and kept only when their date, resolved against birthday, falls in
// the range; events that cannot be resolved sort last.
func Events(birthday BirthdayFunc) collection.Schema[models.CalendarEvent] {
	if birthday == nil {
		birthday = func() *time.Time { return nil }
	}
	resolve := func(e models.CalendarEvent) (string, bool) {
		d, ok := e.ResolveDate(birthday())
		if !ok {
			return "", false
		}
		return models.FormatDate(d), true
	}

	return collection.Schema[models.CalendarEvent]{
		Table:       models.CalendarEvent{}.TableName(),
		Scope:       collection.ScopeMonth,
		RangeColumn: "event_date",
		RangeKind:   collection.KindDate,
		IncludeNull: true,
		Order:       []backend.Order{{Column: "event_date"}},
		Less: func(a, b models.CalendarEvent) bool {
			da, okA := resolve(a)
			db, okB := resolve(b)
			if okA != okB {
				return okA
			}
			return da < db
		},
		InRange: func(e models.CalendarEvent, r collection.Range) bool {
			d, ok := resolve(e)
			return ok && r.ContainsDate(d)
		},
		Validate: models.CalendarEvent.Validate,
	}
}

// NewLogs creates the day-scoped log collection.
func NewLogs(b backend.Backend, users collection.UserResolver) *collection.Collection[models.BabyLog] {
	return collection.New(b, users, Logs)
}

// NewEvents creates the month-scoped calendar collection.
func NewEvents(b backend.Backend, users collection.UserResolver, birthday BirthdayFunc) *collection.Collection[models.CalendarEvent] {
	return collection.New(b, users, Events(birthday))
}

// NewCheckups creates the month-scoped checkup collection.
func NewCheckups(b backend.Backend, users collection.UserResolver) *collection.Collection[models.Checkup] {
	return collection.New(b, users, Checkups)
}

// NewOutings creates the month-scoped outing collection.
func NewOutings(b backend.Backend, users collection.UserResolver) *collection.Collection[models.Outing] {
	return collection.New(b, users, Outings)
}

// NewAchievements creates the achievement collection.
func NewAchievements(b backend.Backend, users collection.UserResolver) *collection.Collection[models.Achievement] {
	return collection.New(b, users, Achievements)
}

// NewShopping creates the shopping list collection.
func NewShopping(b backend.Backend, users collection.UserResolver) *collection.Collection[models.ShoppingItem] {
	return collection.New(b, users, Shopping)
}

// NewChildren creates the child profile collection.
func NewChildren(b backend.Backend, users collection.UserResolver) *collection.Collection[models.ChildProfile] {
	return collection.New(b, users, Children)
}

// BirthdayOf returns a BirthdayFunc reading the first child profile of a
// loaded children collection.
func BirthdayOf(children *collection.Collection[models.ChildProfile]) BirthdayFunc {
	return func() *time.Time {
		items := children.Items()
		if len(items) == 0 {
			return nil
		}
		return items[0].BirthdayDate()
	}
}
