package models

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/babylog/internal/errors"
)

// LogType discriminates the details carried by a BabyLog.
type LogType string

const (
	LogFeeding     LogType = "feeding"
	LogSleep       LogType = "sleep"
	LogPoop        LogType = "poop"
	LogPee         LogType = "pee"
	LogBath        LogType = "bath"
	LogMedicine    LogType = "medicine"
	LogTemperature LogType = "temperature"
	LogPump        LogType = "pump"
)

// LogDetails is the type-specific payload of a BabyLog. Each log type has
// exactly one implementation.
type LogDetails interface {
	Type() LogType
	Validate() error
}

// FeedingMethod is how a feeding was given.
type FeedingMethod string

const (
	BreastLeft  FeedingMethod = "breast_left"
	BreastRight FeedingMethod = "breast_right"
	Bottle      FeedingMethod = "bottle"
	Formula     FeedingMethod = "formula"
	Solid       FeedingMethod = "solid"
)

// Feeding details.
type Feeding struct {
	Method      FeedingMethod `json:"method"`
	AmountML    int           `json:"amount_ml,omitempty"`
	DurationMin int           `json:"duration_min,omitempty"`
}

func (Feeding) Type() LogType { return LogFeeding }

func (f Feeding) Validate() error {
	switch f.Method {
	case BreastLeft, BreastRight, Bottle, Formula, Solid:
	default:
		return apperrors.Newf(apperrors.ErrValidation, "invalid feeding method %q", f.Method)
	}
	if f.AmountML < 0 || f.DurationMin < 0 {
		return apperrors.New(apperrors.ErrValidation, "feeding amount and duration must not be negative")
	}
	return nil
}

// Sleep details. EndedAt is unix ms; zero while still asleep.
type Sleep struct {
	EndedAt int64 `json:"ended_at,omitempty"`
}

func (Sleep) Type() LogType { return LogSleep }

func (s Sleep) Validate() error {
	if s.EndedAt < 0 {
		return apperrors.New(apperrors.ErrValidation, "sleep end must not be negative")
	}
	return nil
}

// Poop details.
type Poop struct {
	Amount      PoopAmount `json:"amount,omitempty"`
	Color       string     `json:"color,omitempty"`
	Consistency string     `json:"consistency,omitempty"`
}

func (Poop) Type() LogType { return LogPoop }

func (p Poop) Validate() error {
	if p.Amount == "" {
		return nil
	}
	_, err := ParsePoopAmount(string(p.Amount))
	return err
}

// normalize swaps a legacy amount for its enum.
func (p Poop) normalize() Poop {
	if amount, err := ParsePoopAmount(string(p.Amount)); err == nil {
		p.Amount = amount
	}
	return p
}

// Pee has no details.
type Pee struct{}

func (Pee) Type() LogType   { return LogPee }
func (Pee) Validate() error { return nil }

// Bath has no details.
type Bath struct{}

func (Bath) Type() LogType   { return LogBath }
func (Bath) Validate() error { return nil }

// Medicine details.
type Medicine struct {
	Name string `json:"name"`
	Dose string `json:"dose,omitempty"`
}

func (Medicine) Type() LogType { return LogMedicine }

func (m Medicine) Validate() error {
	if m.Name == "" {
		return apperrors.New(apperrors.ErrValidation, "medicine name is required")
	}
	return nil
}

// Temperature details.
type Temperature struct {
	Celsius float64 `json:"celsius"`
}

func (Temperature) Type() LogType { return LogTemperature }

func (t Temperature) Validate() error {
	if t.Celsius < 30 || t.Celsius > 45 {
		return apperrors.Newf(apperrors.ErrValidation, "temperature %.1f outside 30-45", t.Celsius)
	}
	return nil
}

// Pump details.
type Pump struct {
	AmountML int    `json:"amount_ml"`
	Side     string `json:"side,omitempty"`
}

func (Pump) Type() LogType { return LogPump }

func (p Pump) Validate() error {
	if p.AmountML <= 0 {
		return apperrors.New(apperrors.ErrValidation, "pump amount must be positive")
	}
	switch p.Side {
	case "", "left", "right", "both":
		return nil
	}
	return apperrors.Newf(apperrors.ErrValidation, "invalid pump side %q", p.Side)
}

// newDetails returns an empty details value for t.
func newDetails(t LogType) (LogDetails, error) {
	switch t {
	case LogFeeding:
		return &Feeding{}, nil
	case LogSleep:
		return &Sleep{}, nil
	case LogPoop:
		return &Poop{}, nil
	case LogPee:
		return &Pee{}, nil
	case LogBath:
		return &Bath{}, nil
	case LogMedicine:
		return &Medicine{}, nil
	case LogTemperature:
		return &Temperature{}, nil
	case LogPump:
		return &Pump{}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrValidation, "unknown log type %q", t)
}

// deref turns the pointer produced by decoding back into a value.
func deref(d LogDetails) LogDetails {
	switch v := d.(type) {
	case *Feeding:
		return *v
	case *Sleep:
		return *v
	case *Poop:
		return *v
	case *Pee:
		return *v
	case *Bath:
		return *v
	case *Medicine:
		return *v
	case *Temperature:
		return *v
	case *Pump:
		return *v
	}
	return d
}

// BabyLog is one care event. LoggedAt is unix milliseconds.
type BabyLog struct {
	Record
	LogType  LogType    `json:"log_type"`
	LoggedAt int64      `json:"logged_at"`
	Details  LogDetails `json:"-"`
	Note     string     `json:"note,omitempty"`
}

// TableName returns the table name for BabyLog.
func (BabyLog) TableName() string {
	return "baby_logs"
}

// NewBabyLog builds a validated log whose type follows its details.
func NewBabyLog(details LogDetails, loggedAt time.Time, note string) (BabyLog, error) {
	if details == nil {
		return BabyLog{}, apperrors.New(apperrors.ErrValidation, "log details are required")
	}
	l := BabyLog{
		LogType:  details.Type(),
		LoggedAt: loggedAt.UnixMilli(),
		Details:  deref(details),
		Note:     note,
	}
	if p, ok := l.Details.(Poop); ok {
		l.Details = p.normalize()
	}
	if err := l.Validate(); err != nil {
		return BabyLog{}, err
	}
	return l, nil
}

// Validate checks the details against the log type.
func (l BabyLog) Validate() error {
	if l.Details == nil {
		return apperrors.New(apperrors.ErrValidation, "log details are required")
	}
	if l.Details.Type() != l.LogType {
		return apperrors.Newf(apperrors.ErrValidation, "details of type %s on %s log", l.Details.Type(), l.LogType)
	}
	if l.LoggedAt <= 0 {
		return apperrors.New(apperrors.ErrValidation, "logged_at is required")
	}
	if err := l.Details.Validate(); err != nil {
		return err
	}
	if s, ok := l.Details.(Sleep); ok && s.EndedAt != 0 && s.EndedAt < l.LoggedAt {
		return apperrors.New(apperrors.ErrValidation, "sleep cannot end before it starts")
	}
	return nil
}

// LoggedAtTime returns LoggedAt as time.Time.
func (l BabyLog) LoggedAtTime() time.Time {
	return time.UnixMilli(l.LoggedAt)
}

type babyLogJSON BabyLog

// MarshalJSON writes the details under the "details" key.
func (l BabyLog) MarshalJSON() ([]byte, error) {
	details := json.RawMessage("{}")
	if l.Details != nil {
		data, err := json.Marshal(l.Details)
		if err != nil {
			return nil, err
		}
		details = data
	}
	return json.Marshal(struct {
		babyLogJSON
		Details json.RawMessage `json:"details"`
	}{babyLogJSON(l), details})
}

// UnmarshalJSON decodes details according to log_type.
func (l *BabyLog) UnmarshalJSON(data []byte) error {
	var aux struct {
		babyLogJSON
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	details, err := newDetails(aux.LogType)
	if err != nil {
		return err
	}
	if len(aux.Details) > 0 && string(aux.Details) != "null" {
		if err := json.Unmarshal(aux.Details, details); err != nil {
			return fmt.Errorf("decode %s details: %w", aux.LogType, err)
		}
	}

	*l = BabyLog(aux.babyLogJSON)
	l.Details = deref(details)
	return nil
}
