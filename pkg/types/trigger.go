package types

import (
	"fmt"
	"regexp"
	"time"
)

// TriggerKind discriminates the trigger specification union.
type TriggerKind string

const (
	// TriggerScheduled fires at a time of day on a fixed cadence.
	TriggerScheduled TriggerKind = "SCHEDULED"
	// TriggerTimeWindow fires once at the window start; the trigger is
	// disarmed (and the entity expired) when the window end passes unfired.
	TriggerTimeWindow TriggerKind = "TIME_WINDOW"
	// TriggerEventBased fires when a matching external event is pushed in.
	TriggerEventBased TriggerKind = "EVENT_BASED"
	// TriggerConditionBased polls a boolean condition expression.
	TriggerConditionBased TriggerKind = "CONDITION_BASED"
)

// DefaultPollInterval is the cadence for condition re-evaluation when the
// spec does not set one.
const DefaultPollInterval = 60 * time.Second

// TriggerSpec is the tagged union describing when an entity fires.
// Only the fields for the active Kind are meaningful.
type TriggerSpec struct {
	Kind TriggerKind `json:"kind"`

	// Scheduled
	Frequency Frequency `json:"frequency,omitempty"`
	TimeOfDay string    `json:"time_of_day,omitempty"` // "15:04", UTC

	// TimeWindow
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	// EventBased
	EventType string `json:"event_type,omitempty"`

	// ConditionBased
	Condition    string        `json:"condition,omitempty"` // CEL expression
	PollInterval time.Duration `json:"poll_interval,omitempty"`
}

var timeOfDayRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Validate checks that the fields required by Kind are present and well formed.
func (t TriggerSpec) Validate() error {
	switch t.Kind {
	case TriggerScheduled:
		if !t.Frequency.Valid() {
			return fmt.Errorf("scheduled trigger: invalid frequency %q", t.Frequency)
		}
		if t.TimeOfDay != "" && !timeOfDayRe.MatchString(t.TimeOfDay) {
			return fmt.Errorf("scheduled trigger: invalid time_of_day %q", t.TimeOfDay)
		}
		return nil
	case TriggerTimeWindow:
		if t.WindowStart == nil || t.WindowEnd == nil {
			return fmt.Errorf("time-window trigger: start and end required")
		}
		if !t.WindowEnd.After(*t.WindowStart) {
			return fmt.Errorf("time-window trigger: end must be after start")
		}
		return nil
	case TriggerEventBased:
		if t.EventType == "" {
			return fmt.Errorf("event trigger: event_type required")
		}
		return nil
	case TriggerConditionBased:
		if t.Condition == "" {
			return fmt.Errorf("condition trigger: condition required")
		}
		return nil
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// EffectivePollInterval returns the configured poll interval or the default.
func (t TriggerSpec) EffectivePollInterval() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return DefaultPollInterval
}

// Frequency is the cadence of a scheduled trigger.
type Frequency string

const (
	FreqOnce    Frequency = "ONCE"
	FreqHourly  Frequency = "HOURLY"
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqCustom  Frequency = "CUSTOM"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqOnce, FreqHourly, FreqDaily, FreqWeekly, FreqMonthly, FreqCustom:
		return true
	}
	return false
}

// Period returns the nominal interval between occurrences. Monthly is
// approximated as 30 days; exact month arithmetic is done by the scheduler
// when computing the next occurrence. Once and Custom fall back to a day.
func (f Frequency) Period() time.Duration {
	switch f {
	case FreqHourly:
		return time.Hour
	case FreqDaily:
		return 24 * time.Hour
	case FreqWeekly:
		return 7 * 24 * time.Hour
	case FreqMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
