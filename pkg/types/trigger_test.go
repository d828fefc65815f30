package types

import (
	"testing"
	"time"
)

func TestTriggerSpecValidate(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	cases := []struct {
		name string
		spec TriggerSpec
		ok   bool
	}{
		{"scheduled daily", TriggerSpec{Kind: TriggerScheduled, Frequency: FreqDaily, TimeOfDay: "09:30"}, true},
		{"scheduled no time of day", TriggerSpec{Kind: TriggerScheduled, Frequency: FreqHourly}, true},
		{"scheduled bad frequency", TriggerSpec{Kind: TriggerScheduled, Frequency: "FORTNIGHTLY"}, false},
		{"scheduled bad time", TriggerSpec{Kind: TriggerScheduled, Frequency: FreqDaily, TimeOfDay: "25:00"}, false},
		{"window", TriggerSpec{Kind: TriggerTimeWindow, WindowStart: &start, WindowEnd: &end}, true},
		{"window missing end", TriggerSpec{Kind: TriggerTimeWindow, WindowStart: &start}, false},
		{"window inverted", TriggerSpec{Kind: TriggerTimeWindow, WindowStart: &end, WindowEnd: &start}, false},
		{"event", TriggerSpec{Kind: TriggerEventBased, EventType: "price.spike"}, true},
		{"event empty type", TriggerSpec{Kind: TriggerEventBased}, false},
		{"condition", TriggerSpec{Kind: TriggerConditionBased, Condition: "balanceOf(entity.owner) > 10.0"}, true},
		{"condition empty", TriggerSpec{Kind: TriggerConditionBased}, false},
		{"unknown kind", TriggerSpec{Kind: "CRON"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEffectivePollInterval(t *testing.T) {
	spec := TriggerSpec{Kind: TriggerConditionBased, Condition: "true"}
	if spec.EffectivePollInterval() != DefaultPollInterval {
		t.Fatalf("expected default, got %s", spec.EffectivePollInterval())
	}
	spec.PollInterval = 5 * time.Second
	if spec.EffectivePollInterval() != 5*time.Second {
		t.Fatalf("expected 5s, got %s", spec.EffectivePollInterval())
	}
}

func TestFrequencyPeriod(t *testing.T) {
	if FreqHourly.Period() != time.Hour {
		t.Fatal("hourly period")
	}
	if FreqWeekly.Period() != 7*24*time.Hour {
		t.Fatal("weekly period")
	}
}
