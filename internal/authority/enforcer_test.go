package authority

import (
	"testing"

	"github.com/afyalink/afyalink-backend/internal/models"
)

type sinkCall struct {
	from, to      Level
	actor, reason string
}

type recordingSink struct{ calls []sinkCall }

func (s *recordingSink) LevelChanged(from, to Level, actor, reason string) {
	s.calls = append(s.calls, sinkCall{from, to, actor, reason})
}

func deniedRequest() Request {
	return Request{
		EntityType:      EntitySession,
		EntityID:        "s1",
		CurrentState:    string(models.SessionPendingApproval),
		ProposedState:   string(models.SessionConfirmed),
		ActingSubsystem: SubsystemPayment,
	}
}

func TestValidateLevels(t *testing.T) {
	tests := []struct {
		name        string
		level       Level
		wantAllowed bool
		wantWarning bool
		wantErr     bool
	}{
		{"strict denies", LevelStrict, false, false, true},
		{"warn allows with warning", LevelWarn, true, true, false},
		{"off allows silently", LevelOff, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer(tt.level, nil)
			res := e.Validate(deniedRequest())
			if res.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.wantAllowed)
			}
			if (res.Warning != "") != tt.wantWarning {
				t.Errorf("Warning = %q, wantWarning %v", res.Warning, tt.wantWarning)
			}
			if (res.Err != "") != tt.wantErr {
				t.Errorf("Err = %q, wantErr %v", res.Err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowsGranted(t *testing.T) {
	e := NewEnforcer(LevelStrict, nil)
	res := e.Validate(Request{
		EntityType:      EntitySession,
		EntityID:        "s1",
		CurrentState:    string(models.SessionApproved),
		ProposedState:   string(models.SessionConfirmed),
		ActingSubsystem: SubsystemPayment,
	})
	if !res.Allowed || res.Warning != "" || res.Err != "" {
		t.Fatalf("granted transition should pass cleanly, got %+v", res)
	}
}

func TestEmergencyOverrideIsAudited(t *testing.T) {
	sink := &recordingSink{}
	e := NewEnforcer(LevelStrict, sink)

	e.EmergencyDisable("gateway incident", "oncall@afyalink")
	if e.Level() != LevelOff {
		t.Fatalf("level = %s, want off", e.Level())
	}
	e.EmergencyEnable("incident resolved", "oncall@afyalink")
	if e.Level() != LevelStrict {
		t.Fatalf("level = %s, want strict", e.Level())
	}

	if len(sink.calls) != 2 {
		t.Fatalf("sink calls = %d, want 2", len(sink.calls))
	}
	if sink.calls[0].to != LevelOff || sink.calls[0].actor != "oncall@afyalink" {
		t.Errorf("first change = %+v", sink.calls[0])
	}
	if sink.calls[1].from != LevelOff || sink.calls[1].to != LevelStrict {
		t.Errorf("second change = %+v", sink.calls[1])
	}
}

func TestParseLevel(t *testing.T) {
	for _, ok := range []string{"strict", "warn", "off"} {
		if _, err := ParseLevel(ok); err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", ok, err)
		}
	}
	if _, err := ParseLevel("lenient"); err == nil {
		t.Error("ParseLevel(lenient) should fail")
	}
}
