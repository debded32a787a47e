package monitor

import (
	"strings"
	"testing"
)

func TestStateOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		failures, threshold int
		want                State
	}{
		{0, 3, StateOK},
		{1, 3, StateDegraded},
		{2, 3, StateDegraded},
		{3, 3, StateAlerting},
		{7, 3, StateAlerting},
		{4, 5, StateDegraded},
		{5, 5, StateAlerting},
		{1, 0, StateAlerting},
		{0, 0, StateOK},
	}
	for _, tt := range tests {
		if got := StateOf(tt.failures, tt.threshold); got != tt.want {
			t.Errorf("StateOf(%d, %d) = %s, want %s", tt.failures, tt.threshold, got, tt.want)
		}
	}
}

func TestNextFailures(t *testing.T) {
	t.Parallel()
	if NextFailures(4, true) != 0 {
		t.Fatal("success must reset")
	}
	if NextFailures(4, false) != 5 {
		t.Fatal("failure must increment by one")
	}
	if NextFailures(-1, false) != 1 {
		t.Fatal("negative prior")
	}
}

func TestDecideSequence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		threshold int
		outcomes  []bool
		want      []Action
	}{
		{
			name:      "threshold 3 alerts from third failure on",
			threshold: 3,
			outcomes:  []bool{false, false, false, false, true},
			want:      []Action{ActionNone, ActionNone, ActionAlert, ActionAlert, ActionRecover},
		},
		{
			name:      "threshold 5",
			threshold: 5,
			outcomes:  []bool{false, false, false, false, false},
			want:      []Action{ActionNone, ActionNone, ActionNone, ActionNone, ActionAlert},
		},
		{
			name:      "threshold 5 recovers after two failures",
			threshold: 5,
			outcomes:  []bool{false, false, true},
			want:      []Action{ActionNone, ActionNone, ActionRecover},
		},
		{
			name:      "recovery below threshold",
			threshold: 3,
			outcomes:  []bool{false, true, true},
			want:      []Action{ActionNone, ActionRecover, ActionNone},
		},
		{
			name:      "healthy stays quiet",
			threshold: 3,
			outcomes:  []bool{true, true},
			want:      []Action{ActionNone, ActionNone},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			failures := 0
			for i, ok := range tt.outcomes {
				next := NextFailures(failures, ok)
				if got := Decide(failures, next, ok, tt.threshold); got != tt.want[i] {
					t.Fatalf("step %d: got %d, want %d", i, got, tt.want[i])
				}
				failures = next
			}
		})
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()
	got := AlertText("web", "10.0.0.1", 80, 3, "Connection refused", 0)
	want := "🔴 ALERT: web is DOWN\nTarget: 10.0.0.1:80\nConsecutive failures: 3\nError: Connection refused\nResponse time: 0.000s"
	if got != want {
		t.Fatalf("alert:\n%s\nwant:\n%s", got, want)
	}
	got = RecoveryText("web", "10.0.0.1", 80, 0.01234)
	if !strings.HasPrefix(got, "✅ RECOVERED: web is UP\nTarget: 10.0.0.1:80\n") || !strings.HasSuffix(got, "Response time: 0.012s") {
		t.Fatalf("recovery: %q", got)
	}
}
