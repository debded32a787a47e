package monitor

type State int

const (
	StateOK State = iota
	StateDegraded
	StateAlerting
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateDegraded:
		return "DEGRADED"
	case StateAlerting:
		return "ALERTING"
	default:
		return "UNKNOWN"
	}
}

// StateOf derives the target state. threshold < 1 is treated as 1.
func StateOf(failures, threshold int) State {
	if threshold < 1 {
		threshold = 1
	}
	switch {
	case failures <= 0:
		return StateOK
	case failures < threshold:
		return StateDegraded
	default:
		return StateAlerting
	}
}

// NextFailures is the count after one probe: reset on success, +1 on failure.
func NextFailures(prior int, success bool) int {
	if success {
		return 0
	}
	if prior < 0 {
		prior = 0
	}
	return prior + 1
}

type Action int

const (
	ActionNone Action = iota
	ActionAlert
	ActionRecover
)

// Decide picks the notification for a probe outcome. prior is the failure
// count before the probe, current the count after it.
func Decide(prior, current int, success bool, threshold int) Action {
	if success {
		if prior > 0 {
			return ActionRecover
		}
		return ActionNone
	}
	if StateOf(current, threshold) == StateAlerting {
		return ActionAlert
	}
	return ActionNone
}
