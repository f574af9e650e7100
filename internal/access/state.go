package access

// State lifecycle state of a lecture access session
type State string

// session states
const (
	LockedIdle    State = "locked-idle"
	LockedPlaying State = "locked-playing"
	LockedEnded   State = "locked-ended"
	Unlocked      State = "unlocked"
)

// Locked reports whether the lecture still requires payment
func (s State) Locked() bool {
	return s != Unlocked
}

// MediaAttached the attachment every state requires
func (s State) MediaAttached() bool {
	return s == LockedPlaying || s == Unlocked
}

// Trigger input driving the state machine
type Trigger int

// state machine triggers
const (
	TriggerPreview Trigger = iota + 1
	TriggerExpire
	TriggerPaymentSucceeded
	TriggerPaymentFailed
)

func (t Trigger) String() string {
	switch t {
	case TriggerPreview:
		return "preview"
	case TriggerExpire:
		return "expire"
	case TriggerPaymentSucceeded:
		return "payment_succeeded"
	case TriggerPaymentFailed:
		return "payment_failed"
	}
	return "unknown"
}

// MediaAction what a transition does to the mounted media
type MediaAction int

// media side effects
const (
	MediaKeep MediaAction = iota
	MediaAttach
	MediaDetach
)

// TimerAction what a transition does to the preview countdown
type TimerAction int

// timer side effects
const (
	TimerKeep TimerAction = iota
	TimerStart
	TimerStop
)

// Transition a single allowed edge and its side effects
type Transition struct {
	From    State
	To      State
	Trigger Trigger
	Media   MediaAction
	Timer   TimerAction
}

// Decision whether a state/trigger pair is allowed and why not
type Decision struct {
	Allowed bool
	Reason  string
}

// forbidden reasons
const (
	ForbiddenAlreadyPlaying    = "already_playing"
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenNotPlaying        = "not_playing"
)

var transitionsTable = []Transition{
	// preview and replay
	{From: LockedIdle, To: LockedPlaying, Trigger: TriggerPreview, Media: MediaAttach, Timer: TimerStart},
	{From: LockedEnded, To: LockedPlaying, Trigger: TriggerPreview, Media: MediaAttach, Timer: TimerStart},

	// countdown expiry
	{From: LockedPlaying, To: LockedEnded, Trigger: TriggerExpire, Media: MediaDetach, Timer: TimerStop},

	// unlock
	{From: LockedIdle, To: Unlocked, Trigger: TriggerPaymentSucceeded, Media: MediaAttach, Timer: TimerStop},
	{From: LockedPlaying, To: Unlocked, Trigger: TriggerPaymentSucceeded, Media: MediaAttach, Timer: TimerStop},
	{From: LockedEnded, To: Unlocked, Trigger: TriggerPaymentSucceeded, Media: MediaAttach, Timer: TimerStop},

	// failed payments leave the session where it was
	{From: LockedIdle, To: LockedIdle, Trigger: TriggerPaymentFailed},
	{From: LockedPlaying, To: LockedPlaying, Trigger: TriggerPaymentFailed},
	{From: LockedEnded, To: LockedEnded, Trigger: TriggerPaymentFailed},
}

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Reason: r} }

var decisionTable = map[State]map[Trigger]Decision{
	LockedIdle: {
		TriggerPreview:          allowed(),
		TriggerExpire:           forbid(ForbiddenNotPlaying),
		TriggerPaymentSucceeded: allowed(),
		TriggerPaymentFailed:    allowed(),
	},
	LockedPlaying: {
		TriggerPreview:          forbid(ForbiddenAlreadyPlaying),
		TriggerExpire:           allowed(),
		TriggerPaymentSucceeded: allowed(),
		TriggerPaymentFailed:    allowed(),
	},
	LockedEnded: {
		TriggerPreview:          allowed(),
		TriggerExpire:           forbid(ForbiddenNotPlaying),
		TriggerPaymentSucceeded: allowed(),
		TriggerPaymentFailed:    allowed(),
	},
	Unlocked: {
		TriggerPreview:          forbid(ForbiddenTerminalAbsorbing),
		TriggerExpire:           forbid(ForbiddenTerminalAbsorbing),
		TriggerPaymentSucceeded: forbid(ForbiddenTerminalAbsorbing),
		TriggerPaymentFailed:    forbid(ForbiddenTerminalAbsorbing),
	},
}

// DecisionFor returns the decision for a state/trigger pair
func DecisionFor(from State, tr Trigger) (Decision, bool) {
	row, ok := decisionTable[from]
	if !ok {
		return Decision{}, false
	}
	d, ok := row[tr]
	return d, ok
}

// TransitionFor returns the allowed transition for a state/trigger pair
func TransitionFor(from State, tr Trigger) (Transition, error) {
	d, ok := DecisionFor(from, tr)
	if !ok {
		return Transition{}, &TransitionError{From: from, Trigger: tr, Reason: "undefined"}
	}
	if !d.Allowed {
		return Transition{}, &TransitionError{From: from, Trigger: tr, Reason: d.Reason}
	}
	for _, t := range transitionsTable {
		if t.From == from && t.Trigger == tr {
			return t, nil
		}
	}
	return Transition{}, &TransitionError{From: from, Trigger: tr, Reason: "missing transition"}
}
