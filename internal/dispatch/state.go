package dispatch

// State is a step of a send's lifecycle.
//
//	RECEIVED -> ADMITTED -> PERSISTED -> FANNED_OUT -> ACKED
//
// Any step may end in FAILED instead.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateAdmitted  State = "ADMITTED"
	StatePersisted State = "PERSISTED"
	StateFannedOut State = "FANNED_OUT"
	StateAcked     State = "ACKED"
	StateFailed    State = "FAILED"
)

// Transition is reported to an observer each time a send changes state.
type Transition struct {
	ChatID    int64
	SenderID  int64
	Nonce     string
	State     State
	MessageID int64  // set from PERSISTED on
	Reason    string // set for FAILED
}

// tracker walks one send through its states.
type tracker struct {
	t       Transition
	observe func(Transition)
}

func (tr *tracker) to(s State) {
	tr.t.State = s
	if tr.observe != nil {
		tr.observe(tr.t)
	}
}

func (tr *tracker) fail(reason string) {
	tr.t.Reason = reason
	tr.to(StateFailed)
}
