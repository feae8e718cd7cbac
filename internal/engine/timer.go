package engine

type TimerState string

const (
	TimerIdle    TimerState = "IDLE"
	TimerRunning TimerState = "RUNNING"
)

// TurnTimer is the per-turn selection countdown, advanced one second per Tick.
type TurnTimer struct {
	duration  int
	remaining int
	state     TimerState
	turn      int
}

func NewTurnTimer(durationSecs int) *TurnTimer {
	return &TurnTimer{duration: durationSecs, remaining: durationSecs, state: TimerIdle}
}

// Arm restarts the countdown from the full duration for turn.
func (t *TurnTimer) Arm(turn int) {
	t.turn = turn
	t.remaining = t.duration
	t.state = TimerRunning
}

func (t *TurnTimer) Stop() {
	t.state = TimerIdle
}

// Tick advances a running timer by one second. It reports true exactly once
// per arming, when the countdown reaches zero; the display value then resets
// to the full duration and the timer goes idle until armed again.
func (t *TurnTimer) Tick() bool {
	if t.state != TimerRunning {
		return false
	}
	t.remaining--
	if t.remaining > 0 {
		return false
	}
	t.remaining = t.duration
	t.state = TimerIdle
	return true
}

func (t *TurnTimer) Remaining() int    { return t.remaining }
func (t *TurnTimer) State() TimerState { return t.state }
func (t *TurnTimer) Running() bool     { return t.state == TimerRunning }
func (t *TurnTimer) Turn() int         { return t.turn }
