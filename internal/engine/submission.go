package engine

import "errors"

var (
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	ErrAlreadySubmitted   = errors.New("actions already submitted for this turn")
)

type SubmitStatus string

const (
	SubmitIdle       SubmitStatus = "IDLE"
	SubmitSubmitting SubmitStatus = "SUBMITTING"
	SubmitError      SubmitStatus = "ERROR"
)

// Submission is the lock in front of submit-turn: IDLE -> SUBMITTING -> IDLE
// on success or ERROR on failure. Both the timer and manual lock-in go
// through Begin, so only the first caller for a turn gets to send.
type Submission struct {
	status    SubmitStatus
	inFlight  int
	submitted int
	lastErr   error
}

func NewSubmission() *Submission {
	return &Submission{status: SubmitIdle}
}

func (s *Submission) Begin(turn int) error {
	if s.status == SubmitSubmitting {
		return ErrSubmissionInFlight
	}
	if s.submitted == turn && turn > 0 {
		return ErrAlreadySubmitted
	}
	s.status = SubmitSubmitting
	s.inFlight = turn
	s.lastErr = nil
	return nil
}

func (s *Submission) Succeed() {
	s.submitted = s.inFlight
	s.inFlight = 0
	s.status = SubmitIdle
}

func (s *Submission) Fail(err error) {
	s.inFlight = 0
	s.status = SubmitError
	s.lastErr = err
}

func (s *Submission) InFlight() bool { return s.status == SubmitSubmitting }

// InFlightTurn is the turn being submitted, zero when idle.
func (s *Submission) InFlightTurn() int { return s.inFlight }

// SubmittedFor reports whether turn was already accepted by the server.
func (s *Submission) SubmittedFor(turn int) bool { return turn > 0 && s.submitted == turn }

func (s *Submission) Status() SubmitStatus { return s.status }
func (s *Submission) LastError() error     { return s.lastErr }
