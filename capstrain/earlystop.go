package capstrain

// A State is a phase of the early-stopping machine.
type State int

// States of an EarlyStopper.
//
// The machine moves from Running to Evaluating when an
// epoch's accuracy is reported, and from Evaluating to
// either Continuing or Stopped.
// Continuing moves back to Running when the next epoch
// begins.
const (
	Running State = iota
	Evaluating
	Continuing
	Stopped
)

// ShouldStop reports whether the latest entries of an
// accuracy history show no improvement over the best
// entry for at least patience epochs.
//
// It is a pure function of its arguments, so stop
// decisions can be tested and replayed independently of
// any training loop.
func ShouldStop(history []float64, patience int) bool {
	if len(history) == 0 || patience <= 0 {
		return false
	}
	best := 0
	for i, acc := range history {
		if acc > history[best] {
			best = i
		}
	}
	return len(history)-1-best >= patience
}

// An EarlyStopper tracks test accuracy across epochs and
// decides when training should stop.
type EarlyStopper struct {
	// Patience is the number of consecutive epochs without
	// improvement after which training stops.
	Patience int

	state   State
	history []float64

	// BestAccuracy and BestEpoch describe the best epoch
	// reported so far (1-based).
	BestAccuracy float64
	BestEpoch    int
}

// State returns the machine's current state.
func (e *EarlyStopper) State() State {
	return e.state
}

// History returns the accuracies reported so far.
func (e *EarlyStopper) History() []float64 {
	return append([]float64{}, e.history...)
}

// Report feeds one epoch's test accuracy through the
// machine and returns the resulting state, either
// Continuing or Stopped.
//
// Reporting after the machine has stopped is a no-op and
// returns Stopped.
func (e *EarlyStopper) Report(accuracy float64) State {
	if e.state == Stopped {
		return Stopped
	}
	e.state = Evaluating
	e.history = append(e.history, accuracy)
	if accuracy > e.BestAccuracy || e.BestEpoch == 0 {
		e.BestAccuracy = accuracy
		e.BestEpoch = len(e.history)
	}
	if ShouldStop(e.history, e.Patience) {
		e.state = Stopped
	} else {
		e.state = Continuing
	}
	return e.state
}

// Resume moves a Continuing machine back to Running for
// the next epoch.
func (e *EarlyStopper) Resume() {
	if e.state == Continuing {
		e.state = Running
	}
}

// Done reports whether the machine has reached the
// Stopped state.
func (e *EarlyStopper) Done() bool {
	return e.state == Stopped
}
