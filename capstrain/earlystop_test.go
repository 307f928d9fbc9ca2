package capstrain

import "testing"

func TestShouldStop(t *testing.T) {
	cases := []struct {
		History  []float64
		Patience int
		Expected bool
	}{
		{nil, 3, false},
		{[]float64{0.5}, 0, false},
		{[]float64{0.5, 0.6, 0.7}, 3, false},
		{[]float64{0.7, 0.6, 0.5, 0.4}, 3, true},
		{[]float64{0.7, 0.6, 0.5}, 3, false},
		{[]float64{0.5, 0.9, 0.8, 0.8, 0.8}, 3, true},
		{[]float64{0.5, 0.9, 0.8, 0.8, 0.91}, 3, false},
		// Ties do not count as improvement.
		{[]float64{0.9, 0.9, 0.9}, 2, true},
	}
	for i, c := range cases {
		if actual := ShouldStop(c.History, c.Patience); actual != c.Expected {
			t.Errorf("case %d: expected %v but got %v", i, c.Expected, actual)
		}
	}
}

func TestEarlyStopperStates(t *testing.T) {
	s := &EarlyStopper{Patience: 2}
	if s.State() != Running {
		t.Errorf("initial state should be Running, but got %v", s.State())
	}

	if state := s.Report(0.5); state != Continuing {
		t.Errorf("expected Continuing, but got %v", state)
	}
	s.Resume()
	if s.State() != Running {
		t.Errorf("state after Resume should be Running, but got %v", s.State())
	}

	s.Report(0.8)
	s.Resume()
	s.Report(0.7)
	s.Resume()
	if state := s.Report(0.6); state != Stopped {
		t.Errorf("expected Stopped, but got %v", state)
	}
	if !s.Done() {
		t.Error("stopper should be done")
	}
	if s.BestAccuracy != 0.8 || s.BestEpoch != 2 {
		t.Errorf("best should be 0.8 at epoch 2, but got %f at epoch %d",
			s.BestAccuracy, s.BestEpoch)
	}

	// Reporting after a stop is a no-op.
	if state := s.Report(0.9); state != Stopped {
		t.Errorf("expected Stopped, but got %v", state)
	}
	if len(s.History()) != 4 {
		t.Errorf("history length should be 4, but got %d", len(s.History()))
	}
}

func TestEarlyStopperBestTracking(t *testing.T) {
	s := &EarlyStopper{Patience: 10}
	for _, acc := range []float64{0.1, 0.4, 0.3, 0.6, 0.6} {
		s.Report(acc)
		s.Resume()
	}
	if s.BestAccuracy != 0.6 || s.BestEpoch != 4 {
		t.Errorf("best should be 0.6 at epoch 4, but got %f at epoch %d",
			s.BestAccuracy, s.BestEpoch)
	}
}
