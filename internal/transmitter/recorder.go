package transmitter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/radio"
)

// Recorder is an in-memory transmitter for dry runs and tests. It keeps every
// sequence it was given and tracks how many calls overlapped.
type Recorder struct {
	// Delay simulates the duration of one burst.
	Delay time.Duration
	// Fail, if set, is returned from every call.
	Fail error

	mu          sync.Mutex
	sent        []radio.Sequence
	inFlight    int
	maxInFlight int
}

// NewRecorder creates a Recorder that sleeps delay per call.
func NewRecorder(delay time.Duration) *Recorder {
	return &Recorder{Delay: delay}
}

// Transmit records seq.
func (r *Recorder) Transmit(ctx context.Context, seq radio.Sequence) (Result, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	fail := r.Fail
	delay := r.Delay
	r.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.sent = append(r.sent, append(radio.Sequence(nil), seq...))
	r.mu.Unlock()

	log.Info().Strs("commands", seq.Strings()).Msg("Dry run: transmission recorded")

	res := Result{Duration: time.Since(start)}
	if fail != nil {
		res.ExitCode = 1
		return res, fail
	}
	return res, nil
}

// Sent returns a copy of every recorded sequence, in call order.
func (r *Recorder) Sent() []radio.Sequence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]radio.Sequence(nil), r.sent...)
}

// Calls returns the number of finished calls.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (r *Recorder) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// SetFail changes the injected failure.
func (r *Recorder) SetFail(err error) {
	r.mu.Lock()
	r.Fail = err
	r.mu.Unlock()
}
