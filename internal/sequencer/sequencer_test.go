package sequencer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/nexad/internal/db"
	"github.com/dokzlo13/nexad/internal/ledger"
	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/state"
	"github.com/dokzlo13/nexad/internal/transmitter"
)

func addresses(n int) []radio.Address {
	out := make([]radio.Address, n)
	for i := range out {
		out[i] = radio.Address(i)
	}
	return out
}

func newSequencer(t *testing.T, targets int, window time.Duration, tx transmitter.Transmitter, opts Options) (*Sequencer, *state.Monitor) {
	t.Helper()
	monitor := state.NewMonitor(addresses(targets))
	opts.Window = window
	s := New(monitor, tx, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s, monitor
}

func wait(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSubmit_Validation(t *testing.T) {
	s, _ := newSequencer(t, 4, 20*time.Millisecond, transmitter.NewRecorder(0), Options{})

	assert.ErrorIs(t, s.Submit(radio.Broadcast, true), radio.ErrInvalidAddress)
	assert.ErrorIs(t, s.Submit(16, true), radio.ErrInvalidAddress)
	assert.ErrorIs(t, s.Submit(9, true), ErrUnknownTarget)
	assert.NoError(t, s.Submit(3, true))
}

func TestBurstWithinWindowIsOneBatch(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	s, monitor := newSequencer(t, 4, 80*time.Millisecond, rec, Options{})

	require.NoError(t, s.Submit(0, true))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Submit(1, true))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Submit(0, false))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Submit(2, true))

	wait(t, s)

	require.Equal(t, 1, rec.Calls())
	assert.Equal(t, radio.Sequence{{Address: 0, On: false}, {Address: 1, On: true}, {Address: 2, On: true}}, rec.Sent()[0])
	assert.Equal(t, state.StateVector{0: radio.StateOff, 1: radio.StateOn, 2: radio.StateOn, 3: radio.StateUnknown}, monitor.Snapshot())
}

func TestSpacedSubmitsAreSeparateBatches(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	s, _ := newSequencer(t, 4, 20*time.Millisecond, rec, Options{})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Submit(radio.Address(i), true))
		wait(t, s)
	}

	require.Equal(t, 3, rec.Calls())
	for i, seq := range rec.Sent() {
		assert.Equal(t, radio.Sequence{{Address: radio.Address(i), On: true}}, seq)
	}
	assert.Equal(t, 3, s.Snapshot().Stats.Batches)
}

func TestBatchClosingDuringTransmissionIsDeferred(t *testing.T) {
	rec := transmitter.NewRecorder(200 * time.Millisecond)
	s, monitor := newSequencer(t, 4, 20*time.Millisecond, rec, Options{})

	require.NoError(t, s.Submit(0, true))
	require.Eventually(t, func() bool { return s.Status() == StatusExecuting }, time.Second, 2*time.Millisecond)

	require.NoError(t, s.Submit(1, true))
	require.NoError(t, s.Submit(2, false))

	wait(t, s)

	assert.Equal(t, 1, rec.MaxInFlight(), "transmissions must never overlap")
	require.Equal(t, 2, rec.Calls())
	assert.Equal(t, radio.Sequence{{Address: 0, On: true}}, rec.Sent()[0])
	assert.Equal(t, radio.Sequence{{Address: 1, On: true}, {Address: 2, On: false}}, rec.Sent()[1])
	assert.GreaterOrEqual(t, s.Snapshot().Stats.Deferred, 1)
	assert.Equal(t, state.StateVector{0: radio.StateOn, 1: radio.StateOn, 2: radio.StateOff, 3: radio.StateUnknown}, monitor.Snapshot())
}

func TestSecondBatchSeesFirstCommit(t *testing.T) {
	rec := transmitter.NewRecorder(50 * time.Millisecond)
	s, _ := newSequencer(t, 4, 10*time.Millisecond, rec, Options{})

	for _, a := range addresses(4) {
		require.NoError(t, s.Submit(a, true))
	}
	wait(t, s)

	// Everything is on now; three off + one still on should not broadcast.
	require.NoError(t, s.Submit(0, false))
	require.NoError(t, s.Submit(1, false))
	require.NoError(t, s.Submit(2, false))
	require.NoError(t, s.Submit(3, true))
	wait(t, s)

	sent := rec.Sent()
	require.Len(t, sent, 2)
	// Nothing unaltered: the union defaults to on and one broadcast covers all.
	assert.Equal(t, radio.Sequence{{Address: radio.Broadcast, On: true}}, sent[0])
	assert.Equal(t, radio.Sequence{{Address: 0, On: false}, {Address: 1, On: false}, {Address: 2, On: false}}, sent[1])
}

func TestBroadcastOnceStateKnown(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	s, monitor := newSequencer(t, 6, 10*time.Millisecond, rec, Options{})
	monitor.Commit(state.StateVector{0: radio.StateOff, 1: radio.StateOff, 2: radio.StateOff, 3: radio.StateOn, 4: radio.StateOn, 5: radio.StateOn})

	for _, a := range []radio.Address{0, 1, 2} {
		require.NoError(t, s.Submit(a, true))
	}
	wait(t, s)

	require.Equal(t, 1, rec.Calls())
	assert.Equal(t, radio.Sequence{{Address: radio.Broadcast, On: true}}, rec.Sent()[0])
}

func TestIdempotentBatchSendsNothing(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	s, monitor := newSequencer(t, 2, 10*time.Millisecond, rec, Options{})
	monitor.Commit(state.StateVector{0: radio.StateOn, 1: radio.StateOff})

	require.NoError(t, s.Submit(0, true))
	require.NoError(t, s.Submit(1, false))
	wait(t, s)

	assert.Equal(t, 0, rec.Calls())
	assert.Equal(t, 1, s.Snapshot().Stats.Batches)
}

func TestFailedTransmissionKeepsCommittedState(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	rec.SetFail(errors.New("boom"))
	s, monitor := newSequencer(t, 2, 10*time.Millisecond, rec, Options{})

	require.NoError(t, s.Submit(1, true))
	wait(t, s)

	assert.Equal(t, StatusIdle, s.Status())
	st, _ := monitor.Get(1)
	assert.Equal(t, radio.StateOn, st)
	assert.Equal(t, 1, s.Snapshot().Stats.Failures)

	// The sequencer keeps working after a failure.
	rec.SetFail(nil)
	require.NoError(t, s.Submit(0, false))
	wait(t, s)
	assert.Equal(t, 2, rec.Calls())
}

func TestLedgerAndPersist(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "seq.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	l := ledger.New(database.DB)
	store := state.NewStore(database.DB)

	rec := transmitter.NewRecorder(0)
	s, _ := newSequencer(t, 3, 10*time.Millisecond, rec, Options{
		Ledger:  l,
		Persist: func(v state.StateVector) error { return store.Save(5, v) },
	})

	require.NoError(t, s.Submit(2, true))
	wait(t, s)
	require.NoError(t, s.Submit(2, true))
	wait(t, s)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventBatchSkipped, entries[0].EventType)
	assert.Equal(t, ledger.EventTransmissionCompleted, entries[1].EventType)
	assert.Equal(t, radio.Sequence{{Address: 2, On: true}}, entries[1].Commands)
	assert.NotEmpty(t, entries[1].BatchID)

	saved, err := store.Load(5)
	require.NoError(t, err)
	assert.Equal(t, radio.StateOn, saved[2])
	assert.Equal(t, radio.StateUnknown, saved[0])
}

func TestMinIntervalSpacesBursts(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	s, _ := newSequencer(t, 2, 5*time.Millisecond, rec, Options{MinInterval: 150 * time.Millisecond})

	start := time.Now()
	require.NoError(t, s.Submit(0, true))
	wait(t, s)
	require.NoError(t, s.Submit(1, true))
	wait(t, s)

	assert.Equal(t, 2, rec.Calls())
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestCloseFlushesPendingAndRejectsSubmit(t *testing.T) {
	rec := transmitter.NewRecorder(0)
	monitor := state.NewMonitor(addresses(2))
	s := New(monitor, rec, Options{Window: time.Hour})

	require.NoError(t, s.Submit(0, true))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, 1, rec.Calls())
	assert.ErrorIs(t, s.Submit(1, true), ErrClosed)
}

type entryCollector struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (c *entryCollector) Append(e ledger.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *entryCollector) operations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		n += e.Operations
	}
	return n
}

func TestCloseDuringSubmitsLosesNothing(t *testing.T) {
	rec := transmitter.NewRecorder(time.Millisecond)
	book := &entryCollector{}
	monitor := state.NewMonitor(addresses(radio.MaxTargets))
	s := New(monitor, rec, Options{Window: 2 * time.Millisecond, Ledger: book})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				err := s.Submit(radio.Address((w*4+i)%radio.MaxTargets), i%2 == 0)
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Errorf("unexpected submit error: %v", err)
					return
				}
				mu.Lock()
				accepted++
				mu.Unlock()
				time.Sleep(100 * time.Microsecond)
			}
		}(w)
	}

	time.Sleep(30 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, accepted, s.Snapshot().Stats.Submitted)
	assert.Equal(t, accepted, book.operations(), "every accepted operation must reach a batch")
	assert.Equal(t, 0, s.Snapshot().Pending)
}
