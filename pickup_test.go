package robothand

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// fastSequence returns a sequence with settling and finger pacing disabled
// so tests run synchronously.
func fastSequence(t *testing.T, pattern GripPattern) *PickupSequence {
	t.Helper()
	seq := NewPickupSequence(pattern, logging.NewTestLogger(t))
	seq.SetSettleDurations(map[SequenceStep]time.Duration{})
	seq.SetFingerDelay(0)
	return seq
}

// TestSequenceStepString tests the step name mapping.
func TestSequenceStepString(t *testing.T) {
	names := map[SequenceStep]string{
		StepApproach:     "approach",
		StepOpen:         "open",
		StepGrasp:        "grasp",
		StepLift:         "lift",
		StepMove:         "move",
		StepRelease:      "release",
		StepComplete:     "complete",
		SequenceStep(99): "unknown",
	}
	for step, want := range names {
		if got := step.String(); got != want {
			t.Errorf("step %d: got %q, want %q", step, got, want)
		}
	}
}

// TestPickupSequenceRun tests that a full run issues the expected servo
// writes in order.
func TestPickupSequenceRun(t *testing.T) {
	seq := fastSequence(t, PowerGraspPattern())
	protocol := NewMockProtocol()

	if err := seq.Run(context.Background(), protocol, HardwareDefaultServoMap()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !seq.IsComplete() {
		t.Fatal("sequence should be complete")
	}

	open := []ServoCommand{{5, 0}, {4, 180}, {2, 0}, {1, 0}, {3, 0}}
	grasp := []ServoCommand{{5, 60}, {4, 100}, {2, 80}, {1, 80}, {3, 80}}
	lift := []ServoCommand{{10, 30}}

	var want []ServoCommand
	want = append(want, open...)
	want = append(want, grasp...)
	want = append(want, lift...)
	want = append(want, open...)

	got := protocol.Commands()
	if len(got) != len(want) {
		t.Fatalf("got %d commands, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestPickupSequenceProgression tests the step order one ExecuteStep at a
// time.
func TestPickupSequenceProgression(t *testing.T) {
	seq := fastSequence(t, PowerGraspPattern())
	protocol := NewMockProtocol()
	servoMap := HardwareDefaultServoMap()
	ctx := context.Background()

	order := []SequenceStep{
		StepApproach, StepOpen, StepGrasp, StepLift, StepMove, StepRelease,
	}
	for _, want := range order {
		if seq.CurrentStep() != want {
			t.Fatalf("on step %s, want %s", seq.CurrentStep(), want)
		}
		if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
			t.Fatalf("step %s failed: %v", want, err)
		}
	}
	if !seq.IsComplete() {
		t.Fatal("sequence should be complete")
	}

	// Executing a completed sequence does nothing.
	before := len(protocol.Commands())
	if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
		t.Fatalf("complete step errored: %v", err)
	}
	if len(protocol.Commands()) != before {
		t.Error("complete step should not send commands")
	}
	if seq.CurrentStep() != StepComplete {
		t.Errorf("still on %s, want complete", seq.CurrentStep())
	}
}

// TestPickupSequenceFailureKeepsStep tests that a failed servo write leaves
// the sequence on the same step so it can be retried.
func TestPickupSequenceFailureKeepsStep(t *testing.T) {
	seq := fastSequence(t, PowerGraspPattern())
	protocol := NewMockProtocol()
	servoMap := HardwareDefaultServoMap()
	ctx := context.Background()

	if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
		t.Fatalf("approach failed: %v", err)
	}

	writeErr := errors.New("bus desync")
	protocol.FailWith(writeErr)
	if err := seq.ExecuteStep(ctx, protocol, servoMap); !errors.Is(err, writeErr) {
		t.Fatalf("got %v, want %v", err, writeErr)
	}
	if seq.CurrentStep() != StepOpen {
		t.Fatalf("on %s after failure, want open", seq.CurrentStep())
	}

	protocol.FailWith(nil)
	if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if seq.CurrentStep() != StepGrasp {
		t.Fatalf("on %s after retry, want grasp", seq.CurrentStep())
	}
}

// TestPickupSequenceReset tests rewinding a finished sequence.
func TestPickupSequenceReset(t *testing.T) {
	seq := fastSequence(t, PinchGripPattern())
	if err := seq.Run(context.Background(), NewMockProtocol(), SimpleServoMap()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	seq.Reset()
	if seq.IsComplete() {
		t.Fatal("reset sequence should not be complete")
	}
	if seq.CurrentStep() != StepApproach {
		t.Fatalf("on %s after reset, want approach", seq.CurrentStep())
	}
	if seq.Pattern().Type != PinchGrip {
		t.Errorf("pattern type changed to %s", seq.Pattern().Type)
	}
}

// TestPickupSequenceTransit tests that the move step runs the installed
// transit motion and holds the step when it fails.
func TestPickupSequenceTransit(t *testing.T) {
	seq := fastSequence(t, PowerGraspPattern())
	protocol := NewMockProtocol()
	servoMap := HardwareDefaultServoMap()
	ctx := context.Background()

	transitErr := errors.New("path blocked")
	calls := 0
	seq.SetTransit(func(context.Context) error {
		calls++
		if calls == 1 {
			return transitErr
		}
		return nil
	})

	for seq.CurrentStep() != StepMove {
		if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	if err := seq.ExecuteStep(ctx, protocol, servoMap); !errors.Is(err, transitErr) {
		t.Fatalf("got %v, want %v", err, transitErr)
	}
	if seq.CurrentStep() != StepMove {
		t.Fatalf("on %s after transit failure, want move", seq.CurrentStep())
	}

	if err := seq.ExecuteStep(ctx, protocol, servoMap); err != nil {
		t.Fatalf("transit retry failed: %v", err)
	}
	if seq.CurrentStep() != StepRelease {
		t.Fatalf("on %s, want release", seq.CurrentStep())
	}
	if calls != 2 {
		t.Errorf("transit ran %d times, want 2", calls)
	}
}

// TestPickupSequenceSkipsUnmappedFingers tests that fingers without a servo
// map entry are silently skipped.
func TestPickupSequenceSkipsUnmappedFingers(t *testing.T) {
	servoMap := NewServoMap()
	servoMap.Insert(Index, 0, NewServoEntry(7, false))

	seq := fastSequence(t, PowerGraspPattern())
	protocol := NewMockProtocol()

	if err := seq.Run(context.Background(), protocol, servoMap); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Open, grasp and release each touch only the mapped index finger.
	want := []ServoCommand{{7, 0}, {7, 80}, {10, 30}, {7, 0}}
	got := protocol.Commands()
	if len(got) != len(want) {
		t.Fatalf("got %d commands, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestPickupSequenceSettle tests that a step blocks on its settle duration.
func TestPickupSequenceSettle(t *testing.T) {
	seq := NewPickupSequence(PowerGraspPattern(), logging.NewTestLogger(t))
	mockClock := clock.NewMock()
	seq.SetClock(mockClock)
	seq.SetSettleDurations(map[SequenceStep]time.Duration{
		StepApproach: 2 * time.Second,
	})

	done := make(chan error, 1)
	go func() {
		done <- seq.ExecuteStep(context.Background(), NewMockProtocol(), HardwareDefaultServoMap())
	}()

	// Give the goroutine time to reach the timer before advancing it.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("step finished before settle elapsed: %v", err)
	default:
	}

	mockClock.Add(2 * time.Second)
	if err := <-done; err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if seq.CurrentStep() != StepOpen {
		t.Fatalf("on %s, want open", seq.CurrentStep())
	}
}

// TestPickupSequenceContextCancel tests that a canceled context aborts the
// run between steps.
func TestPickupSequenceContextCancel(t *testing.T) {
	seq := fastSequence(t, PowerGraspPattern())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := seq.Run(ctx, NewMockProtocol(), HardwareDefaultServoMap())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if seq.IsComplete() {
		t.Fatal("canceled run should not complete")
	}
}
