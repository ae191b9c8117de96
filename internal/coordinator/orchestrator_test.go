package coordinator

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/rudrab06/PP-FedSLAM/internal/checkpoint"
	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
	"github.com/rudrab06/PP-FedSLAM/internal/pool"
	"github.com/rudrab06/PP-FedSLAM/internal/trainer"
)

func testPool(ids ...string) *pool.ClientPool {
	clients := make(map[string]*model.Client, len(ids))
	for _, id := range ids {
		clients[id] = &model.Client{Id: id, DataHandle: "data/" + id}
	}
	return pool.NewClientPool(clients)
}

func fixedUpdateTrainer(vector []float64) trainer.ITrainer {
	return trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		return &trainer.LocalUpdate{
			Vector:     common.CloneVector(vector),
			NumSamples: 100,
			LocalLoss:  1.0,
		}, nil
	})
}

func endToEndConfig() *RunConfig {
	return &RunConfig{
		ModelDimension:   4,
		ClipNorm:         0.01,
		NoiseMultiplier:  0,
		TrimFraction:     0,
		Rounds:           2,
		ClientsPerRound:  3,
		PoolSize:         5,
		MinQuorum:        3,
		RoundTimeoutSec:  5,
		ReliabilityDecay: 0.8,
		SelectionSeed:    42,
		NoiseSeed:        1337,
	}
}

// Fixed seeds, no noise, no trimming, identical synthetic updates: the
// global vector advances by exactly the mean update every round.
func TestRunEndToEndDeterministicAveraging(t *testing.T) {
	update := []float64{0.006, 0.008, 0, 0} // norm 0.01, at the clip boundary

	store := checkpoint.NewMemoryStore()
	orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer(update), store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalState, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if finalState.Round != 2 {
		t.Fatalf("expected final round 2, got %d", finalState.Round)
	}

	checkpoints := store.Checkpoints()
	if len(checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(checkpoints))
	}
	afterRound1 := checkpoints[0]
	afterRound2 := checkpoints[1]

	// Round 1 starts from zero, so its state is the mean of identical
	// updates: the update itself.
	for i := range update {
		if math.Abs(afterRound1.Parameters[i]-update[i]) > 1e-9 {
			t.Errorf("after round 1 coordinate %d: expected %g, got %g", i, update[i], afterRound1.Parameters[i])
		}
	}

	// Round 2 adds the same mean again.
	for i := range update {
		if math.Abs(afterRound2.Parameters[i]-2*afterRound1.Parameters[i]) > 1e-12 {
			t.Errorf("after round 2 coordinate %d: expected %g, got %g",
				i, 2*afterRound1.Parameters[i], afterRound2.Parameters[i])
		}
	}

	if orchestrator.State() != StateDone {
		t.Errorf("expected terminal state Done, got %s", orchestrator.State())
	}
}

func TestRunBitReproducibleUnderFixedSeeds(t *testing.T) {
	update := []float64{0.006, 0.008, 0, 0}

	run := func() model.GlobalModelState {
		orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
			fixedUpdateTrainer(update), checkpoint.NewMemoryStore(), events.NewEventBus(), hclog.NewNullLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		finalState, err := orchestrator.Run(context.Background())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		return finalState
	}

	first := run()
	second := run()

	for i := range first.Parameters {
		if math.Float64bits(first.Parameters[i]) != math.Float64bits(second.Parameters[i]) {
			t.Fatalf("runs diverge at coordinate %d: %g vs %g", i, first.Parameters[i], second.Parameters[i])
		}
	}
}

// Noise with a fixed seed is also reproducible, and nonzero.
func TestRunWithNoiseReproducible(t *testing.T) {
	config := endToEndConfig()
	config.NoiseMultiplier = 1.0

	run := func() model.GlobalModelState {
		configCopy := *config
		orchestrator, err := NewOrchestrator(&configCopy, testPool("c1", "c2", "c3", "c4", "c5"),
			fixedUpdateTrainer([]float64{0.006, 0.008, 0, 0}), checkpoint.NewMemoryStore(),
			events.NewEventBus(), hclog.NewNullLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		finalState, err := orchestrator.Run(context.Background())
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		return finalState
	}

	first := run()
	second := run()

	for i := range first.Parameters {
		if math.Float64bits(first.Parameters[i]) != math.Float64bits(second.Parameters[i]) {
			t.Fatalf("noised runs diverge at coordinate %d", i)
		}
	}
}

func TestRunAbortsOnQuorumFailure(t *testing.T) {
	config := endToEndConfig()
	config.ClientsPerRound = 5
	config.MinQuorum = 3

	// Three of five clients always fail, leaving 2 valid updates.
	failingTrainer := trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		if strings.HasSuffix(dataHandle, "c1") || strings.HasSuffix(dataHandle, "c2") || strings.HasSuffix(dataHandle, "c3") {
			return nil, errors.New("training diverged")
		}
		return &trainer.LocalUpdate{Vector: []float64{0.001, 0, 0, 0}, NumSamples: 10, LocalLoss: 1}, nil
	})

	store := checkpoint.NewMemoryStore()
	orchestrator, err := NewOrchestrator(config, testPool("c1", "c2", "c3", "c4", "c5"),
		failingTrainer, store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = orchestrator.Run(context.Background())
	if err == nil {
		t.Fatal("expected quorum error")
	}

	var quorumErr *common.QuorumError
	if !errors.As(err, &quorumErr) {
		t.Fatalf("expected *QuorumError, got %T: %v", err, err)
	}
	if quorumErr.Valid != 2 || quorumErr.Required != 3 {
		t.Errorf("unexpected quorum error payload: %+v", quorumErr)
	}

	// Aggregation never ran: nothing was checkpointed.
	if len(store.Checkpoints()) != 0 {
		t.Error("no checkpoint should exist after an aborted round")
	}
}

func TestRunRetriesRoundOnQuorumFailure(t *testing.T) {
	config := endToEndConfig()
	config.Rounds = 1
	config.QuorumPolicy = common.QUORUM_POLICY_RETRY
	config.MaxRoundRetries = 2

	// Every client fails on the first attempt, then training recovers.
	var calls atomic.Int32
	flakyTrainer := trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		if calls.Add(1) <= int32(config.ClientsPerRound) {
			return nil, errors.New("transient failure")
		}
		return &trainer.LocalUpdate{Vector: []float64{0.001, 0, 0, 0}, NumSamples: 10, LocalLoss: 1}, nil
	})

	store := checkpoint.NewMemoryStore()
	orchestrator, err := NewOrchestrator(config, testPool("c1", "c2", "c3", "c4", "c5"),
		flakyTrainer, store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalState, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("expected the retried round to succeed, got: %v", err)
	}
	if finalState.Round != 1 {
		t.Errorf("expected 1 completed round, got %d", finalState.Round)
	}
	if len(store.Checkpoints()) != 1 {
		t.Errorf("expected exactly 1 checkpoint, got %d", len(store.Checkpoints()))
	}
}

func TestRunTreatsTimeoutAsDropoutWithoutPenalty(t *testing.T) {
	config := endToEndConfig()
	config.Rounds = 1
	config.ClientsPerRound = 3
	config.PoolSize = 3
	config.MinQuorum = 2
	config.RoundTimeoutSec = 0.1

	// The slow client ignores cancellation entirely and answers long after
	// the round moved on.
	slowTrainer := trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		if strings.HasSuffix(dataHandle, "c2") {
			time.Sleep(500 * time.Millisecond)
		}
		return &trainer.LocalUpdate{Vector: []float64{0.002, 0, 0, 0}, NumSamples: 10, LocalLoss: 1}, nil
	})

	store := checkpoint.NewMemoryStore()
	orchestrator, err := NewOrchestrator(config, testPool("c1", "c2", "c3"),
		slowTrainer, store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalState, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("round should survive a single dropout: %v", err)
	}
	if finalState.Round != 1 {
		t.Fatalf("expected 1 completed round, got %d", finalState.Round)
	}

	// The dropout was never scored: no reliability record exists for it.
	records, err := store.LoadReliabilityRecords()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, record := range records {
		if record.ClientId == "c2" {
			t.Error("dropout client must not receive a reliability record update")
		}
	}
	if len(records) != 2 {
		t.Errorf("expected records for the 2 responding clients, got %d", len(records))
	}
}

func TestRunExcludesWrongDimensionClient(t *testing.T) {
	config := endToEndConfig()
	config.Rounds = 1
	config.ClientsPerRound = 3
	config.PoolSize = 3
	config.MinQuorum = 2

	badShapeTrainer := trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		if strings.HasSuffix(dataHandle, "c1") {
			return &trainer.LocalUpdate{Vector: []float64{1, 2, 3}, NumSamples: 10, LocalLoss: 1}, nil
		}
		return &trainer.LocalUpdate{Vector: []float64{0.002, 0, 0, 0}, NumSamples: 10, LocalLoss: 1}, nil
	})

	store := checkpoint.NewMemoryStore()
	orchestrator, err := NewOrchestrator(config, testPool("c1", "c2", "c3"),
		badShapeTrainer, store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("round should survive a single dimension mismatch: %v", err)
	}

	records, err := store.LoadReliabilityRecords()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, record := range records {
		if record.ClientId == "c1" {
			t.Error("excluded client must not be scored")
		}
	}
}

func TestRunPublishesRoundCompletedEvents(t *testing.T) {
	eventBus := events.NewEventBus()

	roundChan := make(chan events.Event, 8)
	eventBus.Subscribe(common.ROUND_COMPLETED_EVENT_TYPE, roundChan)

	orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer([]float64{0.001, 0, 0, 0}), checkpoint.NewMemoryStore(), eventBus, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(roundChan) != 2 {
		t.Fatalf("expected 2 round events, got %d", len(roundChan))
	}

	event := <-roundChan
	roundEvent, ok := event.Data.(events.RoundCompletedEvent)
	if !ok {
		t.Fatalf("unexpected event payload %T", event.Data)
	}
	if roundEvent.Round != 1 || len(roundEvent.Participants) != 3 {
		t.Errorf("unexpected round event: %+v", roundEvent)
	}
}

func TestRunPublishesRunFinishedEvent(t *testing.T) {
	eventBus := events.NewEventBus()

	finishedChan := make(chan events.Event, 1)
	eventBus.Subscribe(common.RUN_FINISHED_EVENT_TYPE, finishedChan)

	orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer([]float64{0.001, 0, 0, 0}), checkpoint.NewMemoryStore(), eventBus, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(finishedChan) != 1 {
		t.Fatalf("expected exactly 1 finished event, got %d", len(finishedChan))
	}
	finishedEvent, ok := (<-finishedChan).Data.(events.RunFinishedEvent)
	if !ok {
		t.Fatal("unexpected event payload")
	}
	if finishedEvent.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d: %s", finishedEvent.ExitCode, finishedEvent.ExitMessage)
	}
}

func TestRunPublishesRunFinishedOnAbort(t *testing.T) {
	eventBus := events.NewEventBus()

	finishedChan := make(chan events.Event, 1)
	eventBus.Subscribe(common.RUN_FINISHED_EVENT_TYPE, finishedChan)

	failingTrainer := trainer.TrainFunc(func(ctx context.Context, snapshot model.GlobalModelState,
		dataHandle string) (*trainer.LocalUpdate, error) {
		return nil, errors.New("training diverged")
	})

	orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		failingTrainer, checkpoint.NewMemoryStore(), eventBus, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := orchestrator.Run(context.Background()); err == nil {
		t.Fatal("expected quorum failure")
	}

	if len(finishedChan) != 1 {
		t.Fatalf("expected exactly 1 finished event, got %d", len(finishedChan))
	}
	finishedEvent := (<-finishedChan).Data.(events.RunFinishedEvent)
	if finishedEvent.ExitCode != 1 || finishedEvent.ExitMessage == "" {
		t.Errorf("expected a nonzero exit with a message, got %+v", finishedEvent)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	update := []float64{0.001, 0, 0, 0}

	first, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer(update), store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	config := endToEndConfig()
	config.Rounds = 3
	second, err := NewOrchestrator(config, testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer(update), store, events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalState, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if finalState.Round != 3 {
		t.Errorf("expected resumed run to end at round 3, got %d", finalState.Round)
	}
	// Two rounds from the first run plus one more.
	if len(store.Checkpoints()) != 3 {
		t.Errorf("expected 3 checkpoints total, got %d", len(store.Checkpoints()))
	}
}

// After Run returns, its pool-change subscription must be gone from the bus:
// a later publish on a bus shared across runs cannot hit a dead channel.
func TestRunDetachesFromEventBusOnExit(t *testing.T) {
	eventBus := events.NewEventBus()

	orchestrator, err := NewOrchestrator(endToEndConfig(), testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer([]float64{0.001, 0, 0, 0}), checkpoint.NewMemoryStore(), eventBus, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Panics on a closed subscriber channel, or blocks forever on a leaked
	// unbuffered one, if the run did not unsubscribe.
	eventBus.Publish(events.Event{Type: common.CLIENT_POOL_CHANGE_EVENT_TYPE, Timestamp: time.Now()})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	config := endToEndConfig()
	config.Rounds = 1000

	orchestrator, err := NewOrchestrator(config, testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer([]float64{0.001, 0, 0, 0}), checkpoint.NewMemoryStore(),
		events.NewEventBus(), hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := orchestrator.Run(ctx); err == nil {
		t.Fatal("expected run to stop on canceled context")
	}
}

func TestOrchestratorRejectsInvalidConfig(t *testing.T) {
	config := endToEndConfig()
	config.TrimFraction = 0.7

	_, err := NewOrchestrator(config, testPool("c1", "c2", "c3", "c4", "c5"),
		fixedUpdateTrainer([]float64{0.001, 0, 0, 0}), checkpoint.NewMemoryStore(),
		events.NewEventBus(), hclog.NewNullLogger())
	if err == nil {
		t.Fatal("expected configuration error at construction")
	}

	var configErr *common.ConfigurationError
	if !errors.As(err, &configErr) {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}
