package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"gonum.org/v1/gonum/floats"

	"github.com/rudrab06/PP-FedSLAM/internal/aggregate"
	"github.com/rudrab06/PP-FedSLAM/internal/checkpoint"
	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
	"github.com/rudrab06/PP-FedSLAM/internal/pool"
	"github.com/rudrab06/PP-FedSLAM/internal/privacy"
	"github.com/rudrab06/PP-FedSLAM/internal/reliability"
	"github.com/rudrab06/PP-FedSLAM/internal/trainer"
)

// State is the orchestrator's position in the round lifecycle.
type State string

const (
	StateIdle             State = "Idle"
	StateSelectingClients State = "SelectingClients"
	StateDispatching      State = "Dispatching"
	StateCollecting       State = "Collecting"
	StateProtecting       State = "Protecting"
	StateScoring          State = "Scoring"
	StateAggregating      State = "Aggregating"
	StateCheckpointing    State = "Checkpointing"
	StateDone             State = "Done"
)

// Orchestrator drives synchronous federated rounds: select clients, dispatch
// the global snapshot to their trainers, collect with a timeout, then run
// the clip -> score -> aggregate pipeline and checkpoint the new global
// state. It is the single writer of the global model; every reader gets a
// value snapshot.
type Orchestrator struct {
	config       *RunConfig
	clientPool   *pool.ClientPool
	trainer      trainer.ITrainer
	clipper      *privacy.Clipper
	accountant   *privacy.Accountant
	scorer       *reliability.Scorer
	aggregator   *aggregate.Aggregator
	store        checkpoint.IStore
	eventBus     *events.EventBus
	logger       hclog.Logger
	selectionRng *rand.Rand

	mu              sync.RWMutex
	state           State
	global          *model.GlobalModelState
	resultsFileName string
}

// Status is a read-only view of run progress for the control plane.
type Status struct {
	State        State   `json:"state"`
	Round        int32   `json:"round"`
	Rounds       int32   `json:"rounds"`
	TotalEpsilon float64 `json:"totalEpsilon"`
}

type trainResult struct {
	client *model.Client
	update *trainer.LocalUpdate
	err    error
}

// NewOrchestrator validates the configuration eagerly and wires the round
// pipeline. The selection and noise random streams are seeded independently
// from the config, so runs are reproducible under fixed seeds. If the store
// holds a previous checkpoint the run resumes from it.
func NewOrchestrator(config *RunConfig, clientPool *pool.ClientPool, localTrainer trainer.ITrainer,
	store checkpoint.IStore, eventBus *events.EventBus, logger hclog.Logger) (*Orchestrator, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	noiseRng := rand.New(rand.NewSource(config.NoiseSeed))
	clipper, err := privacy.NewClipper(config.ClipNorm, config.NoiseMultiplier, int(config.ModelDimension), noiseRng, logger)
	if err != nil {
		return nil, err
	}

	scorer, err := reliability.NewScorer(config.ReliabilityDecay, config.MinHistoryRounds, logger)
	if err != nil {
		return nil, err
	}

	aggregator, err := aggregate.NewAggregator(config.TrimFraction, logger)
	if err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		config:       config,
		clientPool:   clientPool,
		trainer:      localTrainer,
		clipper:      clipper,
		accountant:   privacy.NewAccountant(config.PrivacyDelta),
		scorer:       scorer,
		aggregator:   aggregator,
		store:        store,
		eventBus:     eventBus,
		logger:       logger,
		selectionRng: rand.New(rand.NewSource(config.SelectionSeed)),
		state:        StateIdle,
		global:       model.NewGlobalModelState(config.ModelDimension),
	}

	if err := orch.resumeFromCheckpoint(); err != nil {
		return nil, err
	}

	return orch, nil
}

func (orch *Orchestrator) resumeFromCheckpoint() error {
	state, account, err := orch.store.LoadLatestCheckpoint()
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	if state.Dimension() != int(orch.config.ModelDimension) {
		return &common.ConfigurationError{
			Field:  "modelDimension",
			Reason: fmt.Sprintf("checkpoint has %d parameters, config wants %d", state.Dimension(), orch.config.ModelDimension),
		}
	}

	records, err := orch.store.LoadReliabilityRecords()
	if err != nil {
		return err
	}

	orch.global = state
	orch.accountant.Restore(account)
	orch.scorer.Restore(records)

	orch.logger.Info(fmt.Sprintf("Resuming from checkpoint of round %d (epsilon %.4f)", state.Round, account.TotalEpsilon()))

	return nil
}

// Run executes rounds until the configured count is reached, then returns
// the final global state. Rounds are strictly sequential: round r+1 never
// starts before round r's checkpoint completed.
func (orch *Orchestrator) Run(ctx context.Context) (model.GlobalModelState, error) {
	poolChangeChan := make(chan events.Event)
	orch.eventBus.Subscribe(common.CLIENT_POOL_CHANGE_EVENT_TYPE, poolChangeChan)
	go orch.poolChangeHandler(poolChangeChan)
	defer func() {
		orch.eventBus.Unsubscribe(common.CLIENT_POOL_CHANGE_EVENT_TYPE, poolChangeChan)
		close(poolChangeChan)
	}()

	orch.resultsFileName = getResultsFileName(orch.config.ResultsDir)

	for orch.currentRound() < orch.config.Rounds {
		round := orch.currentRound() + 1

		if err := ctx.Err(); err != nil {
			orch.finish(1, err.Error())
			return model.GlobalModelState{}, err
		}

		if err := orch.runRoundWithRetry(ctx, round); err != nil {
			orch.logger.Error(fmt.Sprintf("Run aborted in round %d: %s", round, err.Error()))
			orch.finish(1, err.Error())
			return model.GlobalModelState{}, err
		}
	}

	orch.logger.Info(fmt.Sprintf("Run finished after %d rounds, total epsilon %.4f",
		orch.config.Rounds, orch.accountant.TotalEpsilon()))
	orch.finish(0, fmt.Sprintf("completed %d rounds", orch.config.Rounds))

	return orch.FinalState(), nil
}

// finish moves to the terminal state and publishes the RunFinished event.
func (orch *Orchestrator) finish(exitCode int32, exitMessage string) {
	orch.setState(StateDone)

	orch.eventBus.Publish(events.Event{
		Type:      common.RUN_FINISHED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data: events.RunFinishedEvent{
			ExitCode:    exitCode,
			ExitMessage: exitMessage,
		},
	})
}

// runRoundWithRetry reruns a round with a fresh client selection when it
// fails on quorum and the retry policy allows it. Every other error is
// permanent.
func (orch *Orchestrator) runRoundWithRetry(ctx context.Context, round int32) error {
	if orch.config.QuorumPolicy != common.QUORUM_POLICY_RETRY || orch.config.MaxRoundRetries == 0 {
		return orch.runRound(ctx, round)
	}

	operation := func() error {
		err := orch.runRound(ctx, round)
		if err == nil {
			return nil
		}

		var quorumErr *common.QuorumError
		if errors.As(err, &quorumErr) {
			orch.logger.Warn(fmt.Sprintf("Retrying round %d with a fresh selection: %s", round, err.Error()))
			return err
		}

		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 0

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(orch.config.MaxRoundRetries)), ctx))
}

func (orch *Orchestrator) runRound(ctx context.Context, round int32) error {
	orch.setState(StateSelectingClients)
	selected := orch.selectClients()

	snapshot := orch.snapshotGlobal()

	orch.setState(StateDispatching)
	roundCtx, cancel := context.WithTimeout(ctx, orch.config.RoundTimeout())
	defer cancel()

	// Buffered so late trainers never leak after the timeout fires.
	results := make(chan trainResult, len(selected))
	for _, client := range selected {
		go func(client *model.Client) {
			update, err := orch.trainer.TrainLocal(roundCtx, snapshot, client.DataHandle)
			results <- trainResult{client: client, update: update, err: err}
		}(client)
	}

	orch.setState(StateCollecting)
	valid := orch.collect(roundCtx, round, selected, results)

	// Results arrive in completion order. Sorting by client id fixes the
	// order in which the noise stream is consumed, keeping runs reproducible.
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].ClientId < valid[j].ClientId
	})

	if len(valid) < int(orch.config.MinQuorum) {
		return &common.QuorumError{Round: round, Valid: len(valid), Required: int(orch.config.MinQuorum)}
	}

	orch.setState(StateProtecting)
	protected := make([]*model.ClientUpdate, 0, len(valid))
	for _, update := range valid {
		protectedUpdate, err := orch.clipper.Protect(update)
		if err != nil {
			orch.logger.Warn(fmt.Sprintf("Excluding client %s from round %d: %s", update.ClientId, round, err.Error()))
			continue
		}
		protected = append(protected, protectedUpdate)
	}
	if len(protected) < int(orch.config.MinQuorum) {
		return &common.QuorumError{Round: round, Valid: len(protected), Required: int(orch.config.MinQuorum)}
	}
	orch.recordPrivacySpend(round)

	orch.setState(StateScoring)
	weights := make(map[string]float64, len(protected))
	for _, update := range protected {
		orch.scorer.Score(update)
		weights[update.ClientId] = orch.scorer.Weight(update.ClientId)
	}

	orch.setState(StateAggregating)
	delta, err := orch.aggregator.Aggregate(protected, weights)
	if err != nil {
		return err
	}

	orch.setState(StateCheckpointing)
	orch.applyDelta(delta, round)

	if err := orch.store.SaveCheckpoint(orch.global, orch.accountant.Account()); err != nil {
		return err
	}
	if err := orch.store.SaveReliabilityRecords(orch.scorer.Records()); err != nil {
		return err
	}

	participants := make([]string, 0, len(protected))
	for _, update := range protected {
		participants = append(participants, update.ClientId)
	}
	deltaNorm := common.L2Norm(delta)

	writeResultsToFile(orch.resultsFileName, round, len(participants), deltaNorm, orch.accountant.TotalEpsilon())

	orch.eventBus.Publish(events.Event{
		Type:      common.ROUND_COMPLETED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data: events.RoundCompletedEvent{
			Round:        round,
			Participants: participants,
			DeltaNorm:    deltaNorm,
			TotalEpsilon: orch.accountant.TotalEpsilon(),
		},
	})

	orch.logger.Info(fmt.Sprintf("Finished round %d with %d participants, delta norm %.6f",
		round, len(participants), deltaNorm))

	orch.setState(StateIdle)

	return nil
}

// collect gathers trainer results until all selected clients answered or the
// round timeout fires. Timed-out clients and clients returning the wrong
// shape are dropouts: excluded from the round, reliability untouched.
func (orch *Orchestrator) collect(roundCtx context.Context, round int32, selected []*model.Client,
	results <-chan trainResult) []*model.ClientUpdate {
	valid := []*model.ClientUpdate{}
	received := make(map[string]bool, len(selected))

	pending := len(selected)
	for pending > 0 {
		select {
		case result := <-results:
			pending--
			received[result.client.Id] = true

			if result.err != nil {
				orch.logger.Warn(fmt.Sprintf("Client %s failed in round %d: %s", result.client.Id, round, result.err.Error()))
				continue
			}
			if len(result.update.Vector) != int(orch.config.ModelDimension) {
				dimErr := &common.DimensionMismatchError{
					ClientId: result.client.Id,
					Want:     int(orch.config.ModelDimension),
					Got:      len(result.update.Vector),
				}
				orch.logger.Warn(fmt.Sprintf("Excluding client %s from round %d: %s", result.client.Id, round, dimErr.Error()))
				continue
			}

			valid = append(valid, &model.ClientUpdate{
				ClientId:   result.client.Id,
				Vector:     result.update.Vector,
				NumSamples: result.update.NumSamples,
				LocalLoss:  result.update.LocalLoss,
			})

		case <-roundCtx.Done():
			for _, client := range selected {
				if !received[client.Id] {
					dropErr := &common.DropoutError{ClientId: client.Id, Timeout: orch.config.RoundTimeout()}
					orch.logger.Warn(fmt.Sprintf("Round %d: %s", round, dropErr.Error()))
				}
			}
			pending = 0
		}
	}

	return valid
}

// selectClients draws a fixed-size subset without replacement using the
// dedicated selection stream. The pool is sorted by client id first, so the
// draw is reproducible under a fixed seed.
func (orch *Orchestrator) selectClients() []*model.Client {
	clients := orch.clientPool.Clients()

	count := int(orch.config.ClientsPerRound)
	if count > len(clients) {
		orch.logger.Warn(fmt.Sprintf("Pool shrunk to %d clients, selecting all of them", len(clients)))
		count = len(clients)
	}

	permutation := orch.selectionRng.Perm(len(clients))
	selected := make([]*model.Client, 0, count)
	for _, index := range permutation[:count] {
		selected = append(selected, clients[index])
	}

	return selected
}

// recordPrivacySpend takes the state lock because Status reads the account
// concurrently from the control plane.
func (orch *Orchestrator) recordPrivacySpend(round int32) {
	orch.mu.Lock()
	defer orch.mu.Unlock()

	orch.accountant.RecordRound(round, orch.config.ClipNorm, orch.config.NoiseMultiplier)
}

func (orch *Orchestrator) applyDelta(delta []float64, round int32) {
	orch.mu.Lock()
	defer orch.mu.Unlock()

	switch orch.config.DeltaPolicy {
	case common.DELTA_POLICY_REPLACE:
		orch.global.Parameters = common.CloneVector(delta)
	default:
		floats.Add(orch.global.Parameters, delta)
	}

	orch.global.Round = round
	orch.global.CheckpointedAt = time.Now()
}

func (orch *Orchestrator) poolChangeHandler(eventChan <-chan events.Event) {
	for event := range eventChan {
		changeEvent, ok := event.Data.(events.ClientPoolChangeEvent)
		if !ok {
			orch.logger.Info("Invalid event data")
			continue
		}

		orch.logger.Info(fmt.Sprintf("Client pool changed: %d joined, %d left",
			len(changeEvent.ClientsAdded), len(changeEvent.ClientsRemoved)))
	}
}

func (orch *Orchestrator) setState(state State) {
	orch.mu.Lock()
	orch.state = state
	orch.mu.Unlock()
}

func (orch *Orchestrator) State() State {
	orch.mu.RLock()
	defer orch.mu.RUnlock()

	return orch.state
}

func (orch *Orchestrator) currentRound() int32 {
	orch.mu.RLock()
	defer orch.mu.RUnlock()

	return orch.global.Round
}

func (orch *Orchestrator) snapshotGlobal() model.GlobalModelState {
	orch.mu.RLock()
	defer orch.mu.RUnlock()

	return orch.global.Snapshot()
}

// FinalState exposes the global model for the downstream trajectory
// evaluator. The coordinator never formats trajectory lines itself.
func (orch *Orchestrator) FinalState() model.GlobalModelState {
	return orch.snapshotGlobal()
}

func (orch *Orchestrator) Status() Status {
	orch.mu.RLock()
	defer orch.mu.RUnlock()

	return Status{
		State:        orch.state,
		Round:        orch.global.Round,
		Rounds:       orch.config.Rounds,
		TotalEpsilon: orch.accountant.TotalEpsilon(),
	}
}
