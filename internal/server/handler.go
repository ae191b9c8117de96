package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/rudrab06/PP-FedSLAM/internal/checkpoint"
	"github.com/rudrab06/PP-FedSLAM/internal/coordinator"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/pool"
	"github.com/rudrab06/PP-FedSLAM/internal/trainer"
)

type coordinationRun struct {
	orchestrator *coordinator.Orchestrator
	cancel       context.CancelFunc
	done         chan struct{}
}

func (run *coordinationRun) active() bool {
	select {
	case <-run.done:
		return false
	default:
		return true
	}
}

type Handler struct {
	logger     hclog.Logger
	eventBus   *events.EventBus
	clientPool *pool.ClientPool
	trainer    trainer.ITrainer
	store      checkpoint.IStore

	mu   sync.Mutex
	runs map[string]*coordinationRun
}

func NewHandler(logger hclog.Logger, eventBus *events.EventBus, clientPool *pool.ClientPool,
	localTrainer trainer.ITrainer, store checkpoint.IStore) *Handler {
	return &Handler{
		logger:     logger,
		eventBus:   eventBus,
		clientPool: clientPool,
		trainer:    localTrainer,
		store:      store,
		runs:       map[string]*coordinationRun{},
	}
}

func (handler *Handler) StartRun(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := uuid.New().String()

	request := &StartRunRequest{}
	err := fromJSON(request, r.Body)
	if err != nil {
		handler.logger.Error("error starting run: ", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	// The checkpoint store backs exactly one live global model, so two
	// concurrent runs would race as two writers over the same state.
	handler.mu.Lock()
	for activeId, run := range handler.runs {
		if run.active() {
			handler.mu.Unlock()
			handler.logger.Warn(fmt.Sprintf("Rejecting run start: run %s is still active", activeId))
			rw.WriteHeader(http.StatusConflict)
			toJSON("another run is active", rw)
			return
		}
	}

	orchestrator, err := coordinator.NewOrchestrator(&request.RunConfig, handler.clientPool, handler.trainer,
		handler.store, handler.eventBus, handler.logger)
	if err != nil {
		handler.mu.Unlock()
		handler.logger.Error("error starting run", "error", err)
		rw.WriteHeader(http.StatusBadRequest)
		toJSON(err.Error(), rw)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	handler.runs[runId] = &coordinationRun{orchestrator: orchestrator, cancel: cancel, done: done}
	handler.mu.Unlock()

	handler.logger.Info(fmt.Sprintf("Starting run %s: %d rounds, %d clients per round, clip norm %g, noise %g",
		runId, request.RunConfig.Rounds, request.RunConfig.ClientsPerRound,
		request.RunConfig.ClipNorm, request.RunConfig.NoiseMultiplier))

	go func() {
		defer close(done)
		defer cancel()
		if _, err := orchestrator.Run(ctx); err != nil {
			handler.logger.Error(fmt.Sprintf("Run %s failed: %s", runId, err.Error()))
		}
	}()

	rw.WriteHeader(http.StatusOK)
	toJSON(runId, rw)
}

func (handler *Handler) StopRun(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.logger.Info(fmt.Sprintf("Stopping run with ID: %s", runId))

	handler.mu.Lock()
	run := handler.runs[runId]
	handler.mu.Unlock()

	if run != nil {
		run.cancel()
		rw.WriteHeader(http.StatusOK)
	} else {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
	}
}

func (handler *Handler) RunStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.mu.Lock()
	run := handler.runs[runId]
	handler.mu.Unlock()

	if run == nil {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(run.orchestrator.Status(), rw)
}

// RunModel returns the current global model snapshot for downstream
// consumers such as the trajectory evaluator.
func (handler *Handler) RunModel(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.mu.Lock()
	run := handler.runs[runId]
	handler.mu.Unlock()

	if run == nil {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
		return
	}

	state := run.orchestrator.FinalState()
	rw.WriteHeader(http.StatusOK)
	toJSON(&GlobalModelResponse{
		Round:      state.Round,
		Parameters: state.Parameters,
	}, rw)
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
