package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/rudrab06/PP-FedSLAM/internal/checkpoint"
	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/coordinator"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/pool"
	"github.com/rudrab06/PP-FedSLAM/internal/trainer"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fedslam-coord",
		Level: hclog.LevelFromString("DEBUG"),
	})

	configFilePath := "configs/run.yaml"
	poolFilePath := "configs/pool.csv"
	if len(os.Args) == 3 {
		configFilePath = os.Args[1]
		poolFilePath = os.Args[2]
	}

	config, err := coordinator.LoadRunConfig(configFilePath)
	if err != nil {
		logger.Error("Error loading run config", "error", err)
		return
	}

	clientPool, err := pool.NewClientPoolFromFile(poolFilePath)
	if err != nil {
		logger.Error("Error loading client pool", "error", err)
		return
	}

	eventBus := events.NewEventBus()

	roundCompletedChan := make(chan events.Event)
	eventBus.Subscribe(common.ROUND_COMPLETED_EVENT_TYPE, roundCompletedChan)
	go func() {
		for event := range roundCompletedChan {
			roundEvent, ok := event.Data.(events.RoundCompletedEvent)
			if !ok {
				continue
			}
			logger.Info(fmt.Sprintf("Round %d completed: %d participants, delta norm %.6f, epsilon %.4f",
				roundEvent.Round, len(roundEvent.Participants), roundEvent.DeltaNorm, roundEvent.TotalEpsilon))
		}
	}()

	localTrainer := trainer.NewSimulatedTrainer(int(config.ModelDimension), 0.5)

	orchestrator, err := coordinator.NewOrchestrator(config, clientPool, localTrainer,
		checkpoint.NewMemoryStore(), eventBus, logger)
	if err != nil {
		logger.Error("Error creating orchestrator", "error", err)
		return
	}

	finalState, err := orchestrator.Run(context.Background())
	if err != nil {
		logger.Error("Run failed", "error", err)
		return
	}

	logger.Info(fmt.Sprintf("Final model after round %d: %d parameters, norm %.6f",
		finalState.Round, len(finalState.Parameters), common.L2Norm(finalState.Parameters)))
}
