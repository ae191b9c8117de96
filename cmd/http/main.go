package main

import (
	"io"
	"os"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/rudrab06/PP-FedSLAM/internal/checkpoint"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/pool"
	"github.com/rudrab06/PP-FedSLAM/internal/server"
	"github.com/rudrab06/PP-FedSLAM/internal/trainer"
)

func main() {
	_ = os.Mkdir("log", 0777)
	logFile, err := os.OpenFile("log/run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			panic(err)
		}
	}()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fedslam-coord",
		Level:  hclog.LevelFromString("DEBUG"),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	poolFilePath := "configs/pool.csv"
	checkpointPath := "checkpoints.db"
	if len(os.Args) == 3 {
		poolFilePath = os.Args[1]
		checkpointPath = os.Args[2]
	}

	eventBus := events.NewEventBus()

	clientPool, err := pool.NewClientPoolFromFile(poolFilePath)
	if err != nil {
		logger.Error("Error while loading client pool ::", err.Error())
		return
	}

	notifier := pool.NewChangeNotifier(clientPool, poolFilePath, eventBus, logger)
	notifier.Start()
	defer notifier.Stop()

	store, err := checkpoint.NewSqliteStore(checkpointPath, logger)
	if err != nil {
		logger.Error("Error while opening checkpoint store ::", err.Error())
		return
	}
	defer store.Close()

	// The simulated trainer stands in for the external motion-estimation
	// trainers reachable from this control plane.
	localTrainer := trainer.NewSimulatedTrainer(64, 0.5)

	handler := server.NewHandler(logger, eventBus, clientPool, localTrainer, store)

	defaultRouter := mux.NewRouter()
	defaultRouter.HandleFunc("/runs/start", handler.StartRun)
	defaultRouter.HandleFunc("/runs/stop/{runId}", handler.StopRun)
	defaultRouter.HandleFunc("/runs/status/{runId}", handler.RunStatus)
	defaultRouter.HandleFunc("/runs/model/{runId}", handler.RunModel)

	server.StartHttpServer(logger, ":8080", defaultRouter)
}
