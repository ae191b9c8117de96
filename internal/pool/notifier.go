package pool

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/rudrab06/PP-FedSLAM/internal/common"
	"github.com/rudrab06/PP-FedSLAM/internal/events"
	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// ChangeNotifier periodically re-reads the client pool file, applies the
// difference to the pool and publishes a ClientPoolChangeEvent when clients
// joined or left.
type ChangeNotifier struct {
	pool          *ClientPool
	poolFilePath  string
	eventBus      *events.EventBus
	cronScheduler *cron.Cron
	logger        hclog.Logger
}

func NewChangeNotifier(pool *ClientPool, poolFilePath string, eventBus *events.EventBus,
	logger hclog.Logger) *ChangeNotifier {
	return &ChangeNotifier{
		pool:          pool,
		poolFilePath:  poolFilePath,
		eventBus:      eventBus,
		cronScheduler: cron.New(cron.WithSeconds()),
		logger:        logger,
	}
}

func (notifier *ChangeNotifier) Start() {
	notifier.cronScheduler.AddFunc("@every 5s", notifier.notifyPoolChanges)

	notifier.cronScheduler.Start()
}

func (notifier *ChangeNotifier) Stop() {
	notifier.cronScheduler.Stop()
}

func (notifier *ChangeNotifier) notifyPoolChanges() {
	clientsNew, err := common.ReadClientPoolFile(notifier.poolFilePath)
	if err != nil {
		notifier.logger.Error(fmt.Sprintf("Error while re-reading client pool file: %s", err.Error()))
		return
	}

	event := GetClientPoolChangeEvent(notifier.pool.snapshot(), clientsNew)
	if (event == events.Event{}) {
		return
	}

	changeEvent := event.Data.(events.ClientPoolChangeEvent)
	for _, client := range changeEvent.ClientsAdded {
		notifier.pool.Add(client)
	}
	for _, client := range changeEvent.ClientsRemoved {
		notifier.pool.Remove(client.Id)
	}

	notifier.eventBus.Publish(event)
}

// GetClientPoolChangeEvent diffs two pool states and builds the change
// event, or a zero event when nothing changed.
func GetClientPoolChangeEvent(clientsCurrent map[string]*model.Client,
	clientsNew map[string]*model.Client) events.Event {
	clientsAdded := []*model.Client{}
	// check for added clients
	for _, client := range clientsNew {
		_, found := clientsCurrent[client.Id]
		if !found {
			clientsAdded = append(clientsAdded, client)
		}
	}

	clientsRemoved := []*model.Client{}
	// check for removed clients
	for _, client := range clientsCurrent {
		_, found := clientsNew[client.Id]
		if !found {
			clientsRemoved = append(clientsRemoved, client)
		}
	}

	var event events.Event
	if len(clientsAdded) > 0 || len(clientsRemoved) > 0 {
		common.SortClients(clientsAdded)
		common.SortClients(clientsRemoved)
		event = events.Event{
			Type:      common.CLIENT_POOL_CHANGE_EVENT_TYPE,
			Timestamp: time.Now(),
			Data: events.ClientPoolChangeEvent{
				ClientsAdded:   clientsAdded,
				ClientsRemoved: clientsRemoved,
			},
		}
	}

	return event
}
