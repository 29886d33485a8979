package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskpulse/domain"
)

// EventQueue exports committed task events to an Azure queue for downstream
// consumers.
type EventQueue struct {
	queue *azqueue.QueueClient
}

// NewEventQueue creates an EventQueue for the named queue.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

func (q *EventQueue) Name() string { return "event-queue" }

// Forward enqueues a task event. Presence and resync events are not exported.
func (q *EventQueue) Forward(ctx context.Context, ev domain.Event) error {
	if !ev.IsTaskEvent() {
		return nil
	}
	data, err := encodeQueueMessage(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}

type queueMessage struct {
	EventID string       `json:"eventId"`
	Type    string       `json:"type"`
	Owner   string       `json:"owner"`
	TaskID  string       `json:"taskId"`
	Task    *domain.Task `json:"task,omitempty"`
	Time    int64        `json:"time"`
}

func encodeQueueMessage(ev domain.Event) (string, error) {
	return sonic.MarshalString(queueMessage{
		EventID: ev.ID,
		Type:    ev.Type,
		Owner:   ev.Owner,
		TaskID:  ev.AffectedID(),
		Task:    ev.Task,
		Time:    ev.Time,
	})
}
