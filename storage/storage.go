package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskpulse/domain"
)

const (
	edmInt64          = "Edm.Int64"
	maxUpdateAttempts = 8
)

// TableStore persists tasks in an Azure Table. The owner is the partition
// key and the task id the row key, so every query is owner scoped.
type TableStore struct {
	taskTable *aztables.Client
}

// New creates a TableStore from the given connection string.
func New(connStr, tasksTable string) (*TableStore, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &TableStore{taskTable: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func toEntity(t domain.Task) taskEntity {
	return taskEntity{
		PartitionKey:  t.Owner,
		RowKey:        t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Owner:       e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

func ownerFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// Find retrieves all tasks for the provided owner.
func (s *TableStore) Find(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := ownerFilter(owner)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

// sortByCreation orders a partition the way the board shows it. Rows come
// back in RowKey order, which for random ids is arbitrary.
func sortByCreation(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// FindOne retrieves a task entity if present.
func (s *TableStore) FindOne(ctx context.Context, owner, id string) (*domain.Task, error) {
	t, _, err := s.get(ctx, owner, id)
	return t, err
}

func (s *TableStore) get(ctx context.Context, owner, id string) (*domain.Task, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return &t, resp.ETag, nil
}

// Insert adds a new entity; a row key collision is an error.
func (s *TableStore) Insert(ctx context.Context, t domain.Task) (domain.Task, error) {
	payload, err := sonic.Marshal(toEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return domain.Task{}, fmt.Errorf("task %s already exists", t.ID)
		}
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateFields merges f into the stored task guarded by its ETag. A
// concurrent writer causes a reload and another attempt, so the table's
// commit order decides which write lands last.
func (s *TableStore) UpdateFields(ctx context.Context, owner, id string, f domain.TaskFields, at time.Time) (*domain.Task, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		t, etag, err := s.get(ctx, owner, id)
		if err != nil || t == nil {
			return nil, err
		}
		f.ApplyTo(t)
		t.UpdatedAt = nextUpdatedAt(t.UpdatedAt, at)
		payload, err := sonic.Marshal(toEntity(*t))
		if err != nil {
			return nil, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch {
		case err == nil:
			return t, nil
		case hasStatus(err, http.StatusNotFound):
			return nil, nil
		case hasStatus(err, http.StatusPreconditionFailed):
			log.WithFields(log.Fields{"task": id, "attempt": attempt}).Debug("task changed concurrently, retrying")
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, domain.ErrConcurrencyConflict)
}

// Remove deletes the entity, reporting whether it existed.
func (s *TableStore) Remove(ctx context.Context, owner, id string) (bool, error) {
	if _, err := s.taskTable.DeleteEntity(ctx, owner, id, nil); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
