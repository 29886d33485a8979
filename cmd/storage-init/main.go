package main

import (
	"context"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"taskpulse/storage"
)

// settings is the subset of the server configuration provisioning needs.
type settings struct {
	Debug                   bool   `envconfig:"DEBUG" default:"false"`
	StorageConnectionString string `envconfig:"STORAGE_CONNECTION_STRING" required:"true"`
	TasksTable              string `envconfig:"TASKS_TABLE" default:"tasks"`
	EventsQueue             string `envconfig:"EVENTS_QUEUE"`
}

func main() {
	var s settings
	if err := envconfig.Process("TASKPULSE", &s); err != nil {
		log.Fatalf("failed to load env: %v", err)
	}
	if s.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	if err := storage.CreateTables(ctx, s.StorageConnectionString, s.TasksTable); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, s.StorageConnectionString, s.EventsQueue); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}
