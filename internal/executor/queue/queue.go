/*
Copyright 2020 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package queue implements the optional durable-queue transport for
// cross-node parallel execution (spec.md §5/§6): a study's proposed trials
// are published to a Kafka topic so that worker processes on other nodes
// can claim and evaluate them, reporting results back on a second topic.
// A single process study never needs this package -- it exists purely for
// the distributed-worker-pool deployment shape.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	"github.com/thestormforge/optimize-engine/internal/apperror"
	"github.com/thestormforge/optimize-engine/internal/space"
)

// Task is one proposed trial dispatched to a remote worker.
type Task struct {
	StudyID    string       `json:"study_id"`
	TrialID    string       `json:"trial_id"`
	TrialIndex int          `json:"trial_index"`
	Bracket    int          `json:"bracket"`
	Seed       int64        `json:"seed"`
	Params     space.Values `json:"params"`
}

// Result is a completed (or failed/pruned) trial reported back by a
// remote worker.
type Result struct {
	StudyID string             `json:"study_id"`
	TrialID string             `json:"trial_id"`
	Score   *float64           `json:"score,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Pruned  bool               `json:"pruned"`
	Error   string             `json:"error,omitempty"`
}

// Config names the Kafka brokers and topics used for trial dispatch and
// result collection.
type Config struct {
	Brokers     []string
	TaskTopic   string
	ResultTopic string
}

// Dispatcher publishes trial tasks and consumes trial results over Kafka.
// It is the cross-node analogue of the in-process run.nextParams /
// recordCompletion pair in internal/executor.
type Dispatcher struct {
	taskWriter   *kafka.Writer
	resultWriter *kafka.Writer
	taskReader   *kafka.Reader
	resultReader *kafka.Reader
}

// NewDispatcher constructs a Dispatcher from cfg. Readers are built with a
// dedicated consumer group per topic so multiple worker processes can
// share task consumption while every result is seen by the coordinator.
func NewDispatcher(cfg Config, group string) *Dispatcher {
	return &Dispatcher{
		taskWriter:   &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.TaskTopic, Balancer: &kafka.Hash{}},
		resultWriter: &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.ResultTopic, Balancer: &kafka.LeastBytes{}},
		taskReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers, Topic: cfg.TaskTopic, GroupID: group,
		}),
		resultReader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers, Topic: cfg.ResultTopic, GroupID: group + "-results",
		}),
	}
}

// PublishTask sends a proposed trial to the task topic, keyed by study ID
// so all of a study's tasks land on the same partition and preserve order.
func (d *Dispatcher) PublishTask(ctx context.Context, t Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "marshalling queue task", err)
	}
	if err := d.taskWriter.WriteMessages(ctx, kafka.Message{Key: []byte(t.StudyID), Value: b}); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "publishing queue task", err)
	}
	return nil
}

// ConsumeTask blocks until a task is available or ctx is cancelled.
func (d *Dispatcher) ConsumeTask(ctx context.Context) (Task, error) {
	var t Task
	msg, err := d.taskReader.ReadMessage(ctx)
	if err != nil {
		return t, apperror.Wrap(apperror.StoreUnavailable, "reading queue task", err)
	}
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		return t, apperror.Wrap(apperror.StoreUnavailable, "decoding queue task", err)
	}
	return t, nil
}

// PublishResult reports a completed trial back to the coordinator.
func (d *Dispatcher) PublishResult(ctx context.Context, r Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "marshalling queue result", err)
	}
	if err := d.resultWriter.WriteMessages(ctx, kafka.Message{Key: []byte(r.StudyID), Value: b}); err != nil {
		return apperror.Wrap(apperror.StoreUnavailable, "publishing queue result", err)
	}
	return nil
}

// ConsumeResult blocks until a result is available or ctx is cancelled.
func (d *Dispatcher) ConsumeResult(ctx context.Context) (Result, error) {
	var r Result
	msg, err := d.resultReader.ReadMessage(ctx)
	if err != nil {
		return r, apperror.Wrap(apperror.StoreUnavailable, "reading queue result", err)
	}
	if err := json.Unmarshal(msg.Value, &r); err != nil {
		return r, apperror.Wrap(apperror.StoreUnavailable, "decoding queue result", err)
	}
	return r, nil
}

// Close releases the underlying Kafka connections.
func (d *Dispatcher) Close() error {
	var firstErr error
	closers := []func() error{d.taskWriter.Close, d.resultWriter.Close, d.taskReader.Close, d.resultReader.Close}
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing queue resource: %w", err)
		}
	}
	return firstErr
}
