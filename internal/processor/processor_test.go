// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/writeflow-io/writeflow/internal/domain"
	"github.com/writeflow-io/writeflow/internal/ledger"
	"github.com/writeflow-io/writeflow/internal/models"
	"github.com/writeflow-io/writeflow/internal/queue"
)

type fakeSource struct {
	batches [][]queue.Msg
	err     error
	calls   int
}

func (f *fakeSource) Fetch(ctx context.Context, _ int) ([]queue.Msg, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		// Idle poll; block briefly like a real pull would.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil, nil
		}
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func newTestProcessor(t *testing.T, source queue.Source) (*Processor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	handler, err := domain.HandlerFor(models.TableUsers)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	p, err := New(handler, source, ledger.NewWithDB(db), &fakeInvalidator{}, &fakePublisher{}, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p, mock
}

func TestServeProcessesFetchedMessages(t *testing.T) {
	msg := userMsg(t, 1)
	source := &fakeSource{batches: [][]queue.Msg{{msg}}}
	p, mock := newTestProcessor(t, source)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO write_operations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE write_operations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("serve returned %v, want deadline exceeded", err)
	}
	if !msg.acked {
		t.Error("fetched message was not processed")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	p, _ := newTestProcessor(t, &fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("serve returned %v, want canceled", err)
	}
}

func TestConsumerConfig(t *testing.T) {
	p, _ := newTestProcessor(t, &fakeSource{})

	cfg := p.ConsumerConfig()
	if cfg.Stream != queue.WritesStream {
		t.Errorf("stream = %s, want %s", cfg.Stream, queue.WritesStream)
	}
	if cfg.FilterSubject != "writes.users" {
		t.Errorf("filter = %s, want writes.users", cfg.FilterSubject)
	}
	if cfg.Durable != "wp-users" {
		t.Errorf("durable = %s, want wp-users", cfg.Durable)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("consumer config invalid: %v", err)
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	handler, _ := domain.HandlerFor(models.TableUsers)
	if _, err := New(handler, nil, nil, nil, nil, nil, DefaultConfig()); err == nil {
		t.Error("expected error for missing dependencies")
	}
}
