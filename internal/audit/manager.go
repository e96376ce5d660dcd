package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/session-auth/internal/metrics"
)

const (
	taskTypeAudit = "audit:auth"
	queueName     = "audit"
	maxRetry      = 3
)

// enqueuer は asynq.Client のうち Manager が使う部分です。
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager は監査イベントの投入とワーカーを管理します。
type Manager struct {
	client enqueuer
	server *asynq.Server
	mux    *asynq.ServeMux
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewManager は Redis URL から Manager を初期化します。
func NewManager(redisURL string, concurrency int, sink Sink, logger *slog.Logger) (*Manager, error) {
	if sink == nil {
		return nil, errors.New("sink is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)
	return newManager(asynq.NewClient(opt), server, sink, logger), nil
}

func newManager(client enqueuer, server *asynq.Server, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		client: client,
		server: server,
		mux:    asynq.NewServeMux(),
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	m.mux.HandleFunc(taskTypeAudit, m.handleAuditTask)
	return m
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("audit.worker.stopped", "err", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() error {
	if m.server != nil {
		m.server.Shutdown()
	}
	return m.client.Close()
}

// Record はイベントをキューに投入します。失敗はログとメトリクスにのみ残します。
func (m *Manager) Record(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		metrics.AuditEvents.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(ctx, "audit.encode.fail", "err", err, "kind", ev.Kind)
		return
	}

	task := asynq.NewTask(taskTypeAudit, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry)); err != nil {
		metrics.AuditEvents.WithLabelValues(metrics.ResultError).Inc()
		m.logger.ErrorContext(ctx, "audit.enqueue.fail", "err", err, "kind", ev.Kind)
		return
	}
	metrics.AuditEvents.WithLabelValues(metrics.ResultQueued).Inc()
}

func (m *Manager) handleAuditTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("decode audit event: %v: %w", err, asynq.SkipRetry)
	}
	if ev.Kind == "" {
		return fmt.Errorf("missing kind in payload: %w", asynq.SkipRetry)
	}
	if err := m.sink.Save(ctx, ev); err != nil {
		return err
	}
	metrics.AuditEvents.WithLabelValues(metrics.ResultStored).Inc()
	return nil
}
