package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/queue"
	"github.com/callvault/quosync/pkg/logging"
)

// SetupHandler runs the deferred post-create setup. Implemented by the
// integration lifecycle.
type SetupHandler interface {
	HandlePostCreateSetup(ctx context.Context, integrationID string) (*integration.SetupResult, error)
}

// ActivityHandler projects telephony events into the CRM.
type ActivityHandler interface {
	HandleSMS(ctx context.Context, integrationID string, sms queue.SMSActivity) error
	HandleCall(ctx context.Context, integrationID string, call queue.CallActivity) error
}

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 20
	defaultBatchSize      = 10
	defaultHandlerTimeout = 600 * time.Second
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	deleteTimeoutSeconds  = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	handlerTimeout   time.Duration
	setup            SetupHandler
	activity         ActivityHandler
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds >= 0 && seconds <= maxWaitSeconds {
			cfg.receiveWaitSecs = seconds
		}
	}
}

// WithReceiveBatchSize sets how many messages one receive may return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 && size <= maxReceiveBatchSize {
			cfg.receiveBatchSize = size
		}
	}
}

// WithHandlerTimeout bounds the wall-clock budget of one message handler.
func WithHandlerTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.handlerTimeout = d
		}
	}
}

// WithSetupHandler wires the POST_CREATE_SETUP handler.
func WithSetupHandler(handler SetupHandler) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.setup = handler
	}
}

// WithActivityHandler wires the LOG_SMS / LOG_CALL handlers.
func WithActivityHandler(handler ActivityHandler) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.activity = handler
	}
}

// Worker consumes sync messages and drives the engine. Handlers that return
// an error leave the message on the queue so it redelivers; successful (and
// undecodable) messages are deleted.
type Worker struct {
	consumer queue.Consumer
	engine   *Engine
	logger   *logging.Logger

	cfg workerConfig
	wg  stdsync.WaitGroup
}

// NewWorker builds a Worker around the engine.
func NewWorker(consumer queue.Consumer, engine *Engine, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if consumer == nil {
		panic("sync: queue consumer required")
	}
	if engine == nil {
		panic("sync: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		handlerTimeout:   defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		consumer: consumer,
		engine:   engine,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("sync worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("sync worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.consumer.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive sync messages", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, received queue.ReceivedMessage) {
	msg, err := queue.Decode(received.Body)
	if err != nil {
		w.logger.Error("failed to decode sync message", "error", err, "msg_id", received.ID)
		w.deleteMessage(context.Background(), received.ReceiptHandle)
		return
	}

	log := w.logger.With("event", string(msg.Event), "msg_id", msg.ID, "integration_id", msg.IntegrationID)
	log.Info("worker processing message")

	handlerCtx, cancel := context.WithTimeout(ctx, w.cfg.handlerTimeout)
	defer cancel()

	if err := w.dispatch(handlerCtx, msg); err != nil {
		log.Error("handler failed, leaving message for redelivery", "error", err)
		return
	}
	w.deleteMessage(context.Background(), received.ReceiptHandle)
}

func (w *Worker) dispatch(ctx context.Context, msg queue.Message) error {
	switch msg.Event {
	case queue.EventFetchPersonPage:
		if msg.FetchPage == nil {
			return errors.New("sync: fetch message missing payload")
		}
		return w.engine.HandleFetchPage(ctx, msg.IntegrationID, *msg.FetchPage)
	case queue.EventProcessPersonBatch:
		if msg.ProcessBatch == nil {
			return errors.New("sync: batch message missing payload")
		}
		return w.engine.HandleProcessBatch(ctx, msg.IntegrationID, *msg.ProcessBatch)
	case queue.EventCompleteSync:
		if msg.CompleteSync == nil {
			return errors.New("sync: completion message missing payload")
		}
		return w.engine.HandleCompleteSync(ctx, msg.IntegrationID, *msg.CompleteSync)
	case queue.EventPostCreateSetup:
		if w.cfg.setup == nil || msg.PostCreateSetup == nil {
			return errors.New("sync: no setup handler configured")
		}
		_, err := w.cfg.setup.HandlePostCreateSetup(ctx, msg.PostCreateSetup.IntegrationID)
		return err
	case queue.EventLogSMS:
		if w.cfg.activity == nil || msg.SMS == nil {
			return errors.New("sync: no activity handler configured")
		}
		return w.cfg.activity.HandleSMS(ctx, msg.IntegrationID, *msg.SMS)
	case queue.EventLogCall:
		if w.cfg.activity == nil || msg.Call == nil {
			return errors.New("sync: no activity handler configured")
		}
		return w.cfg.activity.HandleCall(ctx, msg.IntegrationID, *msg.Call)
	default:
		w.logger.Warn("dropping message with unrecognized event", "event", string(msg.Event))
		return nil
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.consumer.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete sync message", "error", err)
	}
}
