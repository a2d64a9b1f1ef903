package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Worker consumes EmailJobs and sends them.
type Worker struct {
	mailer  Mailer
	log     *slog.Logger
	timeout time.Duration

	retryBase time.Duration
	retryMax  time.Duration
	failures  int
}

// WorkerOption tunes a Worker.
type WorkerOption func(*Worker)

// WithRetryBackoff sets the wait before a failed send is requeued. It starts
// at base, doubles with each consecutive failure up to max, and resets after
// a successful send.
func WithRetryBackoff(base, maxDelay time.Duration) WorkerOption {
	return func(w *Worker) {
		if base > 0 {
			w.retryBase = base
		}
		if maxDelay >= w.retryBase {
			w.retryMax = maxDelay
		}
	}
}

// NewWorker returns a Worker sending through m. timeout bounds each send;
// zero means 15s. Failed sends back off from 1s up to 1m by default.
func NewWorker(m Mailer, log *slog.Logger, timeout time.Duration, opts ...WorkerOption) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	w := &Worker{mailer: m, log: log, timeout: timeout, retryBase: time.Second, retryMax: time.Minute}
	for _, opt := range opts {
		opt(w)
	}
	if w.retryMax < w.retryBase {
		w.retryMax = w.retryBase
	}
	return w
}

// errPermanent marks a message that will never succeed and must not be
// requeued.
var errPermanent = errors.New("permanent")

// Consume opens a manual-ack consumer on queue with the given prefetch.
func Consume(conn *amqp.Connection, queue string, prefetch int) (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("delivery: amqp channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("delivery: qos: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("delivery: consume %s: %w", queue, err)
	}
	return msgs, ch, nil
}

// Run handles deliveries until ctx is done or msgs is closed. Successful
// sends are acked, undecodable or unrenderable jobs are dropped, and failed
// sends are requeued after a backoff. The wait holds the consumer, so no
// other message is tried while the mail provider is failing.
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			err := w.handle(ctx, d.Body)
			switch {
			case err == nil:
				w.failures = 0
			case !errors.Is(err, errPermanent):
				w.failures++
				w.wait(ctx, w.retryDelay())
			}
			w.settle(d, err)
		}
	}
}

func (w *Worker) retryDelay() time.Duration {
	d := w.retryBase
	for i := 1; i < w.failures && d < w.retryMax; i++ {
		d *= 2
	}
	return min(d, w.retryMax)
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	w.log.Warn("delivery.worker.backoff", "delay", d, "failures", w.failures)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) settle(d amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case errors.Is(err, errPermanent):
		w.log.Error("delivery.worker.drop", "err", err)
		ackErr = d.Nack(false, false)
	default:
		w.log.Warn("delivery.worker.requeue", "err", err)
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		w.log.Error("delivery.worker.settle.fail", "err", ackErr)
	}
}

func (w *Worker) handle(ctx context.Context, body []byte) error {
	var job EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: decode job: %v", errPermanent, err)
	}
	if job.To == "" {
		return fmt.Errorf("%w: job has no recipient", errPermanent)
	}

	msg, err := Render(job)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.mailer.Send(sendCtx, job.To, msg); err != nil {
		return err
	}
	w.log.Info("delivery.worker.sent", "template", job.Template)
	return nil
}
