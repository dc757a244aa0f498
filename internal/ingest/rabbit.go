package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

const publishTimeout = 5 * time.Second

// declareQueues sets up the durable job queue and its dead-letter queue.
// Rejected jobs land in <queue>.dlq for inspection.
func declareQueues(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(
		dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

func dialChannel(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// RabbitDispatcher publishes upload jobs to RabbitMQ for upload-worker
// processes to consume.
type RabbitDispatcher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *logging.Logger

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex
}

// NewRabbitDispatcher connects and declares the queues
func NewRabbitDispatcher(url, queue string, logger *logging.Logger) (*RabbitDispatcher, error) {
	conn, ch, err := dialChannel(url, queue)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RabbitDispatcher{conn: conn, ch: ch, queue: queue, logger: logger.WithName("rabbitmq")}, nil
}

// Enqueue publishes job as a persistent JSON message
func (d *RabbitDispatcher) Enqueue(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	err = d.ch.PublishWithContext(cctx,
		"",      // default exchange
		d.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish upload job %s: %w", job.ID, err)
	}
	d.logger.DebugKV("Published upload job", "job_id", job.ID, "upload_id", job.UploadID)
	return nil
}

// Close closes the channel and connection
func (d *RabbitDispatcher) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func encodeJob(job Job) ([]byte, error) {
	if job.UploadID == 0 {
		return nil, errors.New("upload job has no upload id")
	}
	return json.Marshal(job)
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("invalid upload job: %w", err)
	}
	if job.UploadID == 0 {
		return Job{}, errors.New("upload job has no upload id")
	}
	return job, nil
}

// Consumer runs upload jobs delivered by RabbitMQ on a worker pool
type Consumer struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queue     string
	workers   int
	processor Processor
	logger    *logging.Logger
}

// NewConsumer connects, declares the queues and sets the prefetch window
func NewConsumer(url, queue string, workers int, processor Processor, logger *logging.Logger) (*Consumer, error) {
	if workers <= 0 {
		workers = 1
	}
	conn, ch, err := dialChannel(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Consumer{
		conn:      conn,
		ch:        ch,
		queue:     queue,
		workers:   workers,
		processor: processor,
		logger:    logger.WithName("upload-worker"),
	}, nil
}

// Run consumes until ctx is done or the broker closes the delivery channel.
// In-flight jobs finish before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}
	c.logger.InfoKV("Consuming upload jobs", "queue", c.queue, "workers", c.workers)

	jobs := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, d)
			}
		}()
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Shutting down upload consumer")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

// handle processes one delivery. Malformed and failed jobs are rejected
// without requeue so they move to the dead-letter queue.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		c.logger.WarnKV("Dropping malformed upload job", "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := c.processor.Process(ctx, job.UploadID); err != nil {
		c.logger.WarnKV("Upload job failed", "job_id", job.ID, "upload_id", job.UploadID, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.ErrorKV("Failed to ack upload job", "job_id", job.ID, "error", err)
	}
}

// Close closes the channel and connection
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
