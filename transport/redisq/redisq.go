// Package redisq feeds a worker from a Redis list. Execute requests are
// popped from the queue one at a time; each response is stored under a
// result key with a TTL and published on the events channel. Input
// requests are published too, and the matching replies are read from a
// per-request list.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caffeineduck/pyworker/interp"
	"github.com/caffeineduck/pyworker/message"
	"github.com/caffeineduck/pyworker/worker"
)

const (
	DefaultQueue     = "pyworker:execute"
	DefaultResultTTL = time.Hour
	pollInterval     = 5 * time.Second
	retryDelay       = time.Second
)

// Event is published on the events channel for every worker message.
type Event struct {
	ID      message.ID `json:"id,omitempty"`
	Kind    string     `json:"kind"`
	Payload any        `json:"payload"`
}

const (
	KindResponse     = "response"
	KindInputRequest = "input_request"
	KindFatal        = "fatal"
)

type Option func(*Consumer)

func WithQueue(queue string) Option {
	return func(c *Consumer) {
		if queue != "" {
			c.queue = queue
		}
	}
}

func WithResultTTL(ttl time.Duration) Option {
	return func(c *Consumer) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Consumer) {
		if log != nil {
			c.log = log
		}
	}
}

func WithWorkerOptions(opts ...worker.Option) Option {
	return func(c *Consumer) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

// Consumer runs one worker against a queue. Jobs are executed strictly in
// order; interpreter state persists across jobs.
type Consumer struct {
	rdb        redis.Cmdable
	queue      string
	ttl        time.Duration
	log        *zap.SugaredLogger
	workerOpts []worker.Option

	wk      *worker.Worker
	current message.ID
	done    chan message.Response
}

func New(rdb redis.Cmdable, factory interp.Factory, opts ...Option) (*Consumer, error) {
	c := &Consumer{
		rdb:   rdb,
		queue: DefaultQueue,
		ttl:   DefaultResultTTL,
		log:   zap.NewNop().Sugar(),
		done:  make(chan message.Response, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("queue", c.queue)

	wopts := append([]worker.Option{worker.WithLogger(c.log)}, c.workerOpts...)
	wk, err := worker.New(factory, worker.PostFunc(c.post), wopts...)
	if err != nil {
		return nil, err
	}
	c.wk = wk
	return c, nil
}

// ResultKey is where the response to request id is stored.
func (c *Consumer) ResultKey(id message.ID) string {
	return c.queue + ":result:" + id.String()
}

// InputKey is the list input replies for request id are pushed to.
func (c *Consumer) InputKey(id message.ID) string {
	return c.queue + ":input:" + id.String()
}

// EventsChannel is the pub/sub channel worker messages are published on.
func (c *Consumer) EventsChannel() string {
	return c.queue + ":events"
}

// Run pops and executes jobs until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	c.log.Infow("consuming", "worker", c.wk.ID())
	defer func() {
		if err := c.wk.Close(); err != nil {
			c.log.Warnw("close worker", "error", err)
		}
	}()

	for {
		res, err := c.rdb.BRPop(ctx, pollInterval, c.queue).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			c.log.Errorw("read from queue", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}
		// res[0] is the queue key, res[1] the payload.
		c.process(ctx, []byte(res[1]))
	}
}

func (c *Consumer) process(ctx context.Context, data []byte) {
	msg, err := message.Decode(data)
	if err != nil {
		c.log.Warnw("dropping job", "error", err)
		return
	}
	req, ok := msg.(*message.ExecuteRequest)
	if !ok {
		c.log.Warnw("dropping non-execute job", "type", fmt.Sprintf("%T", msg))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.current = req.ID
	go c.watchInput(jobCtx, c.InputKey(req.ID))

	start := time.Now()
	c.log.Infow("processing job", "id", req.ID.String())
	c.wk.Handle(jobCtx, data)

	select {
	case resp := <-c.done:
		c.log.Infow("finished job", "id", req.ID.String(), "success", resp.Success, "elapsed", time.Since(start))
	case <-ctx.Done():
	}
}

// watchInput forwards replies pushed to key into the worker until ctx ends.
func (c *Consumer) watchInput(ctx context.Context, key string) {
	for {
		res, err := c.rdb.BRPop(ctx, pollInterval, key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				c.log.Warnw("read input replies", "key", key, "error", err)
			}
			continue
		}
		c.wk.Handle(ctx, inputReply(res[1]))
	}
}

// inputReply accepts either a full input_reply message or a bare value.
func inputReply(raw string) []byte {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal([]byte(raw), &probe) == nil && probe.Type == message.TypeInputReply {
		return []byte(raw)
	}
	data, _ := json.Marshal(message.InputReply{Type: message.TypeInputReply, Value: raw})
	return data
}

func (c *Consumer) post(v any) error {
	ctx := context.Background()
	switch m := v.(type) {
	case message.Response:
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		err = errors.Join(
			c.rdb.Set(ctx, c.ResultKey(m.ID), data, c.ttl).Err(),
			c.publish(ctx, Event{ID: m.ID, Kind: KindResponse, Payload: m}),
		)
		if m.ID.Equal(c.current) {
			select {
			case c.done <- m:
			default:
			}
		}
		return err
	case message.InputRequest:
		return c.publish(ctx, Event{ID: c.current, Kind: KindInputRequest, Payload: m})
	case message.FatalError:
		return c.publish(ctx, Event{Kind: KindFatal, Payload: m})
	default:
		return fmt.Errorf("unexpected message %T", v)
	}
}

func (c *Consumer) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.EventsChannel(), data).Err()
}
