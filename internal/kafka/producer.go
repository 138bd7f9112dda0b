package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type BreakerSettings struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// Producer writes domain events to one topic. Writes go through a circuit
// breaker so a broker outage fails fast instead of stalling senders.
type Producer struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker
	topic  string
	log    *zap.Logger
}

func NewProducer(brokers []string, topic string, bs BreakerSettings, log *zap.Logger) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
		WriteTimeout: 5 * time.Second,
	}
	return newProducer(w, topic, bs, log)
}

func newProducer(w messageWriter, topic string, bs BreakerSettings, log *zap.Logger) *Producer {
	maxFailures := bs.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "kafka:" + topic,
		MaxRequests: 1,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Producer{writer: w, cb: gobreaker.NewCircuitBreaker(st), topic: topic, log: log}
}

// Publish writes payload as JSON keyed by key, so events of one conversation
// land on one partition in order.
func (p *Producer) Publish(ctx context.Context, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	return err
}

func (p *Producer) State() gobreaker.State {
	return p.cb.State()
}

// Close flushes and closes the writer. If ctx ends first Close returns
// ctx.Err() and the flush carries on in the background.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.log.Warn("kafka writer close interrupted", zap.String("topic", p.topic), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
