package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	connectAttempts = 30
	connectBackoff  = 5 * time.Second
)

// Runner consumes the input topic with a pool of consumer group
// members. Each worker is its own group client because a sarama client
// does not allow concurrent Consume calls; Kafka balances partitions
// across the members.
type Runner struct {
	brokers        []string
	groupID        string
	topics         []string
	workers        int
	commitInterval time.Duration
	processor      *Processor
}

// NewRunner builds a consumer pool of the given size over the input
// topic. A non-positive commit interval keeps the client default.
func NewRunner(brokers []string, groupID, inputTopic string, workers int, commitInterval time.Duration, processor *Processor) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		brokers:        brokers,
		groupID:        groupID,
		topics:         []string{inputTopic},
		workers:        workers,
		commitInterval: commitInterval,
		processor:      processor,
	}
}

// Run blocks until the context is cancelled or a worker fails to start.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		g.Go(func() error {
			return r.consumeLoop(ctx, worker)
		})
	}
	return g.Wait()
}

func (r *Runner) consumeLoop(ctx context.Context, worker int) error {
	group, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			log.Error().Err(err).Int("worker", worker).Msg("Consumer group error")
		}
	}()

	handler := &groupHandler{processor: r.processor, worker: worker}
	log.Info().
		Int("worker", worker).
		Strs("topics", r.topics).
		Str("group_id", r.groupID).
		Msg("Detection worker consuming")

	for {
		if err := group.Consume(ctx, r.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error().Err(err).Int("worker", worker).Msg("Error from consumer")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Runner) connect(ctx context.Context) (sarama.ConsumerGroup, error) {
	config := NewConsumerConfig()
	if r.commitInterval > 0 {
		config.Consumer.Offsets.AutoCommit.Interval = r.commitInterval
	}

	var group sarama.ConsumerGroup
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		group, err = sarama.NewConsumerGroup(r.brokers, r.groupID, config)
		if err == nil {
			return group, nil
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Failed to connect to Kafka, retrying...")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("connect to kafka after %d attempts: %w", connectAttempts, err)
}

// NewConsumerConfig returns the consumer group configuration shared by
// the detection workers. Each client gets a unique id so group members
// are distinguishable in broker logs.
func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "slipstream-" + uuid.NewString()[:8]
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0
	return config
}

type groupHandler struct {
	processor *Processor
	worker    int
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Int("worker", h.worker).Msg("Consumer session started")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Int("worker", h.worker).Msg("Consumer session ended")
	return nil
}

// ConsumeClaim marks each offset only after the record has been fully
// processed, keeping delivery at-least-once across restarts.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processor.Process(message.Value)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
