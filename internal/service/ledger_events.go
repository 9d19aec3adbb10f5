package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LedgerEvent announces a committed ledger append.
type LedgerEvent struct {
	Source       string    `json:"source"`
	UserID       uint      `json:"user_id"`
	ActivityCode string    `json:"activity_code"`
	DeltaPoints  int       `json:"delta_points"`
	LedgerSource string    `json:"ledger_source"`
	EntryID      uint      `json:"entry_id"`
	SentAt       time.Time `json:"sent_at"`
}

// LedgerEventPublisher fans out ledger events after commit.
type LedgerEventPublisher interface {
	Publish(ctx context.Context, events ...LedgerEvent)
	Subscribe(ctx context.Context, handler func(LedgerEvent)) error
}

type ledgerEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

// NewLedgerEventPublisher builds a publisher over Redis pub/sub and NATS. Either
// transport may be nil.
func NewLedgerEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) LedgerEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":ledger"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".ledger.appended"
	}

	return &ledgerEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "ledger_event_publisher").Logger(),
	}
}

// Publish is best effort: committed ledger data is never affected by a broker failure.
func (p *ledgerEventPublisher) Publish(ctx context.Context, events ...LedgerEvent) {
	for _, event := range events {
		event.Source = p.nodeID
		if event.SentAt.IsZero() {
			event.SentAt = time.Now().UTC()
		}

		payload, err := json.Marshal(event)
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to encode ledger event")
			continue
		}

		if p.redis != nil && p.redisChannel != "" {
			if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish ledger event to redis")
			}
		}

		if p.nats != nil && p.natsSubject != "" {
			if err := p.nats.Publish(p.natsSubject, payload); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish ledger event to nats")
			}
		}
	}
}

// Subscribe delivers events from every node, including this one, until ctx ends.
func (p *ledgerEventPublisher) Subscribe(ctx context.Context, handler func(LedgerEvent)) error {
	if p.nats != nil && p.natsSubject != "" {
		sub, err := p.nats.Subscribe(p.natsSubject, func(msg *nats.Msg) {
			p.dispatch(msg.Data, handler)
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				p.logger.Warn().Err(err).Msg("failed to drain ledger nats subscription")
			}
		}()
		return nil
	}

	if p.redis != nil && p.redisChannel != "" {
		pubsub := p.redis.Subscribe(ctx, p.redisChannel)
		go func() {
			defer func() { _ = pubsub.Close() }()
			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error().Err(err).Msg("ledger redis subscription closed")
					}
					return
				}
				p.dispatch([]byte(msg.Payload), handler)
			}
		}()
	}
	return nil
}

func (p *ledgerEventPublisher) dispatch(payload []byte, handler func(LedgerEvent)) {
	var event LedgerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.logger.Warn().Err(err).Msg("invalid ledger event payload")
		return
	}
	handler(event)
}

type noopLedgerEvents struct{}

func (noopLedgerEvents) Publish(context.Context, ...LedgerEvent) {}

func (noopLedgerEvents) Subscribe(context.Context, func(LedgerEvent)) error { return nil }

func ledgerEventsOrNoop(publisher LedgerEventPublisher) LedgerEventPublisher {
	if publisher == nil {
		return noopLedgerEvents{}
	}
	return publisher
}
