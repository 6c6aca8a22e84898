package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/idempotency"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
)

const (
	consumerName = "profile-provisioner"
	jobName      = "profile_provisioning"
)

type profileInserter interface {
	Insert(ctx context.Context, profile *models.Profile) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// ConsumerParams bundles the dependencies required to build a Consumer.
type ConsumerParams struct {
	Profiles      profileInserter
	Subscription  receiver
	Idempotency   *idempotency.Manager
	Logger        *logger.Logger
	Metrics       *metrics.PortalMetrics
	AvatarBaseURL string
	Now           func() time.Time
}

// Consumer writes the profile row for every identity.created event. It is
// the out-of-band path the reconciler races against.
type Consumer struct {
	profiles     profileInserter
	subscription receiver
	idempotency  *idempotency.Manager
	logg         *logger.Logger
	metrics      *metrics.PortalMetrics
	avatarBase   string
	now          func() time.Time
}

// NewConsumer builds a provisioning consumer. The idempotency guard is optional.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Profiles == nil {
		return nil, fmt.Errorf("profile repository required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("identity subscription required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Consumer{
		profiles:     params.Profiles,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		logg:         params.Logger,
		metrics:      params.Metrics,
		avatarBase:   params.AvatarBaseURL,
		now:          now,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != identity.EventTypeIdentityCreated {
		c.logg.Info(logCtx, "skipping non-identity event")
		return processResult{ack: true}
	}

	event, err := identity.DecodeCreatedEvent(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode identity event", err)
		c.metrics.IncJob(jobName, metrics.JobFailure)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithIdentityID(logCtx, event.IdentityID.String())

	claimed := false
	if c.idempotency != nil && event.EventID != uuid.Nil {
		already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, event.EventID)
		if err != nil {
			c.logg.Error(logCtx, "idempotency check failed", err)
			return processResult{nack: true}
		}
		if already {
			c.logg.Info(logCtx, "event already processed")
			return processResult{ack: true}
		}
		claimed = true
	}

	if err := c.provision(ctx, event); err != nil {
		c.logg.Error(logCtx, "profile provisioning failed", err)
		c.metrics.IncJob(jobName, metrics.JobFailure)
		if claimed {
			if err := c.idempotency.Release(ctx, consumerName, event.EventID); err != nil {
				c.logg.Error(logCtx, "idempotency release failed", err)
			}
		}
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "profile provisioned")
	c.metrics.IncJob(jobName, metrics.JobSuccess)
	return processResult{ack: true}
}

func (c *Consumer) provision(ctx context.Context, event identity.CreatedEvent) error {
	ident := identity.Identity{
		ID:       event.IdentityID,
		Email:    event.Email,
		Metadata: event.Metadata,
	}
	profile := profiles.Synthesize(ident, c.avatarBase, c.now().UTC())
	err := c.profiles.Insert(ctx, profile)
	if errors.Is(err, profiles.ErrProfileExists) {
		// the reconciler's fallback got there first
		return nil
	}
	return err
}
