package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// Client owns the Pub/Sub connection for identity lifecycle events. The API
// process publishes to the identity topic; the provisioner reads the identity
// subscription. Either may be left unset.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu        sync.Mutex
	publisher *pubsub.Publisher
}

// NewClient connects and checks that every configured topic and subscription
// already exists. Resources are never created here.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	psClient, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: projectID, cfg: cfg}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"gcp_project":   projectID,
			"topic":         c.cfg.IdentityTopic,
			"subscriptions": subscriptionNames(cfg),
		}), "pubsub.connected")
	}
	return c, nil
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	var out []string
	if name := strings.TrimSpace(cfg.IdentitySubscription); name != "" {
		out = append(out, name)
	}
	return out
}

// verify looks up the configured topic and subscriptions.
func (c *Client) verify(ctx context.Context) error {
	if topic := strings.TrimSpace(c.cfg.IdentityTopic); topic != "" {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: c.resourceName(kindTopic, topic),
		})
		if err := lookupError("topic", topic, err); err != nil {
			return err
		}
	}
	for _, sub := range subscriptionNames(c.cfg) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.resourceName(kindSubscription, sub),
		})
		if err := lookupError("subscription", sub, err); err != nil {
			return err
		}
	}
	return nil
}

func lookupError(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// IdentitySubscription returns the subscriber that feeds the profile
// provisioner, or nil when no subscription is configured.
func (c *Client) IdentitySubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName(kindSubscription, c.cfg.IdentitySubscription)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// IdentityPublisher returns the shared publisher for identity events. The
// handle is created once and stopped by Close.
func (c *Client) IdentityPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName(kindTopic, c.cfg.IdentityTopic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publisher == nil {
		c.publisher = c.client.Publisher(name)
	}
	return c.publisher
}

// Ping re-runs the resource lookups; used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes pending publishes and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.publisher != nil {
		c.publisher.Stop()
		c.publisher = nil
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a short id into projects/<p>/<kind>/<id>. Names that
// are already fully qualified pass through unchanged.
func (c *Client) resourceName(kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + string(kind) + "/" + name
}
