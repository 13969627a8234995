package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscription    = errors.New("pubsub subscription name is required")
	errNoTopic           = errors.New("pubsub topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client is a Pub/Sub v2 client bound to the geofence topic and, for
// consumers, the geofence subscription.
type Client struct {
	ps        *pubsub.Client
	projectID string
	topic     string
	sub       string
	consumer  bool
}

// NewClient creates a Pub/Sub v2 client. Consumers require the geofence
// subscription to exist up front; publish-only processes skip that check.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, consumer bool, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	ps, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		ps:        ps,
		projectID: projectID,
		topic:     strings.TrimSpace(cfg.GeofenceTopic),
		sub:       strings.TrimSpace(cfg.GeofenceSubscription),
		consumer:  consumer,
	}

	if consumer {
		if err := c.checkSubscription(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"topic":        c.topic,
			"subscription": c.sub,
			"consumer":     consumer,
		}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) checkSubscription(ctx context.Context) error {
	if c.sub == "" {
		return errNoSubscription
	}
	req := &pubsubpb.GetSubscriptionRequest{Subscription: resourceName(c.projectID, "subscriptions", c.sub)}
	if _, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, req); err != nil {
		return describeLookupErr("subscription", c.sub, err)
	}
	return nil
}

func (c *Client) checkTopic(ctx context.Context) error {
	if c.topic == "" {
		return errNoTopic
	}
	req := &pubsubpb.GetTopicRequest{Topic: resourceName(c.projectID, "topics", c.topic)}
	if _, err := c.ps.TopicAdminClient.GetTopic(ctx, req); err != nil {
		return describeLookupErr("topic", c.topic, err)
	}
	return nil
}

// GeofenceSubscription returns the subscriber feeding the geofence events
// worker, or nil when no subscription is configured.
func (c *Client) GeofenceSubscription() *pubsub.Subscriber {
	if c == nil || c.ps == nil || c.sub == "" {
		return nil
	}
	return c.ps.Subscriber(resourceName(c.projectID, "subscriptions", c.sub))
}

// Publisher returns a publisher handle for a topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	name := resourceName(c.projectID, "topics", topic)
	if name == "" {
		return nil
	}
	return c.ps.Publisher(name)
}

// Ping confirms the subscription for consumers and the topic otherwise.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	if c.consumer {
		return c.checkSubscription(ctx)
	}
	return c.checkTopic(ctx)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

// resourceName expands a short id into projects/<project>/<kind>/<id>. Full
// resource names of the same kind pass through untouched.
func resourceName(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case projectID == "":
		return ""
	}
	return "projects/" + projectID + "/" + kind + "/" + name
}

func describeLookupErr(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
