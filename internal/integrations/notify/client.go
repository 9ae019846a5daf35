package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/client"
	"gatehouse-api/internal/observability/logger"

	"go.uber.org/zap"
)

// Event is the webhook payload posted to the configured notification
// endpoint. Notification delivery is best-effort and external: mail, push,
// whatever the endpoint does with it is not this service's business.
type Event struct {
	Event        string         `json:"event"`
	OrgID        string         `json:"orgId,omitempty"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Detail       map[string]any `json:"detail,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// Client posts domain events to a notification webhook. A client built with
// an empty base URL is a no-op, so call sites never need to check whether
// notifications are configured.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new Client. An empty baseURL disables delivery.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: client.NewExternalHTTPClient(),
		baseURL:    baseURL,
	}
}

// Enabled reports whether a webhook endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// WorkflowDecided announces a settled approval request.
func (c *Client) WorkflowDecided(ctx context.Context, request *domain.ApprovalRequest) {
	c.send(ctx, Event{
		Event:        "workflow." + string(request.Status),
		OrgID:        request.OrgID,
		ResourceType: "approval_request",
		ResourceID:   request.ID,
		Detail: map[string]any{
			"kind":       string(request.Kind),
			"subject_id": request.SubjectID,
		},
		OccurredAt: time.Now().UTC(),
	})
}

// InvitationIssued announces a freshly issued invitation so the endpoint can
// deliver the link. The token itself never travels through here; the caller
// delivers it out of band.
func (c *Client) InvitationIssued(ctx context.Context, token *domain.InvitationToken) {
	c.send(ctx, Event{
		Event:        "invitation.issued",
		OrgID:        token.OrgID,
		ResourceType: "invitation_token",
		ResourceID:   token.ID,
		Detail: map[string]any{
			"kind":       string(token.Kind),
			"expires_at": token.ExpiresAt,
		},
		OccurredAt: time.Now().UTC(),
	})
}

// send posts the event and only logs on failure: a lost notification must
// never fail the operation that produced it.
func (c *Client) send(ctx context.Context, event Event) {
	if !c.Enabled() {
		return
	}
	log := logger.GetLogger(ctx)

	body, err := json.Marshal(event)
	if err != nil {
		log.Error(ctx, "failed to marshal notification",
			logger.Module("notify"),
			logger.Action("send"),
			zap.Error(err),
		)
		return
	}

	url := fmt.Sprintf("%s/v1/notifications", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error(ctx, "failed to build notification request",
			logger.Module("notify"),
			logger.Action("send"),
			zap.Error(err),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	// X-Request-Id comes from the transport.

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn(ctx, "notification delivery failed",
			logger.Module("notify"),
			logger.Action("send"),
			zap.String("event", event.Event),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		log.Warn(ctx, "notification endpoint returned non-ok status",
			logger.Module("notify"),
			logger.Action("send"),
			zap.String("event", event.Event),
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	log.Debug(ctx, "notification sent",
		logger.Module("notify"),
		logger.Action("send"),
		zap.String("event", event.Event),
	)
}
