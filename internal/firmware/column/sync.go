package column

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/logger"
	"smartlocker/internal/protocol"
)

// SyncConfig identifies this column and where its coordinator lives.
type SyncConfig struct {
	ColumnID          string
	Address           string
	CoordinatorURL    string
	FirmwareVersion   string
	AnnounceInterval  time.Duration
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
}

// EventPublisher delivers one edge-triggered event, best effort. Errors are
// logged by the caller and never retried: event delivery is at-most-once.
type EventPublisher interface {
	PublishEvent(ctx context.Context, msg protocol.EventMessage) error
}

// SyncClient keeps the coordinator's view of this column fresh: announce
// until acknowledged, heartbeat while announced, and emit sensor edges as
// they happen. All sends are single bounded-timeout requests.
type SyncClient struct {
	cfg    SyncConfig
	http   *http.Client
	events EventPublisher

	announced     bool
	lastAttempt   time.Time
	lastHeartbeat time.Time
	prev          []compartment.Status
	havePrev      bool
	bootedAt      time.Time

	now func() time.Time
}

// NewSyncClient builds the client. events may be nil, in which case edge
// events are posted to the coordinator's HTTP event endpoint.
func NewSyncClient(cfg SyncConfig, events EventPublisher) *SyncClient {
	c := &SyncClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.SendTimeout},
		events:   events,
		bootedAt: time.Now(),
		now:      time.Now,
	}
	if c.events == nil {
		c.events = &httpEventPublisher{client: c.http, coordinatorURL: cfg.CoordinatorURL}
	}
	return c
}

// Announced reports whether the coordinator has acknowledged this boot.
func (c *SyncClient) Announced() bool {
	return c.announced
}

// Step runs one synchronization slice: edge events first (they are
// time-critical), then the announce retry or the heartbeat, whichever is
// due. Called once per control cycle from the loop.
func (c *SyncClient) Step(ctx context.Context, statuses []compartment.Status) {
	now := c.now()

	if c.havePrev {
		c.emitEdges(ctx, statuses)
	}
	c.prev = statuses
	c.havePrev = true

	if !c.announced {
		if c.lastAttempt.IsZero() || now.Sub(c.lastAttempt) >= c.cfg.AnnounceInterval {
			c.lastAttempt = now
			if err := c.announce(ctx); err != nil {
				logger.Warn("announce failed, will retry",
					zap.String("column_id", c.cfg.ColumnID),
					zap.Error(err))
				return
			}
			c.announced = true
			c.lastHeartbeat = time.Time{}
			logger.Info("column announced",
				zap.String("column_id", c.cfg.ColumnID),
				zap.String("coordinator", c.cfg.CoordinatorURL))
		}
		return
	}

	if c.lastHeartbeat.IsZero() || now.Sub(c.lastHeartbeat) >= c.cfg.HeartbeatInterval {
		if err := c.heartbeat(ctx, statuses); err != nil {
			// Treat any failed heartbeat as link loss: heartbeats stay
			// suspended until a fresh announce is acknowledged.
			c.announced = false
			c.lastAttempt = time.Time{}
			logger.Warn("heartbeat failed, forcing re-announce",
				zap.String("column_id", c.cfg.ColumnID),
				zap.Error(err))
			return
		}
		c.lastHeartbeat = now
	}
}

func (c *SyncClient) announce(ctx context.Context) error {
	req := protocol.AnnounceRequest{
		ColumnID:        c.cfg.ColumnID,
		Address:         c.cfg.Address,
		Compartments:    len(c.prev),
		FirmwareVersion: c.cfg.FirmwareVersion,
	}
	return c.post(ctx, "/api/v1/sync/announce", req)
}

func (c *SyncClient) heartbeat(ctx context.Context, statuses []compartment.Status) error {
	req := protocol.HeartbeatRequest{
		ColumnID:      c.cfg.ColumnID,
		UptimeSeconds: int64(c.now().Sub(c.bootedAt).Seconds()),
		Compartments:  statuses,
	}
	return c.post(ctx, "/api/v1/sync/heartbeat", req)
}

// emitEdges publishes one event per sensor or state edge. Failures are
// logged and the event is dropped; the next heartbeat carries the full
// snapshot anyway.
func (c *SyncClient) emitEdges(ctx context.Context, cur []compartment.Status) {
	for i := range cur {
		if i >= len(c.prev) {
			break
		}
		prev := c.prev[i]

		if cur[i].Sensors.DoorClosed && !prev.Sensors.DoorClosed {
			c.publish(ctx, i, protocol.EventDoorClosed, "")
		}
		if cur[i].Sensors.DoorOpen && !prev.Sensors.DoorOpen {
			c.publish(ctx, i, protocol.EventDoorOpened, "")
		}
		if cur[i].Sensors.Occupied && !prev.Sensors.Occupied {
			c.publish(ctx, i, protocol.EventItemPlaced, "")
		}
		if !cur[i].Sensors.Occupied && prev.Sensors.Occupied {
			c.publish(ctx, i, protocol.EventItemRemoved, "")
		}

		// Faults are a state edge rather than a sensor edge, so motion
		// timeouts and safety stops report the same way motor faults do,
		// and leaving Fault after maintenance is visible upstream.
		if cur[i].State == compartment.StateFault && prev.State != compartment.StateFault {
			c.publish(ctx, i, protocol.EventFault, cur[i].LastError)
		}
		if cur[i].State != compartment.StateFault && prev.State == compartment.StateFault {
			c.publish(ctx, i, protocol.EventFaultCleared, "")
		}
	}
}

func (c *SyncClient) publish(ctx context.Context, index int, kind protocol.EventKind, payload string) {
	msg := protocol.EventMessage{
		ColumnID:    c.cfg.ColumnID,
		Compartment: index,
		Kind:        kind,
		Payload:     payload,
		Timestamp:   c.now(),
	}
	if err := c.events.PublishEvent(ctx, msg); err != nil {
		logger.Warn("event lost",
			zap.String("column_id", c.cfg.ColumnID),
			zap.Int("compartment", index),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (c *SyncClient) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.CoordinatorURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("coordinator returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// httpEventPublisher posts events to the coordinator's event endpoint when
// no MQTT broker is configured.
type httpEventPublisher struct {
	client         *http.Client
	coordinatorURL string
}

func (p *httpEventPublisher) PublishEvent(ctx context.Context, msg protocol.EventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.coordinatorURL+"/api/v1/sync/events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("event endpoint returned %d", resp.StatusCode)
	}
	return nil
}
