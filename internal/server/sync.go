package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"planifica/internal/config"
	"planifica/internal/domain"
	"planifica/internal/engine"
)

const (
	defaultSyncInterval = 2 * time.Second
	defaultSyncTimeout  = 5 * time.Second
	defaultSyncBatch    = 100
)

// syncDispatcher drains the audit event feed to downstream consumers
// after local commit. Delivery is fire-and-forget with per-target cursors;
// a failed delivery retries on the next tick. The write path never waits
// on it.
type syncDispatcher struct {
	engine  engine.Engine
	targets []config.SyncTarget
	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

func startSyncDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Sync.Targets) == 0 {
		return
	}
	d := &syncDispatcher{
		engine:  e,
		targets: e.Config.Sync.Targets,
		client:  &http.Client{Timeout: defaultSyncTimeout},
		cursors: make(map[int]int64),
	}
	go d.run()
}

func (d *syncDispatcher) run() {
	ticker := time.NewTicker(defaultSyncInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *syncDispatcher) dispatchAll() {
	for i, target := range d.targets {
		if target.Enabled != nil && !*target.Enabled {
			continue
		}
		if strings.TrimSpace(target.URL) == "" {
			continue
		}
		d.dispatchTarget(i, target)
	}
}

func (d *syncDispatcher) dispatchTarget(idx int, target config.SyncTarget) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.engine.Repo.EventsAfter(ctx, cursor, defaultSyncBatch)
	if err != nil {
		log.Printf("sync: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(target.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, target, evt); err != nil {
			log.Printf("sync: deliver to %s failed: %v", target.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *syncDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(context.Background())
	if err != nil {
		log.Printf("sync: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *syncDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type syncEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *syncDispatcher) postEvent(ctx context.Context, target config.SyncTarget, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	body := syncEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultSyncTimeout
	if target.TimeoutSeconds > 0 {
		timeout = time.Duration(target.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Planifica-Event", evt.Type)
	req.Header.Set("X-Planifica-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(target.Secret) != "" {
		req.Header.Set("X-Planifica-Secret", target.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
