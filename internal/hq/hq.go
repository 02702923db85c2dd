// Package hq implements HQ federation (component C10): a registry of
// remote vibetunnel servers this instance aggregates, and a forwarder
// that fans out session listing and proxies single HTTP requests to
// them. It does not open upstream /buffers WebSockets: buffer
// subscriptions are served for local sessions only.
//
// The teacher has no federation concept (sandbox-api is a standalone
// single-tenant service), so this package has no direct teacher
// grounding. It is built as a generalization of the teacher's
// singleton in-process registry shape (src/handler/process's single
// ProcessManager: an RWMutex-guarded map with Get/Register/List
// methods) applied to a new, remote-keyed domain.
package hq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RemoteRecord describes one registered remote server.
type RemoteRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Token        string    `json:"-"`
	RegisteredAt time.Time `json:"registeredAt"`

	mu         sync.Mutex
	sessionIDs []string
	healthy    bool
	backoff    time.Duration
}

// Registry tracks registered remotes.
type Registry struct {
	mu      sync.RWMutex
	remotes map[string]*RemoteRecord
	owners  map[string]string // session id -> remote id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{remotes: make(map[string]*RemoteRecord), owners: make(map[string]string)}
}

// Register adds a remote and returns its assigned ID.
func (r *Registry) Register(name, url, token string) *RemoteRecord {
	rec := &RemoteRecord{
		ID:           uuid.NewString(),
		Name:         name,
		URL:          url,
		Token:        token,
		RegisteredAt: time.Now(),
		healthy:      true,
		backoff:      time.Second,
	}
	r.mu.Lock()
	r.remotes[rec.ID] = rec
	r.mu.Unlock()
	return rec
}

// Unregister removes a remote.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.remotes[id]; !ok {
		return false
	}
	delete(r.remotes, id)
	return true
}

// List returns all registered remotes.
func (r *Registry) List() []*RemoteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RemoteRecord, 0, len(r.remotes))
	for _, rec := range r.remotes {
		out = append(out, rec)
	}
	return out
}

// Get returns a remote by ID.
func (r *Registry) Get(id string) (*RemoteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.remotes[id]
	return rec, ok
}

// setOwnedSessions replaces remoteID's entry in the session-ownership
// index with sessionIDs, so OwnerOf can answer "which remote owns this
// id" in O(1) instead of every handler fanning a request out to every
// remote (spec §4.10's HQ proxy).
func (r *Registry) setOwnedSessions(remoteID string, sessionIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, owner := range r.owners {
		if owner == remoteID {
			delete(r.owners, id)
		}
	}
	for _, id := range sessionIDs {
		r.owners[id] = remoteID
	}
}

// OwnerOf returns the remote that owns sessionID, per the last
// successful session-listing fan-out.
func (r *Registry) OwnerOf(sessionID string) (*RemoteRecord, bool) {
	r.mu.RLock()
	remoteID, ok := r.owners[sessionID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	rec, ok := r.remotes[remoteID]
	r.mu.RUnlock()
	return rec, ok
}

// remoteSession is the shape returned by a remote's /api/sessions.
type remoteSession struct {
	ID string `json:"id"`
}

// Forwarder fans requests out to registered remotes.
type Forwarder struct {
	registry *Registry
	client   *http.Client
}

// NewForwarder creates a Forwarder using registry.
func NewForwarder(registry *Registry) *Forwarder {
	return &Forwarder{registry: registry, client: &http.Client{Timeout: 10 * time.Second}}
}

// Do issues req against a remote using the Forwarder's shared client,
// for transparent request proxying (spec §4.10's HQ proxy: "for any
// session whose id belongs to a known remote, the HQ transparently
// forwards the request").
func (f *Forwarder) Do(req *http.Request) (*http.Response, error) {
	return f.client.Do(req)
}

// AggregatedSession is a session entry annotated with which remote (if
// any) it came from; an empty RemoteID means it's local.
type AggregatedSession struct {
	RemoteID string `json:"remoteId,omitempty"`
	SessionID string `json:"id"`
}

// ListRemoteSessions queries every registered remote in parallel,
// tolerating individual failures, and returns whatever succeeded.
func (f *Forwarder) ListRemoteSessions(ctx context.Context) []AggregatedSession {
	remotes := f.registry.List()
	results := make(chan []AggregatedSession, len(remotes))

	var wg sync.WaitGroup
	for _, rec := range remotes {
		wg.Add(1)
		go func(rec *RemoteRecord) {
			defer wg.Done()
			sessions, err := f.fetchSessions(ctx, rec)
			if err != nil {
				rec.recordFailure()
				logrus.WithError(err).WithField("remote", rec.Name).Warn("hq: failed to list remote sessions")
				results <- nil
				return
			}
			rec.recordSuccess()
			out := make([]AggregatedSession, len(sessions))
			ids := make([]string, len(sessions))
			for i, s := range sessions {
				out[i] = AggregatedSession{RemoteID: rec.ID, SessionID: s.ID}
				ids[i] = s.ID
			}
			f.registry.setOwnedSessions(rec.ID, ids)
			results <- out
		}(rec)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var all []AggregatedSession
	for r := range results {
		all = append(all, r...)
	}
	return all
}

func (f *Forwarder) fetchSessions(ctx context.Context, rec *RemoteRecord) ([]remoteSession, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rec.URL+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	if rec.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rec.Token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote %s: status %d", rec.Name, resp.StatusCode)
	}
	var sessions []remoteSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// recordSuccess resets a remote's backoff after a healthy poll.
func (r *RemoteRecord) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = true
	r.backoff = time.Second
}

// recordFailure doubles a remote's backoff, capped at 30s, matching
// the reconnect cadence the VibeTunnel Go ports use.
func (r *RemoteRecord) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = false
	r.backoff *= 2
	if r.backoff > 30*time.Second {
		r.backoff = 30 * time.Second
	}
}

// Healthy reports the remote's last known health.
func (r *RemoteRecord) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

// Backoff returns the remote's current retry interval.
func (r *RemoteRecord) Backoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backoff
}

// HealthLoop polls every registered remote's /api/health every 5 seconds
// until ctx is canceled. Each check updates the remote's health and
// backoff, but the backoff does not change the polling interval, and a
// failing remote stays registered.
func (f *Forwarder) HealthLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range f.registry.List() {
				go f.checkHealth(ctx, rec)
			}
		}
	}
}

// RegisterClient is the other half of HQ federation: code run by a node
// that wants to be a registered remote of some upstream HQ, rather than
// code run by the HQ itself. There is no teacher or pack precedent for
// this (sandbox-api never registers itself with anything), so this is
// built directly from the registration contract spec §4.10 describes for
// the server side: POST {name,url,token} to /api/remotes with HQ
// credentials.
type RegisterClient struct {
	hqURL    string
	username string
	password string
	client   *http.Client
}

// NewRegisterClient creates a client that registers with the HQ at hqURL
// using username/password as HTTP Basic credentials.
func NewRegisterClient(hqURL, username, password string) *RegisterClient {
	return &RegisterClient{
		hqURL:    strings.TrimRight(hqURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type registerRequest struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Register performs a single registration attempt. token is the bearer
// token this node will subsequently accept from the HQ; selfURL is the
// address the HQ should use to reach this node.
func (rc *RegisterClient) Register(ctx context.Context, name, selfURL, token string) error {
	body, err := json.Marshal(registerRequest{Name: name, URL: selfURL, Token: token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.hqURL+"/api/remotes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rc.username != "" || rc.password != "" {
		req.SetBasicAuth(rc.username, rc.password)
	}
	resp, err := rc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("hq %s: registration returned status %d", rc.hqURL, resp.StatusCode)
	}
	return nil
}

// RunRegisterLoop retries Register with the same exponential backoff
// curve as RemoteRecord.recordFailure (capped at 30s) until it succeeds
// or ctx is canceled.
func RunRegisterLoop(ctx context.Context, rc *RegisterClient, name, selfURL, token string) {
	backoff := time.Second
	for {
		if err := rc.Register(ctx, name, selfURL, token); err != nil {
			logrus.WithError(err).WithField("hq", rc.hqURL).Warn("hq: registration attempt failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		logrus.WithField("hq", rc.hqURL).Info("hq: registered")
		return
	}
}

func (f *Forwarder) checkHealth(ctx context.Context, rec *RemoteRecord) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rec.URL+"/api/health", nil)
	if err != nil {
		rec.recordFailure()
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		rec.recordFailure()
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		rec.recordSuccess()
	} else {
		rec.recordFailure()
	}
}
