package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTenant = uuid.MustParse("8d0a3c2e-6f0e-4b53-9a55-6c1a5b1f0001")
)

// testClock is a settable clock for deterministic windows
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// In-memory store implementing every repository port
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*integration.SyncEntity
	links    map[uuid.UUID]*integration.ExternalLink
	channels map[uuid.UUID]*integration.Channel
	jobs     map[uuid.UUID]*integration.SyncJob
	logs     []*integration.SyncLogEntry
	items    map[uuid.UUID]*integration.BundleItem
	pending  map[uuid.UUID]*integration.PendingBundleLink
}

func newMemStore() *memStore {
	return &memStore{
		entities: make(map[uuid.UUID]*integration.SyncEntity),
		links:    make(map[uuid.UUID]*integration.ExternalLink),
		channels: make(map[uuid.UUID]*integration.Channel),
		jobs:     make(map[uuid.UUID]*integration.SyncJob),
		items:    make(map[uuid.UUID]*integration.BundleItem),
		pending:  make(map[uuid.UUID]*integration.PendingBundleLink),
	}
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Entities:     memEntities{s},
		Links:        memLinks{s},
		Channels:     memChannels{s},
		Jobs:         memJobs{s},
		Logs:         memLogs{s},
		BundleItems:  memItems{s},
		PendingLinks: memPending{s},
	}
}

func cloneEntity(e *integration.SyncEntity) *integration.SyncEntity {
	c := *e
	c.Fields = e.Fields.Clone()
	if e.ConflictFields != nil {
		c.ConflictFields = e.ConflictFields.Clone()
	}
	return &c
}

func cloneLink(l *integration.ExternalLink) *integration.ExternalLink {
	c := *l
	return &c
}

func cloneChannel(ch *integration.Channel) *integration.Channel {
	c := *ch
	return &c
}

func cloneJob(j *integration.SyncJob) *integration.SyncJob {
	c := *j
	return &c
}

// entity returns a stored entity by id, or nil
func (s *memStore) entity(id uuid.UUID) *integration.SyncEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[id]; ok {
		return cloneEntity(e)
	}
	return nil
}

func (s *memStore) linkFor(entityID, channelID uuid.UUID) *integration.ExternalLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.EntityID == entityID && l.ChannelID == channelID {
			return cloneLink(l)
		}
	}
	return nil
}

func (s *memStore) linksOf(entityID uuid.UUID) []*integration.ExternalLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.ExternalLink
	for _, l := range s.links {
		if l.EntityID == entityID {
			out = append(out, cloneLink(l))
		}
	}
	return out
}

func (s *memStore) allJobs() []*integration.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*integration.SyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (s *memStore) logsWith(action integration.SyncAction) []*integration.SyncLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.SyncLogEntry
	for _, e := range s.logs {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *memStore) bundleItems(parentID uuid.UUID) []*integration.BundleItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.BundleItem
	for _, item := range s.items {
		if item.ParentID == parentID {
			c := *item
			out = append(out, &c)
		}
	}
	return out
}

func (s *memStore) pendingLinks(parentID uuid.UUID) []*integration.PendingBundleLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.PendingBundleLink
	for _, p := range s.pending {
		if p.ParentID == parentID {
			c := *p
			out = append(out, &c)
		}
	}
	return out
}

// ---- entities

type memEntities struct{ s *memStore }

func (r memEntities) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entities[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (r memEntities) FindBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*integration.SyncEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entities {
		if e.TenantID == tenantID && e.SKU == sku && e.Active {
			return cloneEntity(e), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memEntities) Create(ctx context.Context, entity *integration.SyncEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.entities[entity.ID]; ok {
		return shared.ErrAlreadyExists
	}
	r.s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

func (r memEntities) Update(ctx context.Context, entity *integration.SyncEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.entities[entity.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != entity.Version {
		return shared.ErrConcurrencyConflict
	}
	entity.Version++
	r.s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

// ---- links

type memLinks struct{ s *memStore }

func (r memLinks) FindActiveByEntity(ctx context.Context, entityID uuid.UUID) ([]*integration.ExternalLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.ExternalLink
	for _, l := range r.s.links {
		if l.EntityID == entityID && l.Active {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r memLinks) FindByEntityAndChannel(ctx context.Context, entityID, channelID uuid.UUID) (*integration.ExternalLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.links {
		if l.EntityID == entityID && l.ChannelID == channelID {
			return cloneLink(l), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memLinks) FindByChannelAndExternalID(ctx context.Context, channelID uuid.UUID, externalID string) (*integration.ExternalLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.links {
		if l.ChannelID == channelID && l.ExternalID == externalID && externalID != "" {
			return cloneLink(l), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memLinks) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) ([]*integration.ExternalLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.ExternalLink
	for _, l := range r.s.links {
		if l.TenantID == tenantID && l.ExternalID == externalID && externalID != "" {
			out = append(out, cloneLink(l))
		}
	}
	return out, nil
}

func (r memLinks) Save(ctx context.Context, link *integration.ExternalLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, l := range r.s.links {
		if id != link.ID && l.EntityID == link.EntityID && l.ChannelID == link.ChannelID {
			return shared.ErrAlreadyExists
		}
	}
	r.s.links[link.ID] = cloneLink(link)
	return nil
}

// ---- channels

type memChannels struct{ s *memStore }

func (r memChannels) FindByID(ctx context.Context, id uuid.UUID) (*integration.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.channels[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneChannel(ch), nil
}

func (r memChannels) FindEnabledByTenant(ctx context.Context, tenantID uuid.UUID) ([]*integration.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.Channel
	for _, ch := range r.s.channels {
		if ch.TenantID == tenantID && ch.Enabled {
			out = append(out, cloneChannel(ch))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Code < out[k].Code })
	return out, nil
}

func (r memChannels) FindPollable(ctx context.Context) ([]*integration.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.Channel
	for _, ch := range r.s.channels {
		if ch.Enabled && ch.PollingEnabled {
			out = append(out, cloneChannel(ch))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Code < out[k].Code })
	return out, nil
}

func (r memChannels) Save(ctx context.Context, channel *integration.Channel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.channels[channel.ID] = cloneChannel(channel)
	return nil
}

// ---- jobs

type memJobs struct{ s *memStore }

func (r memJobs) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneJob(j), nil
}

func sameChannel(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r memJobs) FindPending(ctx context.Context, entityID uuid.UUID, channelID *uuid.UUID, op integration.JobOperation) (*integration.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.jobs {
		if j.EntityID == entityID && j.Operation == op && j.Status == integration.JobStatusPending && sameChannel(j.ChannelID, channelID) {
			return cloneJob(j), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r memJobs) FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*integration.SyncJob, error) {
	var out []*integration.SyncJob
	for _, j := range r.s.allJobs() {
		if j.EntityID == entityID {
			out = append(out, j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r memJobs) FindFailedByEntity(ctx context.Context, entityID uuid.UUID) ([]*integration.SyncJob, error) {
	var out []*integration.SyncJob
	for _, j := range r.s.allJobs() {
		if j.EntityID == entityID && j.Status == integration.JobStatusFailed {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r memJobs) CountByStatusForEntity(ctx context.Context, entityID uuid.UUID) (integration.QueueStatusCounts, error) {
	counts := integration.QueueStatusCounts{}
	for _, j := range r.s.allJobs() {
		if j.EntityID == entityID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (r memJobs) CountByStatus(ctx context.Context) (integration.QueueStatusCounts, error) {
	counts := integration.QueueStatusCounts{}
	for _, j := range r.s.allJobs() {
		counts[j.Status]++
	}
	return counts, nil
}

func (r memJobs) Create(ctx context.Context, job *integration.SyncJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.jobs[job.ID] = cloneJob(job)
	return nil
}

// put overwrites a stored job unconditionally; tests use it to seed state
func (r memJobs) put(job *integration.SyncJob) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.jobs[job.ID] = cloneJob(job)
}

func (r memJobs) RaisePending(ctx context.Context, job *integration.SyncJob) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.jobs[job.ID]
	if !ok || stored.Status != integration.JobStatusPending {
		return false, nil
	}
	if stored.Priority < job.Priority {
		stored.Priority = job.Priority
	}
	if stored.ScheduledFor.After(job.ScheduledFor) {
		stored.ScheduledFor = job.ScheduledFor
	}
	stored.UpdatedAt = job.UpdatedAt
	return true, nil
}

func (r memJobs) SaveOutcome(ctx context.Context, job *integration.SyncJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.jobs[job.ID]
	if !ok || stored.Status != integration.JobStatusProcessing || stored.Attempts != job.Attempts {
		return integration.ErrJobNotOwned
	}
	r.s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r memJobs) RequeueFailed(ctx context.Context, job *integration.SyncJob) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.jobs[job.ID]
	if !ok || stored.Status != integration.JobStatusFailed {
		return false, nil
	}
	r.s.jobs[job.ID] = cloneJob(job)
	return true, nil
}

func (r memJobs) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*integration.SyncJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*integration.SyncJob
	for _, j := range r.s.jobs {
		if j.IsDue(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].ScheduledFor.Before(due[k].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*integration.SyncJob, 0, len(due))
	for _, j := range due {
		claimed := now
		j.Status = integration.JobStatusProcessing
		j.Attempts++
		j.ClaimedAt = &claimed
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (r memJobs) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, j := range r.s.jobs {
		if (j.Status == integration.JobStatusCompleted || j.Status == integration.JobStatusSkipped) && j.UpdatedAt.Before(cutoff) {
			delete(r.s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r memJobs) RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var requeued, failed int64
	for _, j := range r.s.jobs {
		if j.Status != integration.JobStatusProcessing || j.ClaimedAt == nil || !j.ClaimedAt.Before(cutoff) {
			continue
		}
		j.ClaimedAt = nil
		j.UpdatedAt = now
		if j.Attempts >= j.MaxRetries {
			j.Status = integration.JobStatusFailed
			failed++
			continue
		}
		j.Status = integration.JobStatusPending
		j.ScheduledFor = now
		requeued++
	}
	return requeued, failed, nil
}

// ---- logs

type memLogs struct{ s *memStore }

func (r memLogs) Append(ctx context.Context, entry *integration.SyncLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.logs = append(r.s.logs, entry)
	return nil
}

func (r memLogs) FindRecentByEntity(ctx context.Context, entityID uuid.UUID, action integration.SyncAction, since time.Time) ([]*integration.SyncLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.SyncLogEntry
	for _, e := range r.s.logs {
		if e.EntityID == entityID && e.Action == action && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLogs) FindByEntity(ctx context.Context, entityID uuid.UUID, limit int) ([]*integration.SyncLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.SyncLogEntry
	for _, e := range r.s.logs {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ---- bundle items

type memItems struct{ s *memStore }

func (r memItems) FindByParent(ctx context.Context, parentID uuid.UUID) ([]*integration.BundleItem, error) {
	return r.s.bundleItems(parentID), nil
}

func (r memItems) HasChildren(ctx context.Context, entityID uuid.UUID) (bool, error) {
	return len(r.s.bundleItems(entityID)) > 0, nil
}

func (r memItems) IsChild(ctx context.Context, entityID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, item := range r.s.items {
		if item.ChildID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (r memItems) Upsert(ctx context.Context, item *integration.BundleItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.items {
		if existing.ParentID == item.ParentID && existing.ChildID == item.ChildID {
			existing.Quantity = item.Quantity
			item.ID = id
			return nil
		}
	}
	c := *item
	r.s.items[item.ID] = &c
	return nil
}

func (r memItems) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.items, id)
	return nil
}

// ---- pending bundle links

type memPending struct{ s *memStore }

func (r memPending) FindPendingByParent(ctx context.Context, parentID uuid.UUID) ([]*integration.PendingBundleLink, error) {
	var out []*integration.PendingBundleLink
	for _, p := range r.s.pendingLinks(parentID) {
		if p.Status == integration.PendingLinkStatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memPending) FindPendingMatching(ctx context.Context, tenantID uuid.UUID, sku string, externalIDs []string) ([]*integration.PendingBundleLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*integration.PendingBundleLink
	for _, p := range r.s.pending {
		if p.TenantID != tenantID || p.Status != integration.PendingLinkStatusPending {
			continue
		}
		match := sku != "" && p.ChildSKU == sku
		for _, ext := range externalIDs {
			if p.ChildExternalID == ext {
				match = true
			}
		}
		if match {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r memPending) Save(ctx context.Context, link *integration.PendingBundleLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *link
	r.s.pending[link.ID] = &c
	return nil
}

func (r memPending) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.pending, id)
	return nil
}

// ---------------------------------------------------------------------------
// Adapter mocks
// ---------------------------------------------------------------------------

// mockAdapter is a testify mock of a channel adapter
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) UpsertEntity(ctx context.Context, channel *integration.Channel, payload integration.EntityPayload) (string, error) {
	args := m.Called(ctx, channel, payload)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) FetchEntitiesSince(ctx context.Context, channel *integration.Channel, since time.Time) ([]integration.RemoteEntity, error) {
	args := m.Called(ctx, channel, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.RemoteEntity), args.Error(1)
}

func (m *mockAdapter) SetInventoryLevel(ctx context.Context, channel *integration.Channel, externalID string, level integration.StockLevel) error {
	args := m.Called(ctx, channel, externalID, level)
	return args.Error(0)
}

func (m *mockAdapter) GetInventoryLevel(ctx context.Context, channel *integration.Channel, externalID string) (integration.StockLevel, error) {
	args := m.Called(ctx, channel, externalID)
	return args.Get(0).(integration.StockLevel), args.Error(1)
}

// staticAdapters routes every channel to one adapter, or per channel code
type staticAdapters struct {
	byCode   map[string]integration.ChannelAdapter
	fallback integration.ChannelAdapter
}

func (r staticAdapters) AdapterFor(channel *integration.Channel) (integration.ChannelAdapter, error) {
	if a, ok := r.byCode[channel.Code]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, integration.ErrAdapterNotFound
}

// memIdempotency is an in-memory idempotency store
type memIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{seen: make(map[string]bool)}
}

func (m *memIdempotency) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memIdempotency) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *memIdempotency) Forget(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

func (m *memIdempotency) Close() error { return nil }

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func (s *memStore) addChannel(code string, origin integration.Origin) *integration.Channel {
	ch, err := integration.NewChannel(testTenant, code, code, origin, "generic", "https://"+code+".example.com", testNow)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.channels[ch.ID] = cloneChannel(ch)
	s.mu.Unlock()
	return ch
}

func (s *memStore) addEntity(fields integration.Fields, origin integration.Origin, at time.Time) *integration.SyncEntity {
	e, err := integration.NewSyncEntity(testTenant, integration.EntityKindProduct, fields, origin, at)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.entities[e.ID] = cloneEntity(e)
	s.mu.Unlock()
	return e
}

func (s *memStore) addLink(entity *integration.SyncEntity, channel *integration.Channel, externalID string) *integration.ExternalLink {
	l, err := integration.NewExternalLink(entity.TenantID, entity.ID, channel.ID, externalID, testNow)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.links[l.ID] = cloneLink(l)
	s.mu.Unlock()
	return l
}

func level(available, reserved int64) integration.StockLevel {
	return integration.StockLevel{Available: decimal.NewFromInt(available), Reserved: decimal.NewFromInt(reserved)}
}

// memLocker is an in-memory shared.Locker
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// compositionBySKU returns the bundle items of a parent keyed by child SKU
func (s *memStore) compositionBySKU(parentID uuid.UUID) map[string]int {
	out := make(map[string]int)
	for _, item := range s.bundleItems(parentID) {
		if child := s.entity(item.ChildID); child != nil {
			out[child.SKU] = item.Quantity
		}
	}
	return out
}
