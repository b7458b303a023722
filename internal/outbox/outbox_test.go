package outbox_test

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
	"github.com/septivank/meter-sync-worker/internal/outbox"
	"go.uber.org/zap"
)

// fakeStore is an in-memory stand-in for the repository, implementing
// both the outbox Storage and HandlerStore interfaces.
type fakeStore struct {
	mu       gosync.Mutex
	entries  map[uuid.UUID]*db.OutboxEntry
	meters   map[uuid.UUID]*db.Meter
	readings map[uuid.UUID]*db.Reading
	photos   []db.Photo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:  make(map[uuid.UUID]*db.OutboxEntry),
		meters:   make(map[uuid.UUID]*db.Meter),
		readings: make(map[uuid.UUID]*db.Reading),
	}
}

func (f *fakeStore) InsertOutboxEntry(_ context.Context, e *db.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *e
	f.entries[e.ID] = &stored
	return nil
}

func (f *fakeStore) OutboxEntryByID(_ context.Context, id uuid.UUID) (*db.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) UpdateOutboxEntry(_ context.Context, e *db.OutboxEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *e
	f.entries[e.ID] = &stored
	return nil
}

func (f *fakeStore) DueOutboxEntries(_ context.Context, now time.Time, limit int, entityType string) ([]db.OutboxEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due []db.OutboxEntry
	for _, e := range f.entries {
		if e.Status != db.OutboxStatusPending {
			continue
		}
		if e.RetryCount >= e.MaxRetries {
			continue
		}
		if e.ScheduledAt.After(now) {
			continue
		}
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		due = append(due, *e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStore) DeleteTerminalOutboxBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, e := range f.entries {
		if e.Terminal() && e.CreatedAt.Before(cutoff) {
			delete(f.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) MeterByID(_ context.Context, id uuid.UUID) (*db.Meter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meters[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ReadingByClientID(_ context.Context, clientID string) (*db.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.readings {
		if r.ClientID != nil && *r.ClientID == clientID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ReadingExists(_ context.Context, meterID uuid.UUID, readingDate time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.readings {
		if r.MeterID == meterID && r.ReadingDate.Equal(readingDate) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReadingExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.readings[id]
	return ok, nil
}

func (f *fakeStore) InsertReading(_ context.Context, reading *db.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *reading
	f.readings[reading.ID] = &stored
	return nil
}

func (f *fakeStore) AdvanceMeterLastReading(_ context.Context, meterID uuid.UUID, readingDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meters[meterID]
	if !ok {
		return nil
	}
	if m.LastReadingDate == nil || m.LastReadingDate.Before(readingDate) {
		d := readingDate
		m.LastReadingDate = &d
	}
	return nil
}

func (f *fakeStore) PhotoExists(_ context.Context, entityType string, entityID uuid.UUID, filePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.photos {
		if p.EntityType == entityType && p.EntityID == entityID && p.FilePath == filePath {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertPhoto(_ context.Context, photo *db.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, *photo)
	return nil
}

func (f *fakeStore) addMeter(lastReading *time.Time) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.meters[id] = &db.Meter{
		ID:              id,
		MeterIDCode:     "MC-" + id.String()[:8],
		Status:          "active",
		LastReadingDate: lastReading,
	}
	return id
}

func newTestService(store *fakeStore, maxRetries int) *outbox.Service {
	return outbox.NewService(store, outbox.NewBackoff(60), maxRetries, 30, zap.NewNop())
}
