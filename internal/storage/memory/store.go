package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/storage"
)

// Store is an in-memory implementation of storage.AlertStore and storage.SettingsStore.
// It backs tests and runs without a database.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	settings map[int64]*alerts.Setting
	log      []alerts.NotificationRecord
	now      func() time.Time
}

var (
	_ storage.AlertStore    = (*Store)(nil)
	_ storage.SettingsStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		settings: make(map[int64]*alerts.Setting),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindDue returns copies of every due setting ordered by id.
func (s *Store) FindDue(_ context.Context, now time.Time) ([]alerts.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []alerts.Setting
	for _, setting := range s.settings {
		if setting.IsDue(now) {
			due = append(due, copySetting(setting))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// RecordNotification appends to the log.
func (s *Store) RecordNotification(_ context.Context, rec alerts.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = int64(len(s.log) + 1)
	s.log = append(s.log, rec)
	return nil
}

// UpdateLastSent stamps the last send time.
func (s *Store) UpdateLastSent(_ context.Context, settingID int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting, ok := s.settings[settingID]
	if !ok {
		return storage.ErrNotFound
	}
	sent := when
	setting.LastSentAt = &sent
	return nil
}

// DeactivateSetting turns a setting off.
func (s *Store) DeactivateSetting(ctx context.Context, settingID int64) error {
	return s.SetActive(ctx, settingID, false)
}

// CreateSetting validates and stores a setting under a new id.
func (s *Store) CreateSetting(_ context.Context, setting alerts.Setting) (alerts.Setting, error) {
	if err := setting.Validate(); err != nil {
		return alerts.Setting{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	setting.ID = s.nextID
	if setting.FilterMode == "" {
		setting.FilterMode = alerts.FilterAll
	}
	if setting.CreatedAt.IsZero() {
		setting.CreatedAt = s.now()
	}
	stored := copySetting(&setting)
	s.settings[setting.ID] = &stored
	return copySetting(&stored), nil
}

// GetSetting returns a copy of one setting.
func (s *Store) GetSetting(_ context.Context, id int64) (alerts.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setting, ok := s.settings[id]
	if !ok {
		return alerts.Setting{}, storage.ErrNotFound
	}
	return copySetting(setting), nil
}

// ListSettings lists an owner's settings, or all when ownerID is 0.
func (s *Store) ListSettings(_ context.Context, ownerID int64) ([]alerts.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alerts.Setting, 0, len(s.settings))
	for _, setting := range s.settings {
		if ownerID == 0 || setting.OwnerID == ownerID {
			out = append(out, copySetting(setting))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetActive pauses or resumes a setting.
func (s *Store) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting, ok := s.settings[id]
	if !ok {
		return storage.ErrNotFound
	}
	setting.Active = active
	return nil
}

// DeleteSetting removes a setting; its log entries are kept.
func (s *Store) DeleteSetting(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.settings, id)
	return nil
}

// NotificationStats counts log entries since the given time.
func (s *Store) NotificationStats(_ context.Context, since time.Time) (storage.NotificationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := storage.NotificationStats{ByStatus: make(map[alerts.Status]int)}
	for _, setting := range s.settings {
		if setting.Active {
			stats.ActiveSettings++
		}
	}
	for _, rec := range s.log {
		if !rec.SentAt.Before(since) {
			stats.ByStatus[rec.Status]++
		}
	}
	return stats, nil
}

// Records returns a copy of the notification log in insertion order.
func (s *Store) Records() []alerts.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.log)
}

func copySetting(src *alerts.Setting) alerts.Setting {
	dst := *src
	dst.SelectedVenues = slices.Clone(src.SelectedVenues)
	if src.LastSentAt != nil {
		sent := *src.LastSentAt
		dst.LastSentAt = &sent
	}
	return dst
}
