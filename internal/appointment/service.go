// Package appointment stores the appointment bundle and groups it for
// display.
package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orion/tasksync/internal/kv"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// StorageKey is the key the bundle is stored under.
const StorageKey = "@appointments_data"

// Service loads and saves the appointment bundle. It satisfies
// fixture.AppointmentSaver.
type Service struct {
	kv     kv.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service over a key-value store.
func NewService(store kv.Store, logger *zap.Logger) *Service {
	return &Service{
		kv:     store,
		logger: logging.OrNop(logger).Named("appointments"),
		now:    time.Now,
	}
}

// Save overwrites the stored bundle.
func (s *Service) Save(ctx context.Context, data *schema.AppointmentData) error {
	if data == nil {
		return fmt.Errorf("failed to save appointments: nil bundle")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode appointments: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, string(encoded)); err != nil {
		return fmt.Errorf("failed to save appointments: %w", err)
	}
	s.logger.Info("appointments saved",
		zap.Int("count", len(data.Items())),
		zap.String("timezone", data.SiteTimezoneID))
	return nil
}

// Load returns the stored bundle, or nil when there is none.
func (s *Service) Load(ctx context.Context) (*schema.AppointmentData, error) {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appointments: %w", err)
	}

	var data schema.AppointmentData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}
	s.logger.Debug("appointments loaded", zap.Int("count", len(data.Items())))
	return &data, nil
}

// Clear removes the stored bundle.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("failed to clear appointments: %w", err)
	}
	s.logger.Info("appointments cleared")
	return nil
}

// List returns the live appointments. With todayOnly it keeps those that
// start on the current local day.
func (s *Service) List(ctx context.Context, todayOnly bool) ([]schema.Appointment, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	live := Live(data)
	if !todayOnly {
		return live, nil
	}

	now := s.now()
	var today []schema.Appointment
	for _, a := range live {
		start, err := a.Start()
		if err != nil {
			s.logger.Warn("skipping appointment with bad start time",
				zap.String("appointment", a.AppointmentID), zap.Error(err))
			continue
		}
		if sameDay(start.In(now.Location()), now) {
			today = append(today, a)
		}
	}
	if len(today) == 0 && len(live) > 0 {
		s.logger.Debug("no appointments today",
			zap.String("date", now.Format(time.DateOnly)),
			zap.Int("total", len(live)))
	}
	return today, nil
}

// Live returns the appointments not marked deleted.
func Live(data *schema.AppointmentData) []schema.Appointment {
	var live []schema.Appointment
	for _, a := range data.Items() {
		if a.IsDeleted == 0 {
			live = append(live, a)
		}
	}
	return live
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
