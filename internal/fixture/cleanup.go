package fixture

import (
	"context"
	"fmt"

	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"go.uber.org/zap"
)

// AppointmentClearer removes the stored appointment bundle.
type AppointmentClearer interface {
	Clear(ctx context.Context) error
}

// ClearResult reports ClearSeeded.
type ClearResult struct {
	Deleted             map[schema.Model]int `json:"deleted"`
	ClearedAppointments bool                 `json:"clearedAppointments"`
}

// Total is the number of records deleted.
func (r *ClearResult) Total() int {
	n := 0
	for _, d := range r.Deleted {
		n += d
	}
	return n
}

// ClearSeeded deletes every core and derived record through ordinary
// deletes, so the removals replicate like any local change, and then
// clears the appointment bundle.
//
// Derived records go first, then tasks, activities and questions. The
// first failure stops the run; what was deleted before it stays deleted.
func (im *Importer) ClearSeeded(ctx context.Context) (*ClearResult, error) {
	result := &ClearResult{Deleted: make(map[schema.Model]int)}
	im.logger.Info("clearing seeded data")

	purgers := append([]Purger(nil), im.repos.Derived...)
	purgers = append(purgers,
		NewPurger[*schema.Task](schema.ModelTask, im.repos.Tasks),
		NewPurger[*schema.Activity](schema.ModelActivity, im.repos.Activities),
		NewPurger[*schema.Question](schema.ModelQuestion, im.repos.Questions),
	)

	for _, p := range purgers {
		n, err := p.PurgeAll(ctx)
		if err != nil {
			im.logger.Error("clear failed", zap.String("model", string(p.Model())), zap.Error(err))
			return result, err
		}
		result.Deleted[p.Model()] = n
		metrics.ImportRecords.WithLabelValues(string(p.Model()), "deleted").Add(float64(n))
		im.logger.Debug("model cleared", zap.String("model", string(p.Model())), zap.Int("deleted", n))
	}

	if c, ok := im.appointments.(AppointmentClearer); ok {
		if err := c.Clear(ctx); err != nil {
			return result, fmt.Errorf("failed to clear appointments: %w", err)
		}
		result.ClearedAppointments = true
	}

	im.logger.Info("seeded data cleared",
		zap.Int("deleted", result.Total()),
		zap.Bool("appointments", result.ClearedAppointments))
	return result, nil
}
