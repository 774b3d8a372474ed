package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// writeOnceFields are never copied from a fixture onto an existing record.
var writeOnceFields = map[string]bool{
	"pk": true, "sk": true, "id": true,
	"_version": true, "_lastChangedAt": true, "_deleted": true,
}

// deleteConcurrency bounds the scatter-gather deletes during prune.
const deleteConcurrency = 8

// Repository is the store surface the importer writes through.
// *datastore.Collection satisfies it.
type Repository[T schema.Entity] interface {
	Query(ctx context.Context) ([]T, error)
	Save(ctx context.Context, item T) (T, error)
	Delete(ctx context.Context, item T) error
}

// Purger deletes every record of one derived model.
type Purger interface {
	Model() schema.Model
	PurgeAll(ctx context.Context) (int, error)
}

// AppointmentSaver stores the appointment bundle wholesale.
type AppointmentSaver interface {
	Save(ctx context.Context, data *schema.AppointmentData) error
}

// Repositories is everything Import touches.
type Repositories struct {
	Activities Repository[*schema.Activity]
	Questions  Repository[*schema.Question]
	Tasks      Repository[*schema.Task]
	Derived    []Purger
}

// RepositoriesFor builds Repositories over the store collections.
func RepositoriesFor(cols *datastore.Collections) Repositories {
	return Repositories{
		Activities: cols.Activities,
		Questions:  cols.Questions,
		Tasks:      cols.Tasks,
		Derived: []Purger{
			NewPurger[*schema.TaskAnswer](schema.ModelTaskAnswer, cols.TaskAnswers),
			NewPurger[*schema.TaskResult](schema.ModelTaskResult, cols.TaskResults),
			NewPurger[*schema.TaskHistory](schema.ModelTaskHistory, cols.TaskHistories),
			NewPurger[*schema.DataPointInstance](schema.ModelDataPointInstance, cols.DataPointInstances),
			NewPurger[*schema.DataPoint](schema.ModelDataPoint, cols.DataPoints),
		},
	}
}

type purger[T schema.Entity] struct {
	model schema.Model
	repo  Repository[T]
}

// NewPurger wraps a repository as a Purger.
func NewPurger[T schema.Entity](model schema.Model, repo Repository[T]) Purger {
	return &purger[T]{model: model, repo: repo}
}

func (p *purger[T]) Model() schema.Model { return p.model }

func (p *purger[T]) PurgeAll(ctx context.Context) (int, error) {
	items, err := p.repo.Query(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", p.model, err)
	}
	if err := deleteAll(ctx, p.repo, items); err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", p.model, err)
	}
	return len(items), nil
}

// Options controls Import.
type Options struct {
	// UpdateExisting overwrites matched records with the fixture's fields
	UpdateExisting bool `json:"updateExisting"`

	// PruneNonFixture deletes core records absent from the fixture, and
	// all duplicates
	PruneNonFixture bool `json:"pruneNonFixture"`

	// PruneDerivedModels also deletes every derived record; only honored
	// together with PruneNonFixture
	PruneDerivedModels bool `json:"pruneDerivedModels"`
}

// DefaultOptions returns update-in-place with no pruning.
func DefaultOptions() Options {
	return Options{UpdateExisting: true}
}

// Counts are the per-type outcomes of an import.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// AppointmentsResult reports the appointment step.
type AppointmentsResult struct {
	Saved bool `json:"saved"`
}

// PruneResult reports prune deletes per model.
type PruneResult struct {
	Activities int                  `json:"activities"`
	Tasks      int                  `json:"tasks"`
	Questions  int                  `json:"questions"`
	Derived    map[schema.Model]int `json:"derived,omitempty"`
}

// Total is the number of records deleted.
func (p *PruneResult) Total() int {
	n := p.Activities + p.Tasks + p.Questions
	for _, d := range p.Derived {
		n += d
	}
	return n
}

// Result is returned by Import.
type Result struct {
	Activities   Counts             `json:"activities"`
	Tasks        Counts             `json:"tasks"`
	Questions    Counts             `json:"questions"`
	Appointments AppointmentsResult `json:"appointments"`
	Pruned       *PruneResult       `json:"pruned,omitempty"`
}

// Importer reconciles the store against fixtures.
type Importer struct {
	repos        Repositories
	appointments AppointmentSaver
	logger       *zap.Logger
}

// NewImporter creates an importer. appointments may be nil, in which case
// a fixture with appointments fails at that step.
func NewImporter(repos Repositories, appointments AppointmentSaver, logger *zap.Logger) *Importer {
	return &Importer{
		repos:        repos,
		appointments: appointments,
		logger:       logging.OrNop(logger).Named("fixture"),
	}
}

// stepState is what a step leaves behind for prune.
type stepState[T schema.Entity] struct {
	existing   []T
	duplicates []T
}

// Import converges the store to fx.
//
// The version is checked before the store is touched. Activities,
// questions, tasks and appointments are then imported in that order; the
// first write failure aborts the import and earlier steps stay committed.
// Re-running the same import converges.
func (im *Importer) Import(ctx context.Context, fx *Fixture, opts *Options) (*Result, error) {
	if err := fx.CheckVersion(); err != nil {
		return nil, err
	}
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}

	im.logger.Info("import started",
		zap.String("fixture", fx.FixtureID),
		zap.Bool("update_existing", o.UpdateExisting),
		zap.Bool("prune", o.PruneNonFixture),
		zap.Bool("prune_derived", o.PruneDerivedModels))

	result := &Result{}

	activities, err := importStep(ctx, im, "activities", schema.ModelActivity,
		im.repos.Activities, fx.Activities, CompositeKey[*schema.Activity], func() *schema.Activity { return new(schema.Activity) },
		o.UpdateExisting, &result.Activities)
	if err != nil {
		return result, err
	}

	questions, err := importStep(ctx, im, "questions", schema.ModelQuestion,
		im.repos.Questions, fx.Questions, PKKey[*schema.Question], func() *schema.Question { return new(schema.Question) },
		o.UpdateExisting, &result.Questions)
	if err != nil {
		return result, err
	}

	tasks, err := importStep(ctx, im, "tasks", schema.ModelTask,
		im.repos.Tasks, fx.Tasks, PKKey[*schema.Task], func() *schema.Task { return new(schema.Task) },
		o.UpdateExisting, &result.Tasks)
	if err != nil {
		return result, err
	}

	if fx.Appointments != nil {
		if im.appointments == nil {
			return result, fmt.Errorf("failed to import appointments: no appointment storage configured")
		}
		if err := im.appointments.Save(ctx, fx.Appointments); err != nil {
			im.logger.Error("import step failed", zap.String("step", "appointments"), zap.Error(err))
			return result, fmt.Errorf("failed to import appointments: %w", err)
		}
		result.Appointments.Saved = true
		im.logger.Info("import step complete",
			zap.String("step", "appointments"),
			zap.Int("saved", len(fx.Appointments.Items())))
	}

	if o.PruneNonFixture {
		pruned, err := im.prune(ctx, fx, o, activities, questions, tasks)
		result.Pruned = pruned
		if err != nil {
			return result, err
		}
	}

	im.logger.Info("import complete",
		zap.String("fixture", fx.FixtureID),
		zap.Any("activities", result.Activities),
		zap.Any("questions", result.Questions),
		zap.Any("tasks", result.Tasks),
		zap.Bool("appointments", result.Appointments.Saved))
	return result, nil
}

// importStep creates or updates one entity type and returns the records
// that existed before the step along with the duplicates it found.
func importStep[V any, T interface {
	*V
	schema.Entity
}](
	ctx context.Context,
	im *Importer,
	step string,
	model schema.Model,
	repo Repository[T],
	entries []Entry[V],
	keyOf KeyFunc[T],
	newFn func() T,
	updateExisting bool,
	counts *Counts,
) (*stepState[T], error) {
	existing, err := repo.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", step, err)
	}

	canonical, duplicates := dedupe(existing, keyOf)
	state := &stepState[T]{existing: existing, duplicates: duplicates}

	for i := range entries {
		entry := &entries[i]
		input := T(&entry.Value)
		key := keyOf(input)

		current, ok := canonical[key]
		if !ok {
			fresh := newFn()
			if err := copyValue(fresh, input); err != nil {
				return state, err
			}
			*fresh.Metadata() = schema.Meta{}

			created, err := repo.Save(ctx, fresh)
			if err != nil {
				im.logger.Error("import record failed", zap.String("step", step), zap.String("pk", key.PK), zap.Error(err))
				return state, fmt.Errorf("failed to create %s %s: %w", model, key, err)
			}
			canonical[key] = created
			counts.Created++
			metrics.ImportRecords.WithLabelValues(string(model), "created").Inc()
			continue
		}

		if !updateExisting {
			counts.Skipped++
			metrics.ImportRecords.WithLabelValues(string(model), "skipped").Inc()
			continue
		}

		next, changed, err := applyDefined(current, entry.Raw, newFn)
		if err != nil {
			return state, fmt.Errorf("failed to merge %s %s: %w", model, key, err)
		}
		if !changed {
			counts.Skipped++
			metrics.ImportRecords.WithLabelValues(string(model), "skipped").Inc()
			continue
		}

		updated, err := repo.Save(ctx, next)
		if err != nil {
			im.logger.Error("import record failed", zap.String("step", step), zap.String("pk", key.PK), zap.Error(err))
			return state, fmt.Errorf("failed to update %s %s: %w", model, key, err)
		}
		canonical[key] = updated
		counts.Updated++
		metrics.ImportRecords.WithLabelValues(string(model), "updated").Inc()
	}

	im.logger.Info("import step complete",
		zap.String("step", step),
		zap.Int("created", counts.Created),
		zap.Int("updated", counts.Updated),
		zap.Int("skipped", counts.Skipped),
		zap.Int("duplicates", len(duplicates)))
	return state, nil
}

// dedupe picks the newest record per business key. Ties keep the record
// seen first.
func dedupe[T schema.Entity](items []T, keyOf KeyFunc[T]) (map[BusinessKey]T, []T) {
	canonical := make(map[BusinessKey]T, len(items))
	var duplicates []T
	for _, item := range items {
		key := keyOf(item)
		prev, ok := canonical[key]
		if !ok {
			canonical[key] = item
			continue
		}
		if item.Metadata().LastChangedAt > prev.Metadata().LastChangedAt {
			canonical[key] = item
			duplicates = append(duplicates, prev)
		} else {
			duplicates = append(duplicates, item)
		}
	}
	return canonical, duplicates
}

// copyValue deep-copies src into dst through JSON.
func copyValue[T schema.Entity](dst, src T) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src.ModelName(), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src.ModelName(), err)
	}
	return nil
}

// applyDefined overlays the fixture's defined fields, except write-once
// ones, onto current. changed is false when the result equals current.
func applyDefined[T schema.Entity](current T, raw json.RawMessage, newFn func() T) (T, bool, error) {
	var zero T

	before, err := json.Marshal(current)
	if err != nil {
		return zero, false, err
	}

	fields := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return zero, false, fmt.Errorf("failed to read fixture fields: %w", err)
		}
	}

	merged := append([]byte(nil), before...)
	for key, value := range fields {
		if writeOnceFields[key] {
			continue
		}
		merged, err = sjson.SetRawBytes(merged, escapePath(key), value)
		if err != nil {
			return zero, false, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	next := newFn()
	if err := json.Unmarshal(merged, next); err != nil {
		return zero, false, err
	}
	*next.Metadata() = *current.Metadata()

	after, err := json.Marshal(next)
	if err != nil {
		return zero, false, err
	}
	return next, !bytes.Equal(before, after), nil
}

// escapePath quotes sjson path metacharacters in a plain key.
func escapePath(key string) string {
	if !strings.ContainsAny(key, `.*?|#@\:`) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`.*?|#@\:`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (im *Importer) prune(
	ctx context.Context,
	fx *Fixture,
	o Options,
	activities *stepState[*schema.Activity],
	questions *stepState[*schema.Question],
	tasks *stepState[*schema.Task],
) (*PruneResult, error) {
	pruned := &PruneResult{}

	activityKeys := entryKeys(fx.Activities, CompositeKey[*schema.Activity])
	questionKeys := entryKeys(fx.Questions, PKKey[*schema.Question])
	taskKeys := entryKeys(fx.Tasks, PKKey[*schema.Task])

	staleActivities := staleRecords(activities, activityKeys, CompositeKey[*schema.Activity])
	staleQuestions := staleRecords(questions, questionKeys, PKKey[*schema.Question])
	staleTasks := staleRecords(tasks, taskKeys, PKKey[*schema.Task])

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deleteAll(gctx, im.repos.Activities, staleActivities) })
	g.Go(func() error { return deleteAll(gctx, im.repos.Questions, staleQuestions) })
	g.Go(func() error { return deleteAll(gctx, im.repos.Tasks, staleTasks) })
	if err := g.Wait(); err != nil {
		im.logger.Error("prune failed", zap.String("step", "prune"), zap.Error(err))
		return pruned, fmt.Errorf("failed to prune core records: %w", err)
	}

	pruned.Activities = len(staleActivities)
	pruned.Questions = len(staleQuestions)
	pruned.Tasks = len(staleTasks)
	metrics.ImportRecords.WithLabelValues(string(schema.ModelActivity), "deleted").Add(float64(pruned.Activities))
	metrics.ImportRecords.WithLabelValues(string(schema.ModelQuestion), "deleted").Add(float64(pruned.Questions))
	metrics.ImportRecords.WithLabelValues(string(schema.ModelTask), "deleted").Add(float64(pruned.Tasks))

	im.logger.Info("import step complete",
		zap.String("step", "prune"),
		zap.Int("deleted", pruned.Activities+pruned.Questions+pruned.Tasks))

	if !o.PruneDerivedModels {
		return pruned, nil
	}

	counts := make([]int, len(im.repos.Derived))
	dg, dctx := errgroup.WithContext(ctx)
	for i, p := range im.repos.Derived {
		dg.Go(func() error {
			n, err := p.PurgeAll(dctx)
			counts[i] = n
			return err
		})
	}
	err := dg.Wait()

	pruned.Derived = make(map[schema.Model]int, len(im.repos.Derived))
	for i, p := range im.repos.Derived {
		pruned.Derived[p.Model()] = counts[i]
		metrics.ImportRecords.WithLabelValues(string(p.Model()), "deleted").Add(float64(counts[i]))
	}
	if err != nil {
		im.logger.Error("prune failed", zap.String("step", "prune-derived"), zap.Error(err))
		return pruned, fmt.Errorf("failed to prune derived records: %w", err)
	}

	im.logger.Info("import step complete",
		zap.String("step", "prune-derived"),
		zap.Any("deleted", pruned.Derived))
	return pruned, nil
}

func entryKeys[V any, T interface {
	*V
	schema.Entity
}](entries []Entry[V], keyOf KeyFunc[T]) map[BusinessKey]bool {
	keys := make(map[BusinessKey]bool, len(entries))
	for i := range entries {
		keys[keyOf(T(&entries[i].Value))] = true
	}
	return keys
}

// staleRecords returns duplicates plus pre-existing records whose key is
// not in the fixture, each record at most once.
func staleRecords[T schema.Entity](state *stepState[T], keep map[BusinessKey]bool, keyOf KeyFunc[T]) []T {
	seen := make(map[string]bool)
	var stale []T
	add := func(item T) {
		id := item.Metadata().ID
		if seen[id] {
			return
		}
		seen[id] = true
		stale = append(stale, item)
	}
	for _, item := range state.duplicates {
		add(item)
	}
	for _, item := range state.existing {
		if !keep[keyOf(item)] {
			add(item)
		}
	}
	return stale
}

// deleteAll deletes items concurrently; the first failure cancels the rest.
func deleteAll[T schema.Entity](ctx context.Context, repo Repository[T], items []T) error {
	if len(items) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, item := range items {
		g.Go(func() error {
			if err := repo.Delete(gctx, item); err != nil {
				pk, _ := item.Keys()
				return fmt.Errorf("failed to delete %s %s: %w", item.ModelName(), pk, err)
			}
			return nil
		})
	}
	return g.Wait()
}
