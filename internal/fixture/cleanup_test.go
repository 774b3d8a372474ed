package fixture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearSeeded_AgainstStore(t *testing.T) {
	ctx := context.Background()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cols := datastore.NewCollections(store)
	appointments := &fakeAppointments{}
	importer := NewImporter(RepositoriesFor(cols), appointments, nil)

	_, err = importer.Import(ctx, generated(t), nil)
	require.NoError(t, err)
	_, err = cols.TaskAnswers.Save(ctx, &schema.TaskAnswer{PK: "ANSWER-1", SK: "S"})
	require.NoError(t, err)

	result, err := importer.ClearSeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Deleted[schema.ModelTask])
	assert.Equal(t, 2, result.Deleted[schema.ModelActivity])
	assert.Equal(t, 14, result.Deleted[schema.ModelQuestion])
	assert.Equal(t, 1, result.Deleted[schema.ModelTaskAnswer])
	assert.Equal(t, 27, result.Total())
	assert.True(t, result.ClearedAppointments)
	assert.True(t, appointments.cleared)

	for _, model := range schema.AllModels() {
		n, err := store.CountRecords(ctx, model)
		require.NoError(t, err)
		assert.Zero(t, n, "%s records left", model)
	}

	// The deletes are ordinary local changes waiting to replicate.
	depth, err := store.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Positive(t, depth)
}

func TestClearSeeded_WithoutAppointmentStorage(t *testing.T) {
	h := newHarness()
	importer := NewImporter(Repositories{
		Activities: h.activities,
		Questions:  h.questions,
		Tasks:      h.tasks,
	}, nil, nil)

	h.tasks.seed(&schema.Task{PK: "T-1", Title: "t"}, "id-1", 1)

	result, err := importer.ClearSeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted[schema.ModelTask])
	assert.False(t, result.ClearedAppointments)
	assert.Equal(t, []string{"id-1"}, h.tasks.Deleted())
}
