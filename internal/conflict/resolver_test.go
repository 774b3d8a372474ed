package conflict

import (
	"context"
	"testing"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func rec(model schema.Model, data string) *datastore.Record {
	return &datastore.Record{Model: model, ID: "test-id", Data: []byte(data)}
}

func resolve(t *testing.T, model schema.Model, op datastore.OpType, local, remote *datastore.Record) *datastore.Record {
	t.Helper()
	got, err := New(nil).Resolve(context.Background(), datastore.ConflictData{
		Model:     model,
		Local:     local,
		Remote:    remote,
		Operation: op,
		Attempts:  1,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func TestResolve_TaskUpdateMergesFields(t *testing.T) {
	local := rec(schema.ModelTask, `{"status":"STARTED","startTimeInMillSec":1000,"expireTimeInMillSec":2000,"activityAnswer":"local-answer"}`)
	remote := rec(schema.ModelTask, `{"status":"OPEN","startTimeInMillSec":2000,"expireTimeInMillSec":3000,"activityResponse":"remote-response","title":"Remote"}`)
	remote.Version = 4

	got := resolve(t, schema.ModelTask, datastore.OpUpdate, local, remote)

	assert.Equal(t, "STARTED", gjson.GetBytes(got.Data, "status").String())
	assert.EqualValues(t, 2000, gjson.GetBytes(got.Data, "startTimeInMillSec").Int())
	assert.EqualValues(t, 3000, gjson.GetBytes(got.Data, "expireTimeInMillSec").Int())
	assert.Equal(t, "local-answer", gjson.GetBytes(got.Data, "activityAnswer").String())
	assert.Equal(t, "remote-response", gjson.GetBytes(got.Data, "activityResponse").String())
	assert.Equal(t, "Remote", gjson.GetBytes(got.Data, "title").String())
	assert.EqualValues(t, 4, got.Version, "merged record keeps the remote version")
	assert.Equal(t, "OPEN", gjson.GetBytes(remote.Data, "status").String(), "remote must not be mutated")
}

func TestResolve_TaskUpdateFallsBackToLocalTiming(t *testing.T) {
	local := rec(schema.ModelTask, `{"endTimeInMillSec":5000}`)
	remote := rec(schema.ModelTask, `{"status":"OPEN","endTimeInMillSec":0}`)

	got := resolve(t, schema.ModelTask, datastore.OpUpdate, local, remote)

	assert.EqualValues(t, 5000, gjson.GetBytes(got.Data, "endTimeInMillSec").Int())
	assert.Equal(t, "OPEN", gjson.GetBytes(got.Data, "status").String())
}

func TestResolve_Delete(t *testing.T) {
	tests := []struct {
		name        string
		model       schema.Model
		local       string
		remote      string
		remoteDel   bool
		wantDeleted bool
		wantLocal   bool
	}{
		{name: "remote already deleted", model: schema.ModelTaskAnswer, local: `{}`, remote: `{}`, remoteDel: true, wantDeleted: true},
		{name: "incomplete task", model: schema.ModelTask, local: `{}`, remote: `{"title":"Remote Task","description":"d"}`, wantDeleted: true},
		{name: "incomplete question", model: schema.ModelQuestion, local: `{"pk":"Q"}`, remote: `{"question":"q"}`, wantDeleted: true},
		{name: "incomplete activity", model: schema.ModelActivity, local: `{"pk":"A"}`, remote: `{"name":"n"}`, wantDeleted: true},
		{name: "incomplete answer", model: schema.ModelTaskAnswer, local: `{}`, remote: `{"pk":"remote-pk","sk":"remote-sk"}`, wantDeleted: true},
		{name: "complete task keeps local", model: schema.ModelTask, local: `{"title":"mine"}`, remote: `{"title":"theirs"}`, wantLocal: true},
		{name: "complete data point keeps local", model: schema.ModelDataPoint, local: `{"pk":"DP"}`, remote: `{"pk":"DP"}`, wantLocal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := rec(tt.model, tt.local)
			local.Deleted = true
			remote := rec(tt.model, tt.remote)
			remote.Deleted = tt.remoteDel

			got := resolve(t, tt.model, datastore.OpDelete, local, remote)

			if tt.wantLocal {
				assert.Same(t, local, got)
				return
			}
			assert.Equal(t, tt.wantDeleted, got.Deleted)
			assert.JSONEq(t, tt.remote, string(got.Data))
		})
	}
}

func TestResolve_DefaultRemote(t *testing.T) {
	local := rec(schema.ModelQuestion, `{"question":"local"}`)
	remote := rec(schema.ModelQuestion, `{"question":"remote"}`)

	for _, op := range []datastore.OpType{datastore.OpInsert, datastore.OpUpdate} {
		got := resolve(t, schema.ModelQuestion, op, local, remote)
		assert.Same(t, remote, got, "op %s", op)
	}

	got := resolve(t, schema.ModelActivity, datastore.OpInsert, rec(schema.ModelActivity, `{}`), remote)
	assert.Same(t, remote, got)
}

func TestHandler_InstalledOnStore(t *testing.T) {
	store, err := datastore.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer store.Close()

	store.Configure(New(nil).Handler())

	local := rec(schema.ModelTask, `{"status":"COMPLETED"}`)
	remote := rec(schema.ModelTask, `{"status":"OPEN"}`)
	got, err := store.ResolveConflict(context.Background(), datastore.ConflictData{
		Model: schema.ModelTask, Local: local, Remote: remote, Operation: datastore.OpUpdate,
	})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", gjson.GetBytes(got.Data, "status").String())
}
