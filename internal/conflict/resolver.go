// Package conflict resolves write conflicts between a pending local change
// and the newer remote copy of the same record.
package conflict

import (
	"context"
	"fmt"

	"github.com/orion/tasksync/internal/datastore"
	"github.com/orion/tasksync/internal/logging"
	"github.com/orion/tasksync/internal/metrics"
	"github.com/orion/tasksync/internal/schema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Task fields taken from the local copy when it has a value.
var localTaskFields = []string{"status", "activityAnswer", "activityResponse"}

// Task fields taken from the remote copy when it has a value.
var remoteTaskFields = []string{"startTimeInMillSec", "expireTimeInMillSec", "endTimeInMillSec"}

// Resolver applies the per-model conflict rules.
type Resolver struct {
	logger *zap.Logger
}

// New creates a resolver.
func New(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logging.OrNop(logger).Named("conflict")}
}

// Handler returns r as a datastore.ConflictHandler.
func (r *Resolver) Handler() datastore.ConflictHandler {
	return r.Resolve
}

// Resolve returns the record that should win.
//
// Task updates merge field by field starting from remote. Deletes keep the
// remote tombstone if there is one, fall back to a deleted remote when the
// local copy carries no identifying fields, and otherwise keep the local
// delete. Everything else resolves to remote.
func (r *Resolver) Resolve(ctx context.Context, c datastore.ConflictData) (*datastore.Record, error) {
	if c.Remote == nil {
		return c.Local, nil
	}
	if c.Local == nil {
		return c.Remote, nil
	}

	metrics.Conflicts.WithLabelValues(string(c.Model)).Inc()
	r.logger.Info("resolving conflict",
		zap.String("model", string(c.Model)),
		zap.String("id", c.Remote.ID),
		zap.String("operation", string(c.Operation)),
		zap.Int("attempts", c.Attempts))

	switch {
	case c.Model == schema.ModelTask && c.Operation == datastore.OpUpdate:
		return mergeTask(c.Local, c.Remote)
	case c.Operation == datastore.OpDelete:
		return resolveDelete(c.Model, c.Local, c.Remote), nil
	default:
		return c.Remote, nil
	}
}

func mergeTask(local, remote *datastore.Record) (*datastore.Record, error) {
	merged := remote.Clone()
	data := []byte(merged.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	var err error
	for _, field := range localTaskFields {
		if lv := gjson.GetBytes(local.Data, field); truthy(lv) {
			data, err = sjson.SetRawBytes(data, field, []byte(lv.Raw))
			if err != nil {
				return nil, fmt.Errorf("failed to merge task field %s: %w", field, err)
			}
		}
	}
	for _, field := range remoteTaskFields {
		if truthy(gjson.GetBytes(data, field)) {
			continue
		}
		if lv := gjson.GetBytes(local.Data, field); truthy(lv) {
			data, err = sjson.SetRawBytes(data, field, []byte(lv.Raw))
			if err != nil {
				return nil, fmt.Errorf("failed to merge task field %s: %w", field, err)
			}
		}
	}

	merged.Data = data
	return merged, nil
}

func resolveDelete(model schema.Model, local, remote *datastore.Record) *datastore.Record {
	if remote.Deleted {
		return remote
	}
	if incomplete(model, local) {
		deleted := remote.Clone()
		deleted.Deleted = true
		return deleted
	}
	return local
}

// incomplete reports whether local lacks every identifying field of its
// model.
func incomplete(model schema.Model, local *datastore.Record) bool {
	has := func(field string) bool { return truthy(gjson.GetBytes(local.Data, field)) }

	switch model {
	case schema.ModelTask:
		return !has("title") && !has("description")
	case schema.ModelQuestion:
		return !has("question") && !has("questionId")
	case schema.ModelActivity:
		return !has("name") && !has("title")
	default:
		return !has("pk") && !has("sk") && local.PK == "" && local.SK == ""
	}
}

// truthy treats missing, null, false, zero and empty string as unset.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	default:
		return v.Exists()
	}
}
