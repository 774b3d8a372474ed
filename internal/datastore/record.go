package datastore

import (
	"encoding/json"
	"fmt"

	"github.com/orion/tasksync/internal/schema"
	"github.com/tidwall/sjson"
)

// OpType is the kind of mutation applied to a record.
type OpType string

const (
	OpInsert OpType = "INSERT"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// metaKeys are owned by the store columns and never kept inside Data.
var metaKeys = []string{"id", "_version", "_lastChangedAt", "_deleted"}

// Record is the untyped form of a stored entity.
type Record struct {
	Model         schema.Model    `json:"model"`
	ID            string          `json:"id"`
	PK            string          `json:"pk"`
	SK            string          `json:"sk"`
	Data          json.RawMessage `json:"data"`
	Version       int64           `json:"_version"`
	LastChangedAt int64           `json:"_lastChangedAt"`
	Deleted       bool            `json:"_deleted"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = append(json.RawMessage(nil), r.Data...)
	return &c
}

// EncodeEntity converts a typed entity into a record.
func EncodeEntity(e schema.Entity) (*Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", e.ModelName(), err)
	}
	data, err = stripMeta(data)
	if err != nil {
		return nil, err
	}

	meta := e.Metadata()
	pk, sk := e.Keys()
	return &Record{
		Model:         e.ModelName(),
		ID:            meta.ID,
		PK:            pk,
		SK:            sk,
		Data:          data,
		Version:       meta.Version,
		LastChangedAt: meta.LastChangedAt,
		Deleted:       meta.Deleted,
	}, nil
}

// DecodeInto fills e from the record. Store metadata comes from the record
// columns, not from Data.
func (r *Record) DecodeInto(e schema.Entity) error {
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, e); err != nil {
			return fmt.Errorf("failed to unmarshal %s %s: %w", r.Model, r.ID, err)
		}
	}
	*e.Metadata() = schema.Meta{
		ID:            r.ID,
		Version:       r.Version,
		LastChangedAt: r.LastChangedAt,
		Deleted:       r.Deleted,
	}
	return nil
}

func stripMeta(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	var err error
	for _, key := range metaKeys {
		data, err = sjson.DeleteBytes(data, key)
		if err != nil {
			return nil, fmt.Errorf("failed to strip %s: %w", key, err)
		}
	}
	return data, nil
}
