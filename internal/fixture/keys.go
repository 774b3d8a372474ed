package fixture

import "github.com/orion/tasksync/internal/schema"

// BusinessKey identifies a record independently of its store id.
type BusinessKey struct {
	PK string
	SK string
}

func (k BusinessKey) String() string {
	if k.SK == "" {
		return k.PK
	}
	return k.PK + "#" + k.SK
}

// KeyFunc extracts the business key of an entity.
type KeyFunc[T any] func(T) BusinessKey

// CompositeKey keys an entity by pk and sk. Activities share a pk within a
// study, so both parts are needed.
func CompositeKey[T schema.Entity](e T) BusinessKey {
	pk, sk := e.Keys()
	return BusinessKey{PK: pk, SK: sk}
}

// PKKey keys an entity by pk alone.
func PKKey[T schema.Entity](e T) BusinessKey {
	pk, _ := e.Keys()
	return BusinessKey{PK: pk}
}
