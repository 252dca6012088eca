package reconcile

import "strconv"

type mappingKey struct {
	entity  EntityType
	idLocal string
}

// MappingTable is the id_local -> id_global table accumulated while
// reconciling one batch, used to resolve references between items of the
// same submission. The per-item mapping list returned to the device is
// tracked separately by Reconcile.
type MappingTable struct {
	byKey map[mappingKey]uint
}

// NewMappingTable creates an empty table.
func NewMappingTable() *MappingTable {
	return &MappingTable{byKey: make(map[mappingKey]uint)}
}

// Put records the canonical id assigned to a local id.
func (t *MappingTable) Put(entity EntityType, idLocal string, idGlobal uint) {
	t.byKey[mappingKey{entity: entity, idLocal: idLocal}] = idGlobal
}

// Lookup returns the canonical id previously recorded for a local id.
func (t *MappingTable) Lookup(entity EntityType, idLocal string) (uint, bool) {
	id, ok := t.byKey[mappingKey{entity: entity, idLocal: idLocal}]
	return id, ok
}

// Resolve turns a reference field into a canonical id. A reference resolved
// earlier in this batch wins; otherwise the value is treated as already
// canonical (it came from a prior, already-reconciled sync). A non-numeric
// value with no mapping is an unresolved dependency.
func (t *MappingTable) Resolve(entity EntityType, ref string) (uint, bool) {
	if ref == "" {
		return 0, false
	}
	if id, ok := t.Lookup(entity, ref); ok {
		return id, true
	}
	n, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
