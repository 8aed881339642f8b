package schema

import (
	"sync"

	"github.com/mehmetymw/binlogha/internal/types"
)

// Registry maps a table name to the binlog ordinals the pipeline cares about.
type Registry interface {
	Table(name string) (*types.TableSchema, bool)
}

type Static struct {
	mu     sync.RWMutex
	tables map[string]*types.TableSchema
}

func NewStatic(tables ...*types.TableSchema) *Static {
	s := &Static{tables: make(map[string]*types.TableSchema, len(tables))}
	for _, t := range tables {
		s.Put(t)
	}
	return s
}

func (s *Static) Put(t *types.TableSchema) {
	s.mu.Lock()
	s.tables[t.Name] = t
	s.mu.Unlock()
}

func (s *Static) Table(name string) (*types.TableSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}
