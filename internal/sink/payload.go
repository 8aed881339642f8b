package sink

import (
	"encoding/json"
	"time"

	"github.com/pingcap/errors"

	"github.com/mehmetymw/binlogha/internal/types"
)

// Payload is the JSON body published for every change record.
type Payload struct {
	Database  string            `json:"database"`
	Table     string            `json:"table"`
	Kind      types.ChangeKind  `json:"kind"`
	After     map[string]string `json:"after"`
	Timestamp time.Time         `json:"ts"`
}

func Marshal(database string, rec types.ChangeRecord) ([]byte, error) {
	p := Payload{
		Database:  database,
		Kind:      rec.Kind,
		After:     rec.After,
		Timestamp: time.Now().UTC(),
	}
	if rec.Table != nil {
		p.Table = rec.Table.Name
	}
	b, err := json.Marshal(p)
	return b, errors.Trace(err)
}
