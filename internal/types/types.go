package types

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gmysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/pingcap/errors"
)

type ReplicaStatus int32

const (
	StatusUnknown ReplicaStatus = iota
	StatusMaster
	StatusSlave
)

func (s ReplicaStatus) String() string {
	switch s {
	case StatusMaster:
		return "MASTER"
	case StatusSlave:
		return "SLAVE"
	default:
		return "UNKNOWN"
	}
}

// Checkpoint is the last durably recorded position in the binlog stream.
type Checkpoint struct {
	LogName string `json:"binlog" yaml:"binlog"`
	Offset  uint32 `json:"position" yaml:"position"`
}

func (c Checkpoint) IsZero() bool {
	return c.LogName == ""
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%s:%d", c.LogName, c.Offset)
}

func (c Checkpoint) Position() gmysql.Position {
	return gmysql.Position{Name: c.LogName, Pos: c.Offset}
}

func FromPosition(p gmysql.Position) Checkpoint {
	return Checkpoint{LogName: p.Name, Offset: p.Pos}
}

// ParseCheckpoint parses the `mysql-bin.000001:2345` form.
func ParseCheckpoint(s string) (Checkpoint, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return Checkpoint{}, errors.Errorf("invalid checkpoint %q, should be file:pos", s)
	}
	pos, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return Checkpoint{}, errors.Annotatef(err, "invalid checkpoint offset in %q", s)
	}
	return Checkpoint{LogName: s[:idx], Offset: uint32(pos)}, nil
}

type TableSchema struct {
	Name    string
	Columns map[int]string
}

type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

type ChangeRecord struct {
	Table *TableSchema
	Kind  ChangeKind
	After map[string]string
}

type Subscriber interface {
	OnEvent(ctx context.Context, rec ChangeRecord) error
}

type SubscriberFunc func(ctx context.Context, rec ChangeRecord) error

func (f SubscriberFunc) OnEvent(ctx context.Context, rec ChangeRecord) error {
	return f(ctx, rec)
}
