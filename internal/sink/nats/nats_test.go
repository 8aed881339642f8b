package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/sink"
	"github.com/mehmetymw/binlogha/internal/types"
)

type fakeConn struct {
	subjects []string
	data     [][]byte
	flushErr error
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return f.flushErr }
func (f *fakeConn) Close()                                 { f.closed = true }

func TestSinkPublishes(t *testing.T) {
	c := &fakeConn{}
	s := &Sink{conn: c, database: "ad", subject: "cdc.ad.plan", logger: zap.NewNop()}

	err := s.OnEvent(context.Background(), types.ChangeRecord{
		Table: &types.TableSchema{Name: "plan"},
		Kind:  types.ChangeUpdate,
		After: map[string]string{"plan_id": "3"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"cdc.ad.plan"}, c.subjects)

	var p sink.Payload
	require.NoError(t, json.Unmarshal(c.data[0], &p))
	require.Equal(t, "plan", p.Table)
	require.Equal(t, types.ChangeUpdate, p.Kind)

	require.NoError(t, s.Close())
	require.True(t, c.closed)
}

func TestSinkFlushError(t *testing.T) {
	c := &fakeConn{flushErr: errors.New("timeout")}
	s := &Sink{conn: c, database: "ad", subject: "cdc.ad.plan", logger: zap.NewNop()}
	require.Error(t, s.OnEvent(context.Background(), types.ChangeRecord{Kind: types.ChangeInsert}))
}
