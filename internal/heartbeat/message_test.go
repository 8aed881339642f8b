package heartbeat

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/mehmetymw/binlogha/internal/types"
)

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		Report(types.Checkpoint{LogName: "mysql-bin.000007", Offset: 4096}),
		Report(types.Checkpoint{}),
		Ack(),
		Master(),
		Unknown(),
		{Kind: KindAck, LogName: "mysql-bin.000001", Offset: 1},
	}
	for _, m := range msgs {
		b, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestMessageWireFormat(t *testing.T) {
	b, err := Encode(Report(types.Checkpoint{LogName: "mysql-bin.000003", Offset: 120}))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"REPORT","binlog":"mysql-bin.000003","position":120}`, string(b))
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"type":"HELLO"}`,
		`{"binlog":"mysql-bin.000001"}`,
		`{"type":"REPORT","position":"abc"}`,
	} {
		_, err := Decode([]byte(raw))
		require.Error(t, err, raw)
		require.Equal(t, ErrMalformed, errors.Cause(err), raw)
	}
}
