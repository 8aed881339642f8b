package heartbeat

import (
	"encoding/json"

	"github.com/pingcap/errors"

	"github.com/mehmetymw/binlogha/internal/types"
)

type Kind string

const (
	KindReport  Kind = "REPORT"
	KindAck     Kind = "ACK"
	KindMaster  Kind = "MASTER"
	KindUnknown Kind = "UNKNOWN"
)

var ErrMalformed = errors.New("malformed heartbeat message")

// Message is the request and response shape of every heartbeat exchange.
type Message struct {
	Kind    Kind   `json:"type"`
	LogName string `json:"binlog"`
	Offset  uint32 `json:"position"`
}

func Report(cp types.Checkpoint) Message {
	return Message{Kind: KindReport, LogName: cp.LogName, Offset: cp.Offset}
}

func Ack() Message     { return Message{Kind: KindAck} }
func Master() Message  { return Message{Kind: KindMaster} }
func Unknown() Message { return Message{Kind: KindUnknown} }

func (m Message) Checkpoint() types.Checkpoint {
	return types.Checkpoint{LogName: m.LogName, Offset: m.Offset}
}

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Trace(err)
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, errors.Wrap(ErrMalformed, err.Error())
	}
	switch m.Kind {
	case KindReport, KindAck, KindMaster, KindUnknown:
		return m, nil
	default:
		return Message{}, errors.Annotatef(ErrMalformed, "unknown type %q", m.Kind)
	}
}
