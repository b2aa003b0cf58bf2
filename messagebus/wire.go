package messagebus

import (
	"bytes"
	"encoding/gob"
	"time"
)

// wireMessage is the serializable projection of Message used for
// transport encoding; Message itself carries a mutex and is not
// gob-safe directly.
type wireMessage struct {
	Name       string
	Broadcast  bool
	RetValue   string
	MsgTime    time.Time
	Params     map[string]string
	TraceID    string
	TraceLevel int
	TraceToMsg bool
	Handled    bool
	HasHandled bool
}

func encodeMessage(m *Message) ([]byte, error) {
	w := wireMessage{
		Name: m.Name, Broadcast: m.Broadcast, RetValue: m.RetValue,
		MsgTime: m.MsgTime, Params: m.CopyParams(),
		TraceID: m.TraceID, TraceLevel: m.TraceLevel, TraceToMsg: m.TraceToMsg,
	}
	w.Handled, w.HasHandled = m.Handled()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMessage(data []byte) (*Message, error) {
	var w wireMessage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, err
	}
	m := NewMessage(w.Name, w.Broadcast, w.Params)
	m.RetValue = w.RetValue
	m.MsgTime = w.MsgTime
	m.TraceID = w.TraceID
	m.TraceLevel = w.TraceLevel
	m.TraceToMsg = w.TraceToMsg
	if w.HasHandled {
		m.SetHandled(w.Handled)
	}
	return m, nil
}
