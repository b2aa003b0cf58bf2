// Package messagebus implements the message-bus integration of the
// embedded scripting runtime: message-bus handles, filters, and the
// pluggable transport (NATS or RabbitMQ) that actually carries
// messages between engine instances, generalizing a one-transport
// bus abstraction into a pluggable one.
package messagebus

import (
	"sync"
	"time"
)

// Tri is a tri-state boolean used by post-hook handled-filters
// ("handled-flag (post-hooks only, tri-state any/true/false)").
type Tri int

const (
	TriAny Tri = iota
	TriTrue
	TriFalse
)

// Matches reports whether the tri-state filter accepts the given
// handled outcome.
func (t Tri) Matches(handled bool) bool {
	switch t {
	case TriTrue:
		return handled
	case TriFalse:
		return !handled
	default:
		return true
	}
}

// Message is the host-level message object that flows across the bus:
// the thing a Message script binding (native.MessageObject) wraps or
// detaches from. It is the reified unit the engine dispatches, enqueues
// and reports handled/unhandled for.
type Message struct {
	mu sync.Mutex

	Name      string
	Broadcast bool
	RetValue  string
	MsgTime   time.Time

	params map[string]string
	// UserData optionally carries a typed 2-D array for tabular access
	// (getColumn/getRow/getResult),.
	UserData *Table

	TraceID      string
	TraceLevel   int
	TraceToMsg   bool
	traceMsgSeq  int

	handled    bool
	hasHandled bool
}

// Table is the typed 2-D array backing Message.getColumn/getRow/getResult.
type Table struct {
	Columns []string
	Rows    [][]string // rows[r][c], empty string cells report as missing only via Cell
	present [][]bool
}

// NewTable builds a Table with the given column names and row count.
func NewTable(columns []string, rowCount int) *Table {
	return &Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([][]string, rowCount),
		present: make([][]bool, rowCount),
	}
}

// SetCell writes a cell and marks it present.
func (t *Table) SetCell(row, col int, val string) {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Columns) {
		return
	}
	if t.Rows[row] == nil {
		t.Rows[row] = make([]string, len(t.Columns))
		t.present[row] = make([]bool, len(t.Columns))
	}
	t.Rows[row][col] = val
	t.present[row][col] = true
}

// Cell returns a cell's value and whether it is present.
func (t *Table) Cell(row, col int) (string, bool) {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Columns) {
		return "", false
	}
	if t.present[row] == nil || !t.present[row][col] {
		return "", false
	}
	return t.Rows[row][col], true
}

// ColumnIndex finds a column by name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// NewMessage constructs a host message, shallow-copying params the way
// the script constructor `new Message(...)` does (identifier-starts-
// with-"__" names and function values are skipped by the caller before
// reaching here; Message itself just stores whatever it's handed).
func NewMessage(name string, broadcast bool, params map[string]string) *Message {
	m := &Message{
		Name:      name,
		Broadcast: broadcast,
		MsgTime:   now(),
		params:    make(map[string]string, len(params)),
	}
	for k, v := range params {
		m.params[k] = v
	}
	return m
}

// now is overridable in tests; kept as a var rather than a direct
// time.Now() call so msgAge is deterministic to test.
var now = time.Now

// GetParam reads a message parameter.
func (m *Message) GetParam(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.params[name]
	return v, ok
}

// SetParam writes a message parameter.
func (m *Message) SetParam(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.params == nil {
		m.params = make(map[string]string)
	}
	m.params[name] = value
}

// ClearParam removes a message parameter.
func (m *Message) ClearParam(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.params, name)
}

// CopyParams returns a snapshot copy of all params.
func (m *Message) CopyParams() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// SetHandled records the dispatch outcome.
func (m *Message) SetHandled(handled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = handled
	m.hasHandled = true
}

// Handled returns the dispatch outcome and whether one has been recorded.
func (m *Message) Handled() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handled, m.hasHandled
}

// Age returns how long ago the message was created.
func (m *Message) Age() time.Duration { return now().Sub(m.MsgTime) }

// AppendTrace appends a trace_msg_<N> parameter and bumps
// trace_msg_count, per "trace id propagation".
func (m *Message) AppendTrace(line string) {
	if !m.TraceToMsg {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceMsgSeq++
	key := "trace_msg_" + itoa(m.traceMsgSeq)
	if m.params == nil {
		m.params = make(map[string]string)
	}
	m.params[key] = line
	m.params["trace_msg_count"] = itoa(m.traceMsgSeq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
