package connkit

import (
	"strconv"
	"sync"
	"sync/atomic"
)

//***************************************************************************
// Level
//***************************************************************************

// Level defines different level warnings for giving
// log events.
type Level uint8

// constants of log levels this package respect.
// They are capitalize to ensure no naming conflict.
const (
	INFO Level = 1 << iota
	DEBUG
	WARN
	ERROR
)

// String implements the Stringer interface.
func (l Level) String() string {
	switch l {
	case INFO:
		return "INFO"
	case ERROR:
		return "ERROR"
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	}
	return "UNKNOWN"
}

// LogMessage defines an interface which exposes a method for retrieving
// log details for giving log item.
type LogMessage interface {
	Message() string
}

// Message implements the LogMessage interface for a plain string.
type Message string

// Message returns the string value of Message.
func (m Message) Message() string {
	return string(m)
}

// Logs defines an acceptable logging interface which all elements and sub packages
// will respect and use to deliver logs for different parts and ops, this frees
// this package from specifying or locking a giving implementation. Implement this
// and pass in to elements that provide for it.
type Logs interface {
	Emit(Level, LogMessage)
}

// DrainLog implements the Logs interface and discards everything.
type DrainLog struct{}

// Emit does nothing with provided arguments.
func (DrainLog) Emit(_ Level, _ LogMessage) {}

//***************************************************************************
// LogEvent
//***************************************************************************

var logEventPool = sync.Pool{
	New: func() interface{} {
		return &LogEvent{content: make([]byte, 0, 256)}
	},
}

// LogEvent builds a low-allocation json log line from a message and a set of
// key-value pairs. Each LogEvent comes from an internal pool and must not be
// used after one of its Write methods or Message was called.
type LogEvent struct {
	r       uint32
	content []byte
}

// LogMsg requests allocation for a *LogEvent from the internal pool returning it
// for use, it must be finished with Message or one of the Write methods.
func LogMsg(message string) *LogEvent {
	event := logEventPool.Get().(*LogEvent)
	atomic.StoreUint32(&event.r, 1)
	event.content = append(event.content[:0], '{')
	return event.String("message", message)
}

// String adds a field name with string value.
func (l *LogEvent) String(name string, value string) *LogEvent {
	l.add(name, strconv.Quote(value))
	return l
}

// Bool adds a field name with bool value.
func (l *LogEvent) Bool(name string, value bool) *LogEvent {
	l.add(name, strconv.FormatBool(value))
	return l
}

// Int adds a field name with int value.
func (l *LogEvent) Int(name string, value int) *LogEvent {
	l.add(name, strconv.Itoa(value))
	return l
}

// Int64 adds a field name with int64 value.
func (l *LogEvent) Int64(name string, value int64) *LogEvent {
	l.add(name, strconv.FormatInt(value, 10))
	return l
}

// Error adds the error message under the "error" field, nil errors are skipped.
func (l *LogEvent) Error(err error) *LogEvent {
	if err == nil {
		return l
	}
	return l.String("error", err.Error())
}

// Message returns the generated JSON of giving *LogEvent and releases it.
func (l *LogEvent) Message() string {
	if atomic.LoadUint32(&l.r) == 0 {
		panic("Re-using released *LogEvent")
	}

	l.content = append(l.content, '}')
	msg := string(l.content)

	atomic.StoreUint32(&l.r, 0)
	l.content = l.content[:0]
	logEventPool.Put(l)
	return msg
}

// Write delivers giving log event as a generated message.
func (l *LogEvent) Write(level Level, logs Logs) {
	if logs == nil {
		l.Message()
		return
	}
	logs.Emit(level, Message(l.Message()))
}

// WriteDebug writes the event at DEBUG level.
func (l *LogEvent) WriteDebug(logs Logs) {
	l.Write(DEBUG, logs)
}

// WriteInfo writes the event at INFO level.
func (l *LogEvent) WriteInfo(logs Logs) {
	l.Write(INFO, logs)
}

// WriteWarn writes the event at WARN level.
func (l *LogEvent) WriteWarn(logs Logs) {
	l.Write(WARN, logs)
}

// WriteError writes the event at ERROR level.
func (l *LogEvent) WriteError(logs Logs) {
	l.Write(ERROR, logs)
}

func (l *LogEvent) add(name string, value string) {
	if atomic.LoadUint32(&l.r) == 0 {
		panic("Re-using released *LogEvent")
	}

	if len(l.content) > 1 {
		l.content = append(l.content, ", "...)
	}
	l.content = strconv.AppendQuote(l.content, name)
	l.content = append(l.content, ": "...)
	l.content = append(l.content, value...)
}
