package pollengine

import "time"

// Logger defines the logging interface used by the engine.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use; every host's poll goroutine reports independently.
type Metrics interface {
	ObservePoll(host string, d time.Duration, err error)
	StateChanged(host string, from, to ServerState)
	SetActiveFields(host string, n int)
	SetServers(n int)
	ServerPruned(host string)
	FieldsPruned(host string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ObservePoll(string, time.Duration, error)     {}
func (noopMetrics) StateChanged(string, ServerState, ServerState) {}
func (noopMetrics) SetActiveFields(string, int)                   {}
func (noopMetrics) SetServers(int)                                {}
func (noopMetrics) ServerPruned(string)                           {}
func (noopMetrics) FieldsPruned(string, int)                      {}

// FieldChange describes one field whose cached value or state changed.
type FieldChange struct {
	Host    string
	Moniker string
	Field   FieldDef
	Reading Reading
}

// ValueSink receives changed field values from the poll goroutines. It is
// called with no lock held and must not block.
type ValueSink interface {
	FieldsChanged(changes []FieldChange)
}

type noopSink struct{}

func (noopSink) FieldsChanged([]FieldChange) {}
