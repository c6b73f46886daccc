package logger

import "go.uber.org/zap"

// Symbol-aware logging helpers.
// These functions log with the symbol as a structured field, not in the message.
//
// Usage:
//
//	// Instead of:
//	logger.Infow(QueueSymbol + " job claimed", "job_id", id)
//
//	// Use:
//	logger.QueueInfow("job claimed", "job_id", id)
//
// This makes logs queryable by symbol and keeps messages clean.

const (
	QueueSymbol     = "⊡" // priority queue / staged queue
	VaultSymbol     = "⊔" // vault store/facade writes
	BusSymbol       = "✺" // change bus events
	ChatSymbol      = "⋈" // chat handler / upstream bridge
	GatewaySymbol   = "❀" // gateway lifecycle
)

// QueueInfow logs an info message with the queue symbol.
func QueueInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, QueueSymbol}, keysAndValues...)...)
	}
}

// QueueDebugw logs a debug message with the queue symbol.
func QueueDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, append([]interface{}{FieldSymbol, QueueSymbol}, keysAndValues...)...)
	}
}

// VaultInfow logs an info message with the vault symbol.
func VaultInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, VaultSymbol}, keysAndValues...)...)
	}
}

// VaultWarnw logs a warning message with the vault symbol.
func VaultWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, append([]interface{}{FieldSymbol, VaultSymbol}, keysAndValues...)...)
	}
}

// BusDebugw logs a debug message with the change bus symbol.
func BusDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, append([]interface{}{FieldSymbol, BusSymbol}, keysAndValues...)...)
	}
}

// ChatInfow logs an info message with the chat symbol.
func ChatInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, ChatSymbol}, keysAndValues...)...)
	}
}

// GatewayInfow logs an info message with the gateway symbol.
func GatewayInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, GatewaySymbol}, keysAndValues...)...)
	}
}

// WithSymbol returns a logger with the given symbol as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// SymbolInfow logs with any symbol - for dynamic symbol usage.
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, append([]interface{}{FieldSymbol, symbol}, keysAndValues...)...)
	}
}
