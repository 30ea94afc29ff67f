package extension

import (
	"io"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OutputChannel is the extension's log surface. It carries its own level
// and mirrors the host's global level; the effective trace value handed to
// the server is the more verbose of the two.
type OutputChannel struct {
	logger  *zap.Logger
	channel zap.AtomicLevel
	global  zap.AtomicLevel
	changed chan struct{}
}

// NewOutputChannel builds a named channel writing console-encoded lines to
// w. The global level starts at info, matching a freshly started host.
func NewOutputChannel(name string, w io.Writer, level zapcore.Level) *OutputChannel {
	channel := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		channel,
	)
	return &OutputChannel{
		logger:  zap.New(core).Named(name),
		channel: channel,
		global:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		changed: make(chan struct{}, 1),
	}
}

func (o *OutputChannel) Logger() *zap.Logger { return o.logger }

// SetChannelLevel adjusts the output channel's own log level.
func (o *OutputChannel) SetChannelLevel(level zapcore.Level) {
	o.channel.SetLevel(level)
	o.signal()
}

// SetGlobalLevel mirrors the host editor's global log level.
func (o *OutputChannel) SetGlobalLevel(level zapcore.Level) {
	o.global.SetLevel(level)
	o.signal()
}

// Changed signals whenever either level moves. Signals coalesce; consumers
// re-read Effective on each wakeup.
func (o *OutputChannel) Changed() <-chan struct{} { return o.changed }

// Effective projects the most verbose of the two levels onto an LSP trace
// value.
func (o *OutputChannel) Effective() protocol.TraceValue {
	level := o.channel.Level()
	if g := o.global.Level(); g < level {
		level = g
	}
	switch {
	case level <= zapcore.DebugLevel:
		return protocol.TraceVerbose
	case level == zapcore.InfoLevel:
		return protocol.TraceMessage
	default:
		return protocol.TraceOff
	}
}

func (o *OutputChannel) signal() {
	select {
	case o.changed <- struct{}{}:
	default:
	}
}
