package logger

import (
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes leveled, namespaced log entries.
type Logger interface {
	Factory

	// Namespace returns the current namespace.
	Namespace() string

	// IsLevelEnabled returns true when level is enabled for the current
	// namespace.
	IsLevelEnabled(level Level) bool

	// Trace adds a log entry with level trace.
	Trace(message string, ctx Ctx)

	// Debug adds a log entry with level debug.
	Debug(message string, ctx Ctx)

	// Info adds a log entry with level info.
	Info(message string, ctx Ctx)

	// Warn adds a log entry with level warn.
	Warn(message string, ctx Ctx)

	// Error adds a log entry with level error. The error may be nil.
	Error(message string, err error, ctx Ctx)
}

// Factory derives new loggers from an existing one.
type Factory interface {
	Ctx() Ctx
	WithCtx(Ctx) Logger
	WithConfig(Config) Logger
	WithFormatter(Formatter) Logger
	WithWriter(io.Writer) Logger
	WithNamespace(namespace string) Logger
	WithNamespaceAppended(namespace string) Logger
}

type logger struct {
	config    Config
	ctx       Ctx
	formatter Formatter
	namespace string
	writer    io.Writer
	mu        *sync.Mutex
}

var _ Logger = &logger{}

// New returns a Logger that logs nothing until WithConfig sets levels for
// namespaces.
func New() Logger {
	return &logger{
		config:    NewConfig(nil),
		ctx:       nil,
		formatter: NewStringFormatter(StringFormatterParams{}),
		namespace: "",
		writer:    os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// NewFromEnv returns a Logger configured from the environment variable
// named key.
func NewFromEnv(key string) Logger {
	return New().WithConfig(NewConfigMapFromString(os.Getenv(key)))
}

func (l *logger) clone() *logger {
	return &logger{
		config:    l.config,
		ctx:       l.ctx,
		formatter: l.formatter,
		namespace: l.namespace,
		writer:    l.writer,
		mu:        l.mu,
	}
}

func (l *logger) Ctx() Ctx {
	return l.ctx
}

func (l *logger) WithCtx(ctx Ctx) Logger {
	ret := l.clone()
	ret.ctx = l.ctx.WithCtx(ctx)

	return ret
}

func (l *logger) WithConfig(config Config) Logger {
	ret := l.clone()
	ret.config = config

	return ret
}

func (l *logger) WithFormatter(formatter Formatter) Logger {
	ret := l.clone()
	ret.formatter = formatter

	return ret
}

func (l *logger) WithWriter(writer io.Writer) Logger {
	ret := l.clone()
	ret.writer = writer

	return ret
}

func (l *logger) WithNamespace(namespace string) Logger {
	ret := l.clone()
	ret.namespace = namespace

	return ret
}

func (l *logger) WithNamespaceAppended(namespace string) Logger {
	ret := l.clone()

	if l.namespace != "" {
		ret.namespace = l.namespace + ":" + namespace
	} else {
		ret.namespace = namespace
	}

	return ret
}

func (l *logger) Namespace() string {
	return l.namespace
}

func (l *logger) IsLevelEnabled(level Level) bool {
	return l.config.LevelForNamespace(l.namespace) >= level
}

func (l *logger) log(level Level, body string, err error, ctx Ctx) {
	if !l.IsLevelEnabled(level) {
		return
	}

	entry, fmtErr := l.formatter.Format(Message{
		Timestamp: time.Now(),
		Level:     level,
		Namespace: l.namespace,
		Body:      body,
		Err:       err,
		Ctx:       l.ctx.WithCtx(ctx),
	})
	if fmtErr != nil {
		return
	}

	l.mu.Lock()
	_, _ = l.writer.Write(entry)
	l.mu.Unlock()
}

func (l *logger) Trace(message string, ctx Ctx) {
	l.log(LevelTrace, message, nil, ctx)
}

func (l *logger) Debug(message string, ctx Ctx) {
	l.log(LevelDebug, message, nil, ctx)
}

func (l *logger) Info(message string, ctx Ctx) {
	l.log(LevelInfo, message, nil, ctx)
}

func (l *logger) Warn(message string, ctx Ctx) {
	l.log(LevelWarn, message, nil, ctx)
}

func (l *logger) Error(message string, err error, ctx Ctx) {
	l.log(LevelError, message, err, ctx)
}
