package notify

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

type Kind int

const (
	KindUnknown Kind = iota

	KindChecksumValid
	KindMissingInstalledComponent
	KindDownloadingComponent
	KindInstallingComponent
	KindRemovingComponent
	KindExtractingComponent
	KindCreatingDirectory
	KindDownloadContentLength
	KindDownloadDataReceived
	KindDownloadRetry
	KindTransactionCommitted
	KindRollingBack
	KindRollbackFailed
	KindTempCleanupFailed
)

var kindNames = map[Kind]string{
	KindChecksumValid:             "ChecksumValid",
	KindMissingInstalledComponent: "MissingInstalledComponent",
	KindDownloadingComponent:      "DownloadingComponent",
	KindInstallingComponent:       "InstallingComponent",
	KindRemovingComponent:         "RemovingComponent",
	KindExtractingComponent:       "ExtractingComponent",
	KindCreatingDirectory:         "CreatingDirectory",
	KindDownloadContentLength:     "DownloadContentLength",
	KindDownloadDataReceived:      "DownloadDataReceived",
	KindDownloadRetry:             "DownloadRetry",
	KindTransactionCommitted:      "TransactionCommitted",
	KindRollingBack:               "RollingBack",
	KindRollbackFailed:            "RollbackFailed",
	KindTempCleanupFailed:         "TempCleanupFailed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelWarn
	LevelError
)

var defaultLevels = map[Kind]Level{
	KindChecksumValid:             LevelVerbose,
	KindMissingInstalledComponent: LevelWarn,
	KindDownloadingComponent:      LevelInfo,
	KindInstallingComponent:       LevelInfo,
	KindRemovingComponent:         LevelInfo,
	KindExtractingComponent:       LevelVerbose,
	KindCreatingDirectory:         LevelVerbose,
	KindDownloadContentLength:     LevelDebug,
	KindDownloadDataReceived:      LevelDebug,
	KindDownloadRetry:             LevelWarn,
	KindTransactionCommitted:      LevelVerbose,
	KindRollingBack:               LevelInfo,
	KindRollbackFailed:            LevelError,
	KindTempCleanupFailed:         LevelWarn,
}

// Notification is a progress or diagnostic event. Fields are key/value pairs.
type Notification struct {
	Kind    Kind
	Level   Level
	Message string
	Fields  []any
}

func New(k Kind, msg string, fields ...any) Notification {
	lvl, ok := defaultLevels[k]
	if !ok {
		lvl = LevelInfo
	}
	return Notification{Kind: k, Level: lvl, Message: msg, Fields: fields}
}

// Sink receives notifications. Nothing observable may depend on what a Sink does with them.
type Sink interface {
	Notify(Notification)
}

type NopSink struct{}

func (NopSink) Notify(Notification) {}

// LogSink forwards notifications to a charm logger.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(n Notification) {
	kv := append([]any{"event", n.Kind.String()}, n.Fields...)
	switch n.Level {
	case LevelDebug, LevelVerbose:
		s.logger.Debug(n.Message, kv...)
	case LevelInfo:
		s.logger.Info(n.Message, kv...)
	case LevelWarn:
		s.logger.Warn(n.Message, kv...)
	default:
		s.logger.Error(n.Message, kv...)
	}
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu    sync.Mutex
	Items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, n)
}

func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.Items))
	for _, n := range r.Items {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func (r *Recorder) Has(k Kind) bool {
	for _, got := range r.Kinds() {
		if got == k {
			return true
		}
	}
	return false
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

func OrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}
