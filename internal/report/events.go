package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStart EventType = "run_start"
	EventSetup    EventType = "setup"
	EventEntity   EventType = "entity"
	EventRow      EventType = "row"
	EventRunEnd   EventType = "run_end"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Entity outcomes
const (
	OutcomeFound   = "found"
	OutcomeCreated = "created"
)

// Event represents a single event of a load run
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Row       int               `json:"row,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	ID        string            `json:"id,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	State     string            `json:"state,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// SetRunID stamps every following event with runID
func (l *EventLogger) SetRunID(runID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = runID
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRunStart logs the start of a run
func (l *EventLogger) LogRunStart(source, variant, endpoint string, rows int) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventRunStart,
		Extra: map[string]string{
			"source":   source,
			"schema":   variant,
			"endpoint": endpoint,
			"rows":     fmt.Sprintf("%d", rows),
		},
	})
}

// LogSetup logs an identity record or tag class resolved during setup
func (l *EventLogger) LogSetup(kind, id string, created bool, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventSetup,
		Kind:     kind,
		ID:       id,
		Outcome:  outcome(created),
		Duration: duration.Milliseconds(),
	})
}

// LogEntity logs a gig or song resolved for a row
func (l *EventLogger) LogEntity(row int, kind, id string, created bool, duration time.Duration) error {
	level := LevelDebug
	if created {
		level = LevelInfo
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventEntity,
		Row:      row,
		Kind:     kind,
		ID:       id,
		Outcome:  outcome(created),
		Duration: duration.Milliseconds(),
	})
}

// LogRow logs a processed row and the performance written for it
func (l *EventLogger) LogRow(row int, performanceID string, tagIDs []string, duration time.Duration) error {
	event := &Event{
		Level:    LevelInfo,
		Event:    EventRow,
		Row:      row,
		Kind:     "performance",
		ID:       performanceID,
		Outcome:  OutcomeCreated,
		Duration: duration.Milliseconds(),
	}
	if len(tagIDs) > 0 {
		event.Extra = map[string]string{"tags": fmt.Sprintf("%d", len(tagIDs))}
	}
	return l.Log(event)
}

// LogRunEnd logs the terminal state of a run
func (l *EventLogger) LogRunEnd(state string, processed int, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventRunEnd,
		State:    state,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
		Extra: map[string]string{
			"processed": fmt.Sprintf("%d", processed),
		},
	})
}

// LogError logs an error event. row is 0 for failures outside a row.
func (l *EventLogger) LogError(row int, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: EventError,
		Row:   row,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}

func outcome(created bool) string {
	if created {
		return OutcomeCreated
	}
	return OutcomeFound
}

// ReadEvents loads every event of a JSONL event log
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	return events, nil
}

// LatestEventLog returns the newest events-*.jsonl file in dir
func LatestEventLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no event logs in %s", dir)
	}

	// Timestamped names sort chronologically
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
