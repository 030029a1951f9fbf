package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type snapshotRequestMetrics struct {
	logger        *log.Logger
	start         time.Time
	fetchDuration time.Duration
	tasksReturned int
	board         string
	errorStage    string
}

func newSnapshotRequestMetrics(logger *log.Logger) *snapshotRequestMetrics {
	return &snapshotRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
}

func (m *snapshotRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *snapshotRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *snapshotRequestMetrics) SetBoard(board string) {
	m.board = board
}

func (m *snapshotRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *snapshotRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":          "/api/tasks",
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"tasks_returned": m.tasksReturned,
	}

	if m.board != "" {
		fields["board"] = m.board
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("tasks.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
