// Package survey schedules wireless network surveys and publishes their
// results. The scan itself runs elsewhere; the scheduler only polls it.
package survey

import (
	"encoding/json"
	"log/slog"
	"time"

	"gpio-go-home/internal/wifi"
)

// State of the survey state machine.
type State int

const (
	Idle State = iota
	InProgress
	ResultsReady
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in_progress"
	case ResultsReady:
		return "results_ready"
	}
	return "unknown"
}

// Scanner is the asynchronous survey primitive. None of its methods may block.
type Scanner interface {
	Start() error
	Complete() (done bool, networks []wifi.Network, err error)
	Release()
}

// Publisher delivers a payload to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Result is the published survey payload.
type Result struct {
	Networks []wifi.Network `json:"networks"`
}

// Scheduler owns the survey state. It is not safe for concurrent use and is
// driven from the device loop only.
type Scheduler struct {
	scanner Scanner
	pub     Publisher
	topic   string
	logger  *slog.Logger

	state    State
	lastRun  time.Time
	started  bool
	onResult func(Result)
}

// New creates a scheduler publishing results to topic.
func New(scanner Scanner, pub Publisher, topic string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scanner: scanner,
		pub:     pub,
		topic:   topic,
		logger:  logger.With("component", "survey"),
	}
}

// OnResult registers a callback invoked after every published result.
func (s *Scheduler) OnResult(fn func(Result)) {
	s.onResult = fn
}

// State returns the current survey state.
func (s *Scheduler) State() State { return s.state }

// RequestSurvey starts a survey when idle. It reports whether a survey was
// started; a request while one is running is dropped.
func (s *Scheduler) RequestSurvey() bool {
	if s.state != Idle {
		s.logger.Debug("survey already in progress, request suppressed")
		return false
	}
	if err := s.scanner.Start(); err != nil {
		s.logger.Warn("start survey", "err", err)
		s.publish(nil)
		return false
	}
	s.state = InProgress
	s.logger.Info("survey started")
	return true
}

// Poll checks the running survey and publishes its results once complete.
func (s *Scheduler) Poll() {
	if s.state != InProgress {
		return
	}
	done, networks, err := s.scanner.Complete()
	if !done {
		return
	}
	s.state = ResultsReady
	if err != nil {
		s.logger.Warn("survey failed", "err", err)
		networks = nil
	}
	s.publish(networks)
	s.scanner.Release()
	s.state = Idle
}

// CadenceDue reports whether interval has elapsed since the last
// cadence-triggered survey. The first call after start only arms the timer.
func (s *Scheduler) CadenceDue(now time.Time, interval time.Duration) bool {
	if !s.started {
		s.started = true
		s.lastRun = now
		return false
	}
	return now.Sub(s.lastRun) >= interval
}

// RunCadence triggers a survey if the cadence is due.
func (s *Scheduler) RunCadence(now time.Time, interval time.Duration) {
	if !s.CadenceDue(now, interval) {
		return
	}
	s.lastRun = now
	s.RequestSurvey()
}

func (s *Scheduler) publish(networks []wifi.Network) {
	res := Result{Networks: make([]wifi.Network, 0, len(networks))}
	res.Networks = append(res.Networks, networks...)
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("marshal survey result", "err", err)
		return
	}
	if err := s.pub.Publish(s.topic, data, false); err != nil {
		s.logger.Warn("publish survey result", "err", err)
	} else {
		s.logger.Info("survey result published", "networks", len(res.Networks))
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}
