// Package monitor periodically reports the state of an open session to a status
// file and an optional exporter.
package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tracelab/startupcal/internal/extraction"
	"github.com/tracelab/startupcal/internal/selection"
)

// Source is the session being monitored.
type Source interface {
	Cursor() *selection.Cursor
	Coordinator() *extraction.Coordinator
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     Source
	Logger     *slog.Logger
	StatusPath string
	Interval   time.Duration

	// Export receives the extraction counters on every tick, e.g. for InfluxDB.
	Export func(rate float64, stats extraction.Stats)
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current session status as display lines
func (s *Service) GetStatus() []string {
	snap := s.deps.Source.Cursor().Snapshot()
	coord := s.deps.Source.Coordinator()
	st := coord.Stats()

	out := []string{
		fmt.Sprintf("cursor: %s at %.3fs", snap.State, snap.Time),
	}
	if snap.Segment != nil {
		out = append(out, fmt.Sprintf("segment: %d (%s) played at %.3fs", snap.Segment.ID, snap.Segment.Quality, snap.Segment.PlayTime))
	} else {
		out = append(out, "segment: none")
	}
	if snap.UserEvent != nil {
		out = append(out, fmt.Sprintf("user event: %s at %.3fs", snap.UserEvent.Type, snap.UserEvent.Time()))
	}
	out = append(out,
		fmt.Sprintf("sample rate: %.2f fps", coord.Rate()),
		fmt.Sprintf("frames cached: %d", coord.Cache().Len()),
		fmt.Sprintf("jobs: %d submitted, %d retries, %d failures, %d frames merged",
			st.Submitted, st.Retries, st.Failures, st.FramesMerged),
	)
	return out
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Source == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor has no source")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				// final report
				s.report(logger)
				return
			case <-ticker.C:
				s.report(logger)
			}
		}
	}()

	return nil
}

func (s *Service) report(logger *slog.Logger) {
	lines := s.GetStatus()

	if s.deps.StatusPath != "" {
		if err := writeStatusFile(s.deps.StatusPath, lines); err != nil {
			logger.Error("Error writing status file", "path", s.deps.StatusPath, "error", err)
		}
	}

	if s.deps.Export != nil {
		coord := s.deps.Source.Coordinator()
		s.deps.Export(coord.Rate(), coord.Stats())
	}
}

func writeStatusFile(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the status monitor and waits for its final report
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
