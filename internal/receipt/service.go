package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/vatrix/internal/scanning"
)

var (
	ErrRunInProgress    = errors.New("analysis already in progress")
	ErrCompanyRequired  = errors.New("company name and country are required")
	ErrNothingToProcess = errors.New("no files to process")
)

// IDGenerator generates unique IDs for queued files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Runner processes a batch of files, reporting every change through onUpdate
type Runner interface {
	Run(ctx context.Context, files []QueuedFile, company CompanyDetails, onUpdate UpdateFunc)
}

// Service is one upload session: the queue, the company details and at most one run
type Service struct {
	queue      *Queue
	runner     Runner
	events     *Hub
	timeSource TimeSource

	mu      sync.Mutex
	company CompanyDetails
	running bool
}

// NewService creates a new Service with default ID generator and time source
func NewService(runner Runner) *Service {
	return NewServiceWithDeps(runner, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(runner Runner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		queue:      NewQueue(idGen),
		runner:     runner,
		events:     NewHub(),
		timeSource: timeSrc,
	}
}

// Events returns the hub that receives every file and run update
func (s *Service) Events() *Hub {
	return s.events
}

// AddFiles validates files and enqueues the accepted ones.
// The returned error is a *ValidationError naming each rejected file; accepted files are
// enqueued either way.
func (s *Service) AddFiles(files []File) ([]QueuedFile, error) {
	accepted, err := PartitionFiles(files)
	added := s.queue.Add(accepted...)
	for _, qf := range added {
		s.events.Publish(fileEvent(qf))
	}
	if len(added) > 0 {
		slog.Info("Files queued", "count", len(added))
	}
	return added, err
}

// RemoveFile removes a file that is not being processed
func (s *Service) RemoveFile(id string) error {
	if err := s.queue.Remove(id); err != nil {
		return fmt.Errorf("removing file %s: %w", id, err)
	}
	return nil
}

// Clear removes every file. It is refused while a run is in progress.
func (s *Service) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunInProgress
	}
	s.queue.Clear()
	return nil
}

// SetCompany replaces the company details. It is refused while a run is in progress.
func (s *Service) SetCompany(c CompanyDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunInProgress
	}
	s.company = CompanyDetails{
		Name:    strings.TrimSpace(c.Name),
		Country: strings.TrimSpace(c.Country),
		VATID:   strings.TrimSpace(c.VATID),
		Email:   strings.TrimSpace(c.Email),
	}
	return nil
}

// Company returns the current company details
func (s *Service) Company() CompanyDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.company
}

// Running reports whether a run is in progress
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartAnalysis runs every queued or failed file in queue order on a new goroutine.
// The returned channel is closed once every file in the run has settled.
func (s *Service) StartAnalysis(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrRunInProgress
	}
	if s.company.Name == "" || s.company.Country == "" {
		return nil, ErrCompanyRequired
	}
	files := s.queue.Pending()
	if len(files) == 0 {
		return nil, ErrNothingToProcess
	}
	s.running = true
	company := s.company

	slog.Info("Starting analysis", "files", len(files), "company", company.Name)
	s.events.Publish(runEvent(true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		started := s.timeSource.Now()
		s.runner.Run(ctx, files, company, s.apply)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.events.Publish(runEvent(false))
		slog.Info("Analysis finished", "files", len(files), "duration", s.timeSource.Now().Sub(started))
	}()
	return done, nil
}

// Analyze runs StartAnalysis and waits for the run to finish
func (s *Service) Analyze(ctx context.Context) error {
	done, err := s.StartAnalysis(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// apply is the single sink for pipeline updates
func (s *Service) apply(id string, status Status, progress int, result *ProcessedResult, errMsg string) {
	qf, ok := s.queue.Update(id, status, progress, result, errMsg)
	if !ok {
		slog.Debug("Update for removed file ignored", "id", id)
		return
	}
	s.events.Publish(fileEvent(qf))
}

// Files returns the queue in display order
func (s *Service) Files() []QueuedFile {
	return s.queue.Snapshot()
}

// File returns a single queued file
func (s *Service) File(id string) (QueuedFile, error) {
	qf, ok := s.queue.Get(id)
	if !ok {
		return QueuedFile{}, ErrFileNotFound
	}
	return qf, nil
}

// Summary computes the statistics for the current queue
func (s *Service) Summary() Summary {
	return Summarize(s.queue.Snapshot())
}

// ExportJSON renders the JSON export of the current queue
func (s *Service) ExportJSON() ([]byte, error) {
	return ExportJSON(s.queue.Snapshot(), s.Company(), s.timeSource.Now())
}

// ExportCSV renders the CSV export of the current queue
func (s *Service) ExportCSV() []byte {
	return ExportCSV(s.queue.Snapshot())
}

// ExportXLSX renders the workbook export of the current queue
func (s *Service) ExportXLSX() ([]byte, error) {
	return ExportXLSX(s.queue.Snapshot(), s.Company(), s.timeSource.Now())
}

// ExportFilename returns the download name for format using the service clock
func (s *Service) ExportFilename(format string) string {
	return ExportFilename(format, s.timeSource.Now())
}

// Preview renders a PNG preview of a queued file
func (s *Service) Preview(id string) ([]byte, error) {
	qf, err := s.File(id)
	if err != nil {
		return nil, err
	}
	doc, err := scanning.ReadDocument(qf.File.Name, qf.File.ContentType, qf.File.Source)
	if err != nil {
		return nil, err
	}

	png, err := scanning.RenderPreview(doc.Data, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("rendering preview: %w", err)
	}
	return png, nil
}
