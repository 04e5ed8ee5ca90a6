package ingestion

import (
	"sync"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

// maxStoredErrorsPerShape bounds the rejection details kept per shape. Counts stay exact;
// a shape beyond this is most likely a malformed file.
const maxStoredErrorsPerShape = 100

// ShapeErrorMap aggregates record-level errors of one run.
type ShapeErrorMap struct {
	Mu     sync.Mutex
	Errors map[models.Shape][]*models.RecordError
	Counts map[models.Shape]int
}

func (m *ShapeErrorMap) add(recErr *models.RecordError) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Counts[recErr.Shape]++
	if len(m.Errors[recErr.Shape]) >= maxStoredErrorsPerShape {
		return false
	}
	m.Errors[recErr.Shape] = append(m.Errors[recErr.Shape], recErr)
	return true
}

// Count returns the number of rejected records of shape, including the ones not stored.
func (m *ShapeErrorMap) Count(shape models.Shape) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Counts[shape]
}

// RunChannels are the channels shared by the workers of one run.
type RunChannels struct {
	Errors chan *models.RecordError
}

type SetupReturn struct {
	Channels      *RunChannels
	ErrorWorkerWg *sync.WaitGroup
	ShapeErrors   *ShapeErrorMap
}

func (s SetupReturn) GetValues() (*RunChannels, *sync.WaitGroup, *ShapeErrorMap) {
	return s.Channels, s.ErrorWorkerWg, s.ShapeErrors
}

type ISetup interface {
	build() (SetupReturn, error)
}

type Setup struct{}

// Instantiate the channels and data structures of one run.
// Kept in its own type to be able to leverage DI for testing
func (h Setup) build() (SetupReturn, error) {
	var errorWg sync.WaitGroup
	return SetupReturn{
		Channels:      &RunChannels{Errors: make(chan *models.RecordError, 100)},
		ErrorWorkerWg: &errorWg,
		ShapeErrors: &ShapeErrorMap{
			Errors: make(map[models.Shape][]*models.RecordError),
			Counts: make(map[models.Shape]int),
		},
	}, nil
}
