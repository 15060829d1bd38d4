package pipeline

import (
	"errors"

	"github.com/JakeFAU/hidden-spot/internal/crawler"
	"github.com/JakeFAU/hidden-spot/internal/keys"
	"github.com/JakeFAU/hidden-spot/internal/lake"
	"github.com/JakeFAU/hidden-spot/internal/quality"
	"github.com/JakeFAU/hidden-spot/internal/store"
)

// Kind is the closed set of run outcomes the worker acts on.
type Kind int

// Outcome kinds.
const (
	Succeeded Kind = iota
	// Retryable failures may succeed on a fresh run of the same job.
	Retryable
	// Fatal failures will fail again; the worker must not retry them.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Values written to a failed snapshot's error_type.
const (
	ErrorTypeCrawl       = "crawl_error"
	ErrorTypeDataQuality = "data_quality_error"
	ErrorTypeStorage     = "storage_error"
	ErrorTypeRelational  = "relational_error"
	ErrorTypeAnalysis    = "analysis_error"
	ErrorTypeInternal    = "internal_error"
)

// Stage names used in error_stage, the event log and spans.
const (
	StageCrawl   = "crawl"
	StageParse   = "parse"
	StageDQ      = "dq"
	StageLLM     = "llm"
	StageServing = "serving"
)

// Outcome is the result of one Run.
type Outcome struct {
	Kind      Kind
	RunID     string
	ErrorType string
	Stage     string
	GoldPath  string
	Err       error
}

// stageError tags an error with the stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

// atStage tags err with stage unless an inner stage is already recorded.
func atStage(stage string, err error) error {
	if err == nil || stageOf(err) != "" {
		return err
	}
	return &stageError{stage: stage, err: err}
}

// Classify maps err onto an error_type and outcome kind. Data-quality
// failures and malformed jobs are fatal; everything else is retryable.
func Classify(err error) (string, Kind) {
	var (
		dq    *quality.DQError
		rel   *store.RelationalError
		stor  *lake.StorageError
		crawl *crawler.TransientError
		stage *stageError
	)
	switch {
	case errors.As(err, &dq):
		return ErrorTypeDataQuality, Fatal
	case errors.Is(err, keys.ErrInvalidKeyInput), errors.Is(err, errInvalidJob):
		return ErrorTypeInternal, Fatal
	case errors.As(err, &rel):
		return ErrorTypeRelational, Retryable
	case errors.As(err, &stor), errors.Is(err, lake.ErrObjectNotFound):
		return ErrorTypeStorage, Retryable
	case errors.As(err, &crawl):
		return ErrorTypeCrawl, Retryable
	case errors.As(err, &stage):
		switch stage.stage {
		case StageCrawl:
			return ErrorTypeCrawl, Retryable
		case StageLLM:
			return ErrorTypeAnalysis, Retryable
		}
	}
	return ErrorTypeInternal, Retryable
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}
