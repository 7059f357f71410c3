package async

import "strings"

// IngestStage is the coarse ingestion stage reported to search clients,
// derived from the free-form progress events the ingestion pipeline emits.
type IngestStage string

const (
	IngestCloning  IngestStage = "CLONING"
	IngestParsing  IngestStage = "PARSING"
	IngestIndexing IngestStage = "INDEXING"
	IngestComplete IngestStage = "COMPLETE"
	IngestFailed   IngestStage = "FAILED"
)

// ProgressEvent is one element of the ingestion progress stream: a raw
// stage label, a human-readable message, and a fraction in [0,1].
type ProgressEvent struct {
	Stage    string  `json:"stage"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// ClassifyStage maps a progress event onto an IngestStage by keyword
// matching on the message, falling back to progress thresholds when no
// keyword matches.
//
// The precedence is fixed: clone, parse, index, complete, failed, then the
// progress fallback. Note the index rule also matches "chunk", so a message
// mentioning chunks during cloning classifies as INDEXING; the ordering is
// kept as-is because clients key off it.
func ClassifyStage(e ProgressEvent) IngestStage {
	msg := strings.ToLower(e.Message + " " + e.Stage)

	switch {
	case strings.Contains(msg, "clon") || strings.Contains(msg, "fetch"):
		return IngestCloning
	case strings.Contains(msg, "pars"):
		return IngestParsing
	case strings.Contains(msg, "index") || strings.Contains(msg, "chunk") || strings.Contains(msg, "embed"):
		return IngestIndexing
	case strings.Contains(msg, "complete") || strings.Contains(msg, "done") || strings.Contains(msg, "ready"):
		return IngestComplete
	case strings.Contains(msg, "fail") || strings.Contains(msg, "error"):
		return IngestFailed
	}

	switch {
	case e.Progress >= 1.0:
		return IngestComplete
	case e.Progress >= 0.5:
		return IngestIndexing
	case e.Progress >= 0.25:
		return IngestParsing
	default:
		return IngestCloning
	}
}

// IngestStage classifies the snapshot into the coarse ingestion stage.
func (s IndexProgressSnapshot) IngestStage() IngestStage {
	if s.Status == string(StatusError) {
		return IngestFailed
	}
	if s.Status == string(StatusReady) {
		return IngestComplete
	}
	return ClassifyStage(ProgressEvent{
		Stage:    s.Stage,
		Message:  s.ErrorMessage,
		Progress: s.ProgressPct / 100,
	})
}
