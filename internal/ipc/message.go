package ipc

import (
	"github.com/neur0map/yinx/internal/types"
)

// Kind tags the type of an inbound Request's payload.
type Kind string

const (
	KindCapture  Kind = "capture"
	KindQuery    Kind = "query"
	KindStatus   Kind = "status"
	KindShutdown Kind = "shutdown"
)

// Request is the envelope for every inbound IPC message. Exactly one
// of the payload fields is populated, selected by Kind.
type Request struct {
	Kind    Kind            `json:"kind"`
	Capture *CaptureRequest `json:"capture,omitempty"`
	Query   *QueryRequest   `json:"query,omitempty"`
}

// CaptureRequest submits one executed command and points at a file
// holding its captured output. Output travels by path, not inline, so
// intake can stat the file and enforce storage.max_blob_size before
// ever reading or enqueueing it (spec.md §4.2: "output_path is
// readable and bounded... validated before enqueue").
type CaptureRequest struct {
	SessionName string `json:"session_name"`
	Command     string `json:"command"`
	Cwd         string `json:"cwd"`
	ExitCode    int    `json:"exit_code"`
	OutputPath  string `json:"output_path"`
}

// QueryRequest asks the hybrid retriever for the top matches to Text.
type QueryRequest struct {
	Text    string         `json:"text"`
	Filters types.Filters  `json:"filters,omitempty"`
}

// Response is the envelope for every outbound IPC message: either Ok's
// payload or Err is populated. A degraded search is the one case with
// both: Ok is true, Query holds the results, and Err carries the
// degraded_search kind.
type Response struct {
	Ok    bool             `json:"ok"`
	Err   *ErrorPayload    `json:"error,omitempty"`
	Capture *CaptureResult `json:"capture,omitempty"`
	Query   *QueryResult   `json:"query,omitempty"`
	Status  *StatusResult  `json:"status,omitempty"`
}

// ErrorPayload carries a classified failure back to the client.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CaptureResult acknowledges one ingested capture.
type CaptureResult struct {
	CaptureID string `json:"capture_id"`
	Accepted  bool   `json:"accepted"`
}

// QueryResult carries the ranked hits for one search.
type QueryResult struct {
	Chunks []types.ScoredChunk `json:"chunks"`
}

// StatusResult summarizes daemon health and queue depth for
// operational visibility over the IPC channel.
type StatusResult struct {
	QueueDepth        int     `json:"queue_depth"`
	CapturesAccepted  float64 `json:"captures_accepted"`
	CapturesRejected  float64 `json:"captures_rejected"`
	CapturesFailed    float64 `json:"captures_failed"`
	ChunksEmitted     float64 `json:"chunks_emitted"`
	EntitiesExtracted float64 `json:"entities_extracted"`
}

// OkResponse wraps a successful payload.
func OkResponse() Response { return Response{Ok: true} }

// ErrResponse wraps a classified error for the client.
func ErrResponse(kind, message string) Response {
	return Response{Ok: false, Err: &ErrorPayload{Kind: kind, Message: message}}
}
