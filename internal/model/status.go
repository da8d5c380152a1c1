package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage is the machine-readable state of a file's latest attempt.
type Stage string

const (
	StagePending   Stage = "pending" // read default only, never written
	StageUploading Stage = "uploading"
	StageSubmitted Stage = "submitted"
	StageDone      Stage = "done"
	StageError     Stage = "error"
	StageUnknown   Stage = "unknown" // unparseable stored record
)

// Human-readable status messages written by the pipeline.
const (
	StatusPending           = "Pending"
	StatusUploadingStarted  = "Uploading started"
	StatusUploadingComplete = "Uploading completed"
	StatusUploadError       = "Upload error"
	StatusUploadAbandoned   = "Upload abandoned"
	StatusJobSubmitted      = "Job submitted"
	StatusConverted         = "Converted"
	StatusServiceError      = "Flask error"
	StatusResponseError     = "Flask response error"
	StatusNoOutput          = "No output returned"
	StatusTriggerError      = "Trigger error"
)

func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StageUploading, StageSubmitted, StageDone, StageError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// Terminal reports whether no further automatic transition follows this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

// StatusRecord is the single-slot status of a file. Records are built through
// the stage constructors below so that a done record always carries output.
type StatusRecord struct {
	Status    string
	Stage     Stage
	Timestamp time.Time
	PesURL    *string
	DstURL    *string
}

func Pending() StatusRecord {
	return StatusRecord{Status: StatusPending, Stage: StagePending}
}

func Uploading() StatusRecord {
	return newRecord(StatusUploadingStarted, StageUploading)
}

// Uploaded marks the end of a successful upload. The upload pipeline reports
// completion with the done stage.
func Uploaded() StatusRecord {
	return newRecord(StatusUploadingComplete, StageDone)
}

func Submitted() StatusRecord {
	return newRecord(StatusJobSubmitted, StageSubmitted)
}

// Converted returns a done record, or a "No output returned" error record when
// neither output is present.
func Converted(pesURL, dstURL *string) StatusRecord {
	pesURL, dstURL = nonEmpty(pesURL), nonEmpty(dstURL)
	if pesURL == nil && dstURL == nil {
		return Failed(StatusNoOutput)
	}
	rec := newRecord(StatusConverted, StageDone)
	rec.PesURL = pesURL
	rec.DstURL = dstURL
	return rec
}

func Failed(status string) StatusRecord {
	return newRecord(status, StageError)
}

// Custom builds a record from an externally supplied status/stage pair.
func Custom(status string, stage Stage) StatusRecord {
	return newRecord(status, stage)
}

func newRecord(status string, stage Stage) StatusRecord {
	return StatusRecord{Status: status, Stage: stage, Timestamp: time.Now().UTC()}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

type statusJSON struct {
	Status    string  `json:"status"`
	Stage     Stage   `json:"stage"`
	Timestamp *string `json:"timestamp"`
	PesURL    *string `json:"pesUrl,omitempty"`
	DstURL    *string `json:"dstUrl,omitempty"`
}

func (r StatusRecord) MarshalJSON() ([]byte, error) {
	out := statusJSON{Status: r.Status, Stage: r.Stage, PesURL: r.PesURL, DstURL: r.DstURL}
	if !r.Timestamp.IsZero() {
		ts := r.Timestamp.Format(time.RFC3339Nano)
		out.Timestamp = &ts
	}
	if r.Stage == StageDone && (r.PesURL != nil || r.DstURL != nil) {
		// converted records always expose both keys, null when absent
		return json.Marshal(struct {
			Status    string  `json:"status"`
			Stage     Stage   `json:"stage"`
			Timestamp *string `json:"timestamp"`
			PesURL    *string `json:"pesUrl"`
			DstURL    *string `json:"dstUrl"`
		}(out))
	}
	return json.Marshal(out)
}

func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var in statusJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Status = in.Status
	r.Stage = in.Stage
	r.PesURL = in.PesURL
	r.DstURL = in.DstURL
	r.Timestamp = time.Time{}
	if in.Timestamp != nil && *in.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, *in.Timestamp)
		if err != nil {
			return fmt.Errorf("parse status timestamp: %w", err)
		}
		r.Timestamp = ts
	}
	return nil
}
