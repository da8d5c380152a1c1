package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stitchdesk/stitchdesk/internal/converter"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

var conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stitchdesk_conversions_total",
	Help: "Conversion attempts by outcome.",
}, []string{"outcome"})

var outcomeLabels = map[string]string{
	model.StatusConverted:     "converted",
	model.StatusServiceError:  "service_error",
	model.StatusResponseError: "response_error",
	model.StatusNoOutput:      "no_output",
	model.StatusTriggerError:  "trigger_error",
}

// Converter is the external conversion service.
type Converter interface {
	Convert(ctx context.Context, fileURL string) (converter.Result, error)
}

// ConversionError is returned for every failed attempt. Status is the
// message written to the status store.
type ConversionError struct {
	Status string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

type ConvertConfig struct {
	Timeout      time.Duration
	VersionLimit int64
}

type ConvertService struct {
	repo      repository.StatusRepository
	storage   storage.Storage
	locks     *KeyLock
	converter Converter
	cfg       ConvertConfig
	now       func() time.Time
}

func NewConvertService(repo repository.StatusRepository, storage storage.Storage, locks *KeyLock, conv Converter, cfg ConvertConfig) *ConvertService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &ConvertService{
		repo:      repo,
		storage:   storage,
		locks:     locks,
		converter: conv,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Convert runs one conversion attempt for fileURL and waits for it. The
// attempt is detached from ctx cancellation and bounded by the configured
// timeout, so it always ends with a terminal status write.
func (s *ConvertService) Convert(ctx context.Context, caller *model.Caller, fileURL string) (rec model.StatusRecord, err error) {
	if fileURL == "" {
		return model.StatusRecord{}, ErrMissingFileURL
	}
	if caller == nil {
		caller = model.Guest()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	unlock := s.locks.Lock(fileURL)
	defer unlock()

	log := slog.With("file_url", fileURL)
	start := s.now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("conversion panicked", "panic", p)
			rec, err = s.fail(ctx, fileURL, model.StatusTriggerError, fmt.Errorf("panic: %v", p))
		}
		conversionsTotal.WithLabelValues(outcomeLabels[rec.Status]).Inc()
		log.Info("conversion finished", "status", rec.Status, "stage", rec.Stage, "duration_ms", time.Since(start).Milliseconds())
	}()

	err = s.repo.SetStatus(ctx, fileURL, model.Submitted())
	if err != nil {
		return s.fail(ctx, fileURL, model.StatusTriggerError, err)
	}

	result, err := s.converter.Convert(ctx, fileURL)
	switch {
	case errors.Is(err, converter.ErrHTTPStatus):
		return s.fail(ctx, fileURL, model.StatusServiceError, err)
	case errors.Is(err, converter.ErrMalformedResponse):
		return s.fail(ctx, fileURL, model.StatusResponseError, err)
	case err != nil:
		return s.fail(ctx, fileURL, model.StatusTriggerError, err)
	case result.Empty():
		return s.fail(ctx, fileURL, model.StatusNoOutput, errors.New("conversion service returned neither pes nor dst"))
	}

	owner, err := s.repo.GetOwner(ctx, fileURL)
	if err != nil {
		return s.fail(ctx, fileURL, model.StatusTriggerError, err)
	}
	if owner == "" {
		owner = caller.Username
	}

	pesURL, err := s.materialize(ctx, owner, ".pes", result.PES)
	if err != nil {
		return s.failOutput(ctx, fileURL, err)
	}
	dstURL, err := s.materialize(ctx, owner, ".dst", result.DST)
	if err != nil {
		return s.failOutput(ctx, fileURL, err)
	}

	for _, out := range []*string{pesURL, dstURL} {
		if out == nil {
			continue
		}
		err = s.registerOutput(ctx, fileURL, *out, owner)
		if err != nil {
			return s.fail(ctx, fileURL, model.StatusTriggerError, err)
		}
	}

	rec = model.Converted(pesURL, dstURL)
	err = s.repo.SetStatus(ctx, fileURL, rec)
	if err != nil {
		return s.fail(ctx, fileURL, model.StatusTriggerError, err)
	}
	return rec, nil
}

var errInvalidOutput = errors.New("conversion output is neither a URL nor hex")

// materialize turns one raw output into a URL, storing hex payloads as blobs.
func (s *ConvertService) materialize(ctx context.Context, owner, ext, raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	if isAbsoluteURL(raw) {
		return &raw, nil
	}

	data, err := hex.DecodeString(raw)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: %s output", errInvalidOutput, ext)
	}

	blobPath := BlobPath(owner, model.CategoryEmbroidery, ext)
	obj, err := s.storage.Put(ctx, blobPath, bytes.NewReader(data), int64(len(data)), "application/octet-stream")
	if err != nil {
		return nil, fmt.Errorf("store %s output: %w", ext, err)
	}
	return &obj.URL, nil
}

func (s *ConvertService) registerOutput(ctx context.Context, sourceURL, outputURL, owner string) error {
	err := s.repo.SetVisibility(ctx, outputURL, model.VisibilityPrivate)
	if err != nil {
		return err
	}
	err = s.repo.SetOwner(ctx, outputURL, owner)
	if err != nil {
		return err
	}
	return appendVersion(ctx, s.repo, sourceURL, outputURL, s.now(), s.cfg.VersionLimit)
}

func (s *ConvertService) failOutput(ctx context.Context, fileURL string, err error) (model.StatusRecord, error) {
	if errors.Is(err, errInvalidOutput) {
		return s.fail(ctx, fileURL, model.StatusResponseError, err)
	}
	return s.fail(ctx, fileURL, model.StatusTriggerError, err)
}

// fail writes the terminal error status. A store failure here is logged; the
// returned error still carries the attempt's outcome.
func (s *ConvertService) fail(ctx context.Context, fileURL, status string, cause error) (model.StatusRecord, error) {
	rec := model.Failed(status)
	slog.Warn("conversion failed", "file_url", fileURL, "status", status, "error", cause)

	// write even if the attempt's deadline has passed
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.repo.SetStatus(wctx, fileURL, rec)
	if err != nil {
		slog.Error("failed to record conversion failure", "file_url", fileURL, "status", status, "error", err)
		cause = errors.Join(cause, err)
	}
	return rec, &ConversionError{Status: status, Err: cause}
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
