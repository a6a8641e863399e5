package sinks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
)

// RunExportedEvent is the notification kind published after an export.
const RunExportedEvent = "run.exported"

// BlobStore uploads objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher sends a notification of the given kind.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Hasher digests the uploaded snapshot.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// RunExport is the payload of a RunExportedEvent.
type RunExport struct {
	RunID      string    `json:"run_id"`
	Records    int       `json:"records"`
	Object     string    `json:"object"`
	Latest     string    `json:"latest"`
	SHA256     string    `json:"sha256,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExportConfig locates the store file and the object layout.
type ExportConfig struct {
	// StorePath is the record store file uploaded after each completed run.
	StorePath string
	// Prefix is prepended to every object name.
	Prefix string
	// Hasher, when set, fills RunExport.SHA256 so consumers can verify the
	// object they download.
	Hasher Hasher
}

// ExportSink uploads the record store once a run completes: one immutable
// object per run plus a "latest" object, then optionally announces the
// upload. Failed runs are not exported.
type ExportSink struct {
	cfg    ExportConfig
	blobs  BlobStore
	pub    Publisher
	logger *zap.Logger
}

// NewExportSink constructs an ExportSink. pub may be nil.
func NewExportSink(cfg ExportConfig, blobs BlobStore, pub Publisher, logger *zap.Logger) (*ExportSink, error) {
	if blobs == nil {
		return nil, errors.New("export: blob store is required")
	}
	if cfg.StorePath == "" {
		return nil, errors.New("export: store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportSink{cfg: cfg, blobs: blobs, pub: pub, logger: logger}, nil
}

// Consume implements progress.Sink.
func (s *ExportSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone {
			continue
		}
		if err := s.export(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ExportSink) export(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID().String()
	body, err := os.ReadFile(s.cfg.StorePath)
	if err != nil {
		return fmt.Errorf("export run %s: read store: %w", runID, err)
	}

	notice := RunExport{RunID: runID, Records: evt.Records, FinishedAt: evt.TS}
	if s.cfg.Hasher != nil {
		if notice.SHA256, err = s.cfg.Hasher.Hash(body); err != nil {
			return fmt.Errorf("export run %s: checksum: %w", runID, err)
		}
	}
	notice.Object, err = s.blobs.PutObject(ctx, path.Join(s.cfg.Prefix, "runs", runID+".json"),
		"application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export run %s: %w", runID, err)
	}
	notice.Latest, err = s.blobs.PutObject(ctx, path.Join(s.cfg.Prefix, "latest.json"),
		"application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("export run %s latest: %w", runID, err)
	}
	s.logger.Info("store snapshot exported",
		zap.String("run_id", runID),
		zap.String("object", notice.Object),
		zap.Int("records", evt.Records),
		zap.Int("bytes", len(body)),
	)

	if s.pub == nil {
		return nil
	}
	msgID, err := s.pub.Publish(ctx, RunExportedEvent, notice)
	if err != nil {
		return fmt.Errorf("announce export of run %s: %w", runID, err)
	}
	s.logger.Debug("export announced", zap.String("run_id", runID), zap.String("message_id", msgID))
	return nil
}

// Close implements progress.Sink.
func (s *ExportSink) Close(context.Context) error {
	return nil
}
