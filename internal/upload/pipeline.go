// Package upload turns a locally picked file into a server-confirmed
// attachment reference. A message referencing an attachment can only be
// sent once the pipeline reports it ready.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
	"github.com/sparcs-kaist/ara-chat-sync/pkg/log"
)

var (
	// ErrUnsupportedAttachmentType rejects files outside the allow-list.
	ErrUnsupportedAttachmentType = errors.New("unsupported attachment type")

	// ErrUploadFailed wraps a transfer failure with its cause.
	ErrUploadFailed = errors.New("attachment upload failed")

	// ErrAttachmentAlreadyStaged rejects staging a second attachment
	// while one is pending. Staging is mutually exclusive with free-text
	// send; the UI blocks text entry while an attachment is pending.
	ErrAttachmentAlreadyStaged = errors.New("an attachment is already staged")
)

// imageExtensions maps allow-listed image extensions.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// fileExtensions maps allow-listed non-image extensions.
var fileExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".zip": true, ".hwp": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
}

// Pipeline stages at most one attachment at a time.
type Pipeline struct {
	api api.Client
	log zerolog.Logger

	// release frees any local preview resource (an object URL in the
	// original UI) when the attachment is discarded or consumed.
	release func(*domain.PendingAttachment)

	mu     sync.Mutex
	staged *domain.PendingAttachment
}

// NewPipeline creates an upload pipeline. release may be nil.
func NewPipeline(client api.Client, release func(*domain.PendingAttachment), logger zerolog.Logger) *Pipeline {
	return &Pipeline{api: client, release: release, log: logger}
}

// kindForFilename classifies a filename against the allow-list.
func kindForFilename(filename string) (domain.ContentKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return domain.ContentKindImage, nil
	case fileExtensions[ext]:
		return domain.ContentKindFile, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAttachmentType, ext)
	}
}

// Stage validates, uploads and stages a picked file. On success the
// returned attachment is ready and gates the send action until it is
// consumed by Take or dropped by Discard.
func (p *Pipeline) Stage(ctx context.Context, filename string, r io.Reader) (*domain.PendingAttachment, error) {
	kind, err := kindForFilename(filename)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.staged != nil {
		p.mu.Unlock()
		return nil, ErrAttachmentAlreadyStaged
	}
	pending := &domain.PendingAttachment{
		LocalID:  uuid.NewString(),
		Kind:     kind,
		Filename: filename,
		State:    domain.AttachmentStateUploading,
	}
	p.staged = pending
	p.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		p.drop(pending)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	// Sniff the real media type; an image extension on non-image bytes
	// downgrades the attachment to a plain file. pending is already
	// visible through Staged, so the write stays under the lock.
	if kind == domain.ContentKindImage && !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		p.mu.Lock()
		pending.Kind = domain.ContentKindFile
		p.mu.Unlock()
	}

	result, err := p.api.UploadAttachment(ctx, filename, bytes.NewReader(data))
	if err != nil {
		p.drop(pending)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	p.mu.Lock()
	pending.ID = result.ID
	pending.URL = result.URL
	pending.State = domain.AttachmentStateReady
	p.mu.Unlock()

	p.log.Debug().
		Str("filename", filename).
		Int64("attachment_id", result.ID).
		Msg("attachment staged")
	return pending, nil
}

// Staged returns the currently staged attachment, if any.
func (p *Pipeline) Staged() (*domain.PendingAttachment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staged, p.staged != nil
}

// Discard drops the staged attachment before send, releasing any local
// preview resource.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	pending := p.staged
	p.staged = nil
	p.mu.Unlock()

	if pending != nil && p.release != nil {
		p.release(pending)
	}
}

// Take consumes the staged attachment for a send. It returns false when
// nothing ready is staged; the attachment is cleared exactly once.
func (p *Pipeline) Take() (*domain.PendingAttachment, bool) {
	p.mu.Lock()
	pending := p.staged
	if pending == nil || !pending.Ready() {
		p.mu.Unlock()
		return nil, false
	}
	p.staged = nil
	p.mu.Unlock()

	if p.release != nil {
		p.release(pending)
	}
	return pending, true
}

func (p *Pipeline) drop(pending *domain.PendingAttachment) {
	p.mu.Lock()
	if p.staged == pending {
		p.staged = nil
	}
	p.mu.Unlock()
	p.log.Warn().Str(log.FieldClientToken, pending.LocalID).Msg("attachment dropped")
}
