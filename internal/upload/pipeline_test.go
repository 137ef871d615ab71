package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sparcs-kaist/ara-chat-sync/internal/api"
	"github.com/sparcs-kaist/ara-chat-sync/internal/domain"
)

type fakeAPI struct {
	api.Client
	upload func(ctx context.Context, filename string, r io.Reader) (*api.UploadResult, error)
}

func (f *fakeAPI) UploadAttachment(ctx context.Context, filename string, r io.Reader) (*api.UploadResult, error) {
	return f.upload(ctx, filename, r)
}

func okUpload(ctx context.Context, filename string, r io.Reader) (*api.UploadResult, error) {
	io.Copy(io.Discard, r)
	return &api.UploadResult{ID: 7, URL: "https://cdn.example.com/" + filename}, nil
}

func TestStageRejectsUnsupportedType(t *testing.T) {
	p := NewPipeline(&fakeAPI{upload: okUpload}, nil, zerolog.Nop())

	_, err := p.Stage(context.Background(), "malware.exe", strings.NewReader("x"))
	if !errors.Is(err, ErrUnsupportedAttachmentType) {
		t.Fatalf("expected ErrUnsupportedAttachmentType, got %v", err)
	}
	if _, ok := p.Staged(); ok {
		t.Fatal("rejected file must not be staged")
	}
}

func TestStageSuccess(t *testing.T) {
	p := NewPipeline(&fakeAPI{upload: okUpload}, nil, zerolog.Nop())

	att, err := p.Stage(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	if !att.Ready() {
		t.Fatalf("expected ready attachment, got %+v", att)
	}
	if att.Kind != domain.ContentKindFile || att.ID != 7 {
		t.Fatalf("unexpected attachment %+v", att)
	}
}

func TestStageSingleSlot(t *testing.T) {
	p := NewPipeline(&fakeAPI{upload: okUpload}, nil, zerolog.Nop())

	if _, err := p.Stage(context.Background(), "a.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
	_, err := p.Stage(context.Background(), "b.pdf", strings.NewReader("%PDF-1.4"))
	if !errors.Is(err, ErrAttachmentAlreadyStaged) {
		t.Fatalf("expected ErrAttachmentAlreadyStaged, got %v", err)
	}
}

func TestUploadFailureUnstages(t *testing.T) {
	failing := &fakeAPI{upload: func(context.Context, string, io.Reader) (*api.UploadResult, error) {
		return nil, errors.New("boom")
	}}
	p := NewPipeline(failing, nil, zerolog.Nop())

	_, err := p.Stage(context.Background(), "a.pdf", strings.NewReader("%PDF-1.4"))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if _, ok := p.Staged(); ok {
		t.Fatal("failed upload must not stay staged")
	}
	// The slot is free again.
	if _, err := p.Stage(context.Background(), "b.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
}

func TestTakeConsumesOnce(t *testing.T) {
	released := 0
	p := NewPipeline(&fakeAPI{upload: okUpload}, func(*domain.PendingAttachment) { released++ }, zerolog.Nop())

	if _, err := p.Stage(context.Background(), "a.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Take(); !ok {
		t.Fatal("expected staged attachment to be consumable")
	}
	if _, ok := p.Take(); ok {
		t.Fatal("attachment must be consumed exactly once")
	}
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}
}

func TestDiscardReleases(t *testing.T) {
	released := 0
	p := NewPipeline(&fakeAPI{upload: okUpload}, func(*domain.PendingAttachment) { released++ }, zerolog.Nop())

	if _, err := p.Stage(context.Background(), "a.png", strings.NewReader("\x89PNG\r\n\x1a\n")); err != nil {
		t.Fatal(err)
	}
	p.Discard()
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}
	if _, ok := p.Staged(); ok {
		t.Fatal("discarded attachment must not stay staged")
	}
}

func TestDowngradeVisibleWhileUploadInFlight(t *testing.T) {
	uploadStarted := make(chan struct{})
	release := make(chan struct{})
	blocked := &fakeAPI{upload: func(_ context.Context, filename string, r io.Reader) (*api.UploadResult, error) {
		close(uploadStarted)
		<-release
		return okUpload(context.Background(), filename, r)
	}}
	p := NewPipeline(blocked, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := p.Stage(context.Background(), "fake.png", strings.NewReader("just text"))
		done <- err
	}()
	<-uploadStarted

	// The attachment is observable before the upload completes; its
	// kind must already reflect the sniffed downgrade.
	att, ok := p.Staged()
	if !ok {
		t.Fatal("expected attachment staged during upload")
	}
	if att.Kind != domain.ContentKindFile {
		t.Fatalf("expected downgraded kind visible to observers, got %q", att.Kind)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestImageExtensionWithNonImageBytesDowngrades(t *testing.T) {
	p := NewPipeline(&fakeAPI{upload: okUpload}, nil, zerolog.Nop())

	att, err := p.Stage(context.Background(), "fake.png", strings.NewReader("just text"))
	if err != nil {
		t.Fatal(err)
	}
	if att.Kind != domain.ContentKindFile {
		t.Fatalf("expected downgrade to file kind, got %q", att.Kind)
	}
}
