package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/pkg/models"
)

type fakeClient struct {
	submitted []*models.GenerationRequest
	sub       *models.Submission
	err       error
}

func (c *fakeClient) Submit(ctx context.Context, req *models.GenerationRequest) (*models.Submission, error) {
	c.submitted = append(c.submitted, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.sub, nil
}

func (c *fakeClient) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return nil, errors.New("not used")
}

type recordingOpener struct {
	urls []string
	err  error
}

func (o *recordingOpener) open(url string) error {
	o.urls = append(o.urls, url)
	return o.err
}

func TestDispatch_AppliesDefaults(t *testing.T) {
	client := &fakeClient{sub: &models.Submission{SessionID: "s1", GalleryURL: "https://gallery.uigen.dev/s1"}}
	d := New(client, Options{}, nil)

	req := &models.GenerationRequest{Description: "a pricing card"}
	sub, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if sub.SessionID != "s1" || sub.GalleryURL != "https://gallery.uigen.dev/s1" {
		t.Errorf("Dispatch() = %+v", sub)
	}

	if len(client.submitted) != 1 {
		t.Fatalf("submitted %d requests, want 1", len(client.submitted))
	}
	got := client.submitted[0]
	if got.Framework != models.FrameworkReact || got.Styling != models.StylingTailwind {
		t.Errorf("submitted framework=%q styling=%q, want defaults", got.Framework, got.Styling)
	}
	if req.Framework != "" {
		t.Error("Dispatch() modified the caller's request")
	}
}

func TestDispatch_RejectsOutsideEnums(t *testing.T) {
	tests := []struct {
		name    string
		req     *models.GenerationRequest
		allowed []models.Framework
		wantErr error
	}{
		{"nil request", nil, nil, models.ErrEmptyDescription},
		{"blank description", &models.GenerationRequest{Description: "  "}, nil, models.ErrEmptyDescription},
		{"unknown framework", &models.GenerationRequest{Description: "x", Framework: "angular"}, nil, models.ErrInvalidFramework},
		{"unknown styling", &models.GenerationRequest{Description: "x", Styling: "sass"}, nil, models.ErrInvalidStyling},
		{"framework not enabled", &models.GenerationRequest{Description: "x", Framework: models.FrameworkVue}, []models.Framework{models.FrameworkReact}, models.ErrFrameworkNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{sub: &models.Submission{SessionID: "s"}}
			d := New(client, Options{AllowedFrameworks: tt.allowed}, nil)

			_, err := d.Dispatch(context.Background(), tt.req)
			if !errors.Is(err, provider.ErrValidation) {
				t.Errorf("Dispatch() error = %v, want ErrValidation", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if len(client.submitted) != 0 {
				t.Error("invalid request was forwarded")
			}
		})
	}
}

func TestDispatch_ForwardsOnlyKnownValues(t *testing.T) {
	for _, fw := range models.ValidFrameworks() {
		for _, st := range models.ValidStylings() {
			client := &fakeClient{sub: &models.Submission{SessionID: "s"}}
			d := New(client, Options{}, nil)

			if _, err := d.Dispatch(context.Background(), &models.GenerationRequest{Description: "x", Framework: fw, Styling: st}); err != nil {
				t.Fatalf("Dispatch(%s, %s) error = %v", fw, st, err)
			}
			got := client.submitted[0]
			if !got.Framework.IsValid() || !got.Styling.IsValid() {
				t.Errorf("forwarded framework=%q styling=%q", got.Framework, got.Styling)
			}
		}
	}
}

func TestDispatch_SubmitError(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("%w: invalid API key", provider.ErrAuthentication)}
	opener := &recordingOpener{}
	d := New(client, Options{OpenBrowser: true, Opener: opener.open}, nil)

	_, err := d.Dispatch(context.Background(), models.NewGenerationRequest("x"))
	if !errors.Is(err, provider.ErrAuthentication) {
		t.Errorf("Dispatch() error = %v, want ErrAuthentication", err)
	}
	if len(opener.urls) != 0 {
		t.Error("browser opened after failed submission")
	}
}

func TestDispatch_Browser(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		galleryURL string
		openErr    error
		wantOpened int
	}{
		{"opens gallery", true, "https://gallery.uigen.dev/s1", nil, 1},
		{"disabled", false, "https://gallery.uigen.dev/s1", nil, 0},
		{"launch failure is not fatal", true, "https://gallery.uigen.dev/s1", errors.New("no display"), 1},
		{"unsafe scheme skipped", true, "file:///etc/passwd", nil, 0},
		{"empty url skipped", true, "", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{sub: &models.Submission{SessionID: "s1", GalleryURL: tt.galleryURL}}
			opener := &recordingOpener{err: tt.openErr}
			d := New(client, Options{OpenBrowser: tt.enabled, Opener: opener.open}, nil)

			sub, err := d.Dispatch(context.Background(), models.NewGenerationRequest("a navbar"))
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if sub.GalleryURL != tt.galleryURL {
				t.Errorf("GalleryURL = %q, want %q", sub.GalleryURL, tt.galleryURL)
			}
			if len(opener.urls) != tt.wantOpened {
				t.Errorf("opened %d times, want %d", len(opener.urls), tt.wantOpened)
			}
		})
	}
}
