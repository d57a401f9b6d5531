package template

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeLookup struct {
	getByNameFn  func(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error)
	getDefaultFn func(ctx context.Context, channel domain.Channel) (*domain.Template, error)
}

func (f *fakeLookup) GetByName(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error) {
	if f.getByNameFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByNameFn(ctx, name, channel)
}

func (f *fakeLookup) GetDefault(ctx context.Context, channel domain.Channel) (*domain.Template, error) {
	if f.getDefaultFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getDefaultFn(ctx, channel)
}

func notification(channel domain.Channel, metadata map[string]string) domain.Notification {
	return domain.Notification{
		ID:       "n-1",
		UserID:   "user-1",
		Channel:  channel,
		Priority: domain.PriorityNormal,
		Title:    "Workout reminder",
		Message:  "Your session starts soon",
		Metadata: metadata,
	}
}

func TestRenderBuiltinEmail(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(nil, nil)
	n := notification(domain.ChannelEmail, map[string]string{
		"email":       "user@example.com",
		"routineName": "Morning <Run>",
	})

	got, err := renderer.Render(context.Background(), n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if got.Subject != "Workout reminder" {
		t.Fatalf("subject = %q", got.Subject)
	}
	if !strings.Contains(got.HTML, "Morning &lt;Run&gt;") {
		t.Fatalf("expected escaped metadata in html, got %q", got.HTML)
	}
	if strings.Contains(got.HTML, "user@example.com") {
		t.Fatal("routing metadata must not be rendered")
	}
	if !strings.Contains(got.Text, "routineName: Morning <Run>") {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestRenderBuiltinSMSTruncates(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(nil, nil)
	n := notification(domain.ChannelSMS, map[string]string{
		"a": "1", "b": "2", "c": "3",
	})
	n.Message = strings.Repeat("x", 150)

	got, err := renderer.Render(context.Background(), n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if n := len([]rune(got.Text)); n != smsSegmentLength {
		t.Fatalf("sms length = %d, want %d", n, smsSegmentLength)
	}
	if !strings.HasSuffix(got.Text, "...") {
		t.Fatalf("expected truncation suffix, got %q", got.Text)
	}
}

func TestRenderBuiltinSMSMetadata(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(nil, nil)
	n := notification(domain.ChannelSMS, map[string]string{
		"phone": "+254700000000", "c": "3", "a": "1", "b": "2",
	})

	got, err := renderer.Render(context.Background(), n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "Workout reminder\n\nYour session starts soon\n\na: 1 | b: 2"
	if got.Text != want {
		t.Fatalf("sms text = %q, want %q", got.Text, want)
	}
}

func TestRenderBuiltinPush(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(nil, nil)
	got, err := renderer.Render(context.Background(), notification(domain.ChannelPush, map[string]string{"badge": "3"}))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Push == nil {
		t.Fatal("expected push payload")
	}
	if got.Push.Title != "Workout reminder" || got.Push.Message != "Your session starts soon" {
		t.Fatalf("push payload = %+v", got.Push)
	}
	if got.Push.Badge == nil || *got.Push.Badge != 3 {
		t.Fatalf("badge = %v, want 3", got.Push.Badge)
	}
}

func TestRenderStoredTemplate(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		getByNameFn: func(_ context.Context, name string, channel domain.Channel) (*domain.Template, error) {
			if name != "reminder" || channel != domain.ChannelEmail {
				t.Fatalf("unexpected lookup %q/%s", name, channel)
			}
			return &domain.Template{
				Name:    "reminder",
				Channel: domain.ChannelEmail,
				Subject: "{{routineName}} at {{startTime}}",
				Body:    "<p>Hi {{ userId }}, {{routineName}} starts. {{unknown}}</p>",
			}, nil
		},
	}

	core, logs := observer.New(zap.WarnLevel)
	renderer := NewRenderer(lookup, zap.New(core))
	n := notification(domain.ChannelEmail, map[string]string{
		"template":    "reminder",
		"routineName": "Yoga",
		"startTime":   "09:00",
	})

	got, err := renderer.Render(context.Background(), n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Yoga at 09:00" {
		t.Fatalf("subject = %q", got.Subject)
	}
	if got.HTML != "<p>Hi user-1, Yoga starts. {{unknown}}</p>" {
		t.Fatalf("html = %q", got.HTML)
	}
	if got.Text != "Hi user-1, Yoga starts. {{unknown}}" {
		t.Fatalf("text = %q", got.Text)
	}
	if logs.FilterMessage("template variable not found").Len() != 1 {
		t.Fatal("expected missing variable warning")
	}
}

func TestRenderStoredTemplateSubjectFallback(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		getDefaultFn: func(context.Context, domain.Channel) (*domain.Template, error) {
			return &domain.Template{Name: "welcome", Body: "Hello"}, nil
		},
	}

	got, err := NewRenderer(lookup, nil).Render(context.Background(), notification(domain.ChannelEmail, nil))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Notification: welcome" {
		t.Fatalf("subject = %q", got.Subject)
	}
}

func TestRenderFallsBackToBuiltin(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		err    error
		logged string
	}{
		{name: "template missing", err: domain.ErrNotFound, logged: "template not found, trying channel default"},
		{name: "lookup failed", err: errors.New("db down"), logged: "template lookup failed, using built-in layout"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			lookup := &fakeLookup{
				getByNameFn: func(context.Context, string, domain.Channel) (*domain.Template, error) {
					return nil, tc.err
				},
			}
			core, logs := observer.New(zap.WarnLevel)
			renderer := NewRenderer(lookup, zap.New(core))

			got, err := renderer.Render(context.Background(), notification(domain.ChannelSMS, map[string]string{"template": "gone"}))
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.HasPrefix(got.Text, "Workout reminder") {
				t.Fatalf("expected built-in sms, got %q", got.Text)
			}
			if logs.FilterMessage(tc.logged).Len() != 1 {
				t.Fatalf("expected log %q", tc.logged)
			}
		})
	}
}

func TestRenderMissingNamedTemplateUsesChannelDefault(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		getDefaultFn: func(_ context.Context, channel domain.Channel) (*domain.Template, error) {
			return &domain.Template{Name: "default", Channel: channel, Subject: "Default", Body: "<p>{{message}}</p>", IsDefault: true}, nil
		},
	}

	n := notification(domain.ChannelEmail, map[string]string{"template": "missing"})
	got, err := NewRenderer(lookup, nil).Render(context.Background(), n)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Default" {
		t.Fatalf("subject = %q, want channel default", got.Subject)
	}
	if got.HTML != "<p>Your session starts soon</p>" {
		t.Fatalf("html = %q", got.HTML)
	}
}

func TestRenderStoredTemplateEscapesEmailValues(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		getDefaultFn: func(_ context.Context, channel domain.Channel) (*domain.Template, error) {
			return &domain.Template{Name: "alert", Channel: channel, Subject: "{{title}}", Body: "<p>{{message}}</p>"}, nil
		},
	}

	testCases := []struct {
		name    string
		channel domain.Channel
		check   func(t *testing.T, got domain.RenderedContent)
	}{
		{
			name:    "email html is escaped",
			channel: domain.ChannelEmail,
			check: func(t *testing.T, got domain.RenderedContent) {
				if strings.Contains(got.HTML, "<script>") {
					t.Fatalf("html contains raw script tag: %q", got.HTML)
				}
				if got.HTML != "<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>" {
					t.Fatalf("html = %q", got.HTML)
				}
				if got.Text != "<script>alert(1)</script>" {
					t.Fatalf("text = %q", got.Text)
				}
				if got.Subject != "Tom & <Jerry>" {
					t.Fatalf("subject = %q, want raw value", got.Subject)
				}
			},
		},
		{
			name:    "push keeps raw values",
			channel: domain.ChannelPush,
			check: func(t *testing.T, got domain.RenderedContent) {
				if got.Push == nil || got.Push.Message != "<p><script>alert(1)</script></p>" {
					t.Fatalf("push = %+v", got.Push)
				}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := notification(tc.channel, nil)
			n.Title = "Tom & <Jerry>"
			n.Message = "<script>alert(1)</script>"

			got, err := NewRenderer(lookup, nil).Render(context.Background(), n)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			tc.check(t, got)
		})
	}
}

func TestRenderInvalidChannel(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(nil, nil).Render(context.Background(), notification("FAX", nil))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	got := StripHTML("<style>p{}</style><p>Hi&nbsp;there<br>line &amp; more</p>")
	if got != "Hi there\nline & more" {
		t.Fatalf("StripHTML() = %q", got)
	}
}
