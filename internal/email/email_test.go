package email

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type fakeClient struct {
	resp *rest.Response
	err  error
	got  *mail.SGMailV3
}

func (f *fakeClient) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.got = m
	return f.resp, f.err
}

func newTestSender(c client) *SendGridSender {
	s := NewSendGridSender("SG.test", "reports@example.com", "Deep Research", log.New(io.Discard, "", 0))
	s.client = c
	return s
}

func TestSendSkippedWithoutKey(t *testing.T) {
	t.Parallel()
	s := NewSendGridSender("", "reports@example.com", "", nil)
	res := s.Send(context.Background(), "a@example.com", "subj", "<p>x</p>")
	if res.Status != StatusSkipped || res.Reason != "SENDGRID_API_KEY not set" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendSent(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{resp: &rest.Response{StatusCode: 202}}
	res := newTestSender(fc).Send(context.Background(), " Ada <ada@example.com> ", "Research Report: QWERTY", "<html>r</html>")
	if !res.OK() {
		t.Fatalf("expected sent, got %+v", res)
	}
	if fc.got == nil || fc.got.Subject != "Research Report: QWERTY" {
		t.Fatalf("message not built: %+v", fc.got)
	}
	if len(fc.got.Content) == 0 || fc.got.Content[len(fc.got.Content)-1].Value != "<html>r</html>" {
		t.Fatalf("html body missing: %+v", fc.got.Content)
	}
}

func TestSendErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		client *fakeClient
		to     string
		reason string
	}{
		{name: "invalid recipient", client: &fakeClient{}, to: "not-an-address", reason: "invalid recipient"},
		{name: "transport error", client: &fakeClient{err: errors.New("dial tcp: timeout")}, to: "bad@nowhere.invalid", reason: "dial tcp"},
		{name: "rejected", client: &fakeClient{resp: &rest.Response{StatusCode: 403, Body: "forbidden"}}, to: "a@example.com", reason: "status 403"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := newTestSender(tc.client).Send(context.Background(), tc.to, "s", "h")
			if res.Status != StatusError || !strings.Contains(res.Reason, tc.reason) {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}
