package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opsprofile/pkg/resend"
)

type fakeResend struct {
	sent []resend.Email
	err  error
}

func (f *fakeResend) Send(_ context.Context, e resend.Email) (string, error) {
	f.sent = append(f.sent, e)
	return "msg-1", f.err
}

func TestRender_Ready(t *testing.T) {
	subject, html, err := Render(KindReady, Payload{
		CompanyName: "Acme & Sons",
		ProfileURL:  "https://harnessai.co/profile/abc",
		ExpiresIn:   7 * 24 * time.Hour,
	}, "HarnessAI")
	require.NoError(t, err)

	assert.Equal(t, SubjectReady, subject)
	assert.Contains(t, html, "Your operational profile for <strong>Acme &amp; Sons</strong> is ready.")
	assert.Contains(t, html, `href="https://harnessai.co/profile/abc"`)
	assert.Contains(t, html, "View Your Profile")
	assert.Contains(t, html, "This link expires in 7 days.")
	assert.Contains(t, html, "HarnessAI")
}

func TestRender_Insufficient(t *testing.T) {
	subject, html, err := Render(KindInsufficient, Payload{CompanyName: "Acme"}, "HarnessAI")
	require.NoError(t, err)
	assert.Equal(t, SubjectRequest, subject)
	assert.Contains(t, html, "We need a bit more information to build your operational profile for <strong>Acme</strong>.")
	assert.Contains(t, html, "Our team will follow up within 24 hours.")
	assert.NotContains(t, html, "View Your Profile")
}

func TestRender_Failed(t *testing.T) {
	subject, html, err := Render(KindFailed, Payload{CompanyName: "Acme"}, "HarnessAI")
	require.NoError(t, err)
	assert.Equal(t, SubjectRequest, subject)
	assert.Contains(t, html, "We encountered an issue generating your operational profile for <strong>Acme</strong>.")
	assert.Contains(t, html, "Our team has been notified and will reach out within 24 hours.")
}

func TestRender_UnknownKind(t *testing.T) {
	_, _, err := Render(Kind("bogus"), Payload{}, "")
	assert.Error(t, err)
}

func TestEmail_Send(t *testing.T) {
	fr := &fakeResend{}
	n := NewEmail(fr, "HarnessAI <noreply@harnessai.co>")

	err := n.Send(context.Background(), KindReady, "jane@acme.com", Payload{
		CompanyName: "Acme",
		ProfileURL:  "https://harnessai.co/profile/abc",
		ExpiresIn:   168 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, fr.sent, 1)
	assert.Equal(t, []string{"jane@acme.com"}, fr.sent[0].To)
	assert.Equal(t, "HarnessAI <noreply@harnessai.co>", fr.sent[0].From)
	assert.Equal(t, SubjectReady, fr.sent[0].Subject)
	assert.Contains(t, fr.sent[0].HTML, "HarnessAI\n")
}

func TestEmail_SendError(t *testing.T) {
	fr := &fakeResend{err: errors.New("resend: unexpected status 500")}
	err := NewEmail(fr, "noreply@example.com").Send(context.Background(), KindFailed, "jane@acme.com", Payload{CompanyName: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify: send failed")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Send(context.Background(), KindReady, "x@y.z", Payload{}))
}
