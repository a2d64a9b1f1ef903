package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePublisher struct {
	msgs []EmailJob
	err  error
}

func (p *fakePublisher) PublishJSON(_ context.Context, body any) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, body.(EmailJob))
	return nil
}

func fixedNow() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

func TestQueueSender_PublishesJobs(t *testing.T) {
	pub := &fakePublisher{}
	s := NewQueueSender[*identity.User](pub, LinkConfig{
		BaseURL:   "https://app.example.com/",
		VerifyTTL: 24 * time.Hour,
		ResetTTL:  time.Hour,
		Now:       fixedNow,
	})
	u := &identity.User{ID: "u1", Email: "alice@example.com"}

	require.NoError(t, s.SendVerificationToken(context.Background(), u, "a.b+c"))
	require.NoError(t, s.SendPasswordResetToken(context.Background(), u, "x.y.z"))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, EmailJob{
		To:       "alice@example.com",
		Template: TemplateVerifyEmail,
		Data: map[string]string{
			"link":    "https://app.example.com/verify?token=a.b%2Bc",
			"expires": "2 Jun 2024 09:00 UTC",
		},
	}, pub.msgs[0])
	assert.Equal(t, TemplateResetPassword, pub.msgs[1].Template)
	assert.Equal(t, "https://app.example.com/reset-password?token=x.y.z", pub.msgs[1].Data["link"])
	assert.Equal(t, "1 Jun 2024 10:00 UTC", pub.msgs[1].Data["expires"])
}

func TestQueueSender_PublishError(t *testing.T) {
	boom := errors.New("broker down")
	s := NewQueueSender[*identity.User](&fakePublisher{err: boom}, LinkConfig{})

	err := s.SendVerificationToken(context.Background(), &identity.User{Email: "a@example.com"}, "tok")
	assert.ErrorIs(t, err, boom)
}

func TestRender(t *testing.T) {
	r, err := Render(EmailJob{
		To:       "a@example.com",
		Template: TemplateResetPassword,
		Data:     map[string]string{"link": "https://x.test/reset-password?token=t&a=<b>", "expires": "soon"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Reset your password", r.Subject)
	assert.Contains(t, r.Text, "https://x.test/reset-password?token=t&a=<b>")
	assert.NotContains(t, r.HTML, "<b>")
	assert.Contains(t, r.HTML, "soon")

	_, err = Render(EmailJob{Template: "newsletter"})
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to string, r Rendered) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+r.Subject)
	return nil
}

func TestWorker_Handle(t *testing.T) {
	good, err := json.Marshal(EmailJob{To: "a@example.com", Template: TemplateVerifyEmail, Data: map[string]string{"link": "l"}})
	require.NoError(t, err)

	t.Run("sends", func(t *testing.T) {
		m := &fakeMailer{}
		require.NoError(t, NewWorker(m, quiet, 0).handle(context.Background(), good))
		assert.Equal(t, []string{"a@example.com|Confirm your email address"}, m.sent)
	})

	t.Run("bad json is permanent", func(t *testing.T) {
		err := NewWorker(&fakeMailer{}, quiet, 0).handle(context.Background(), []byte("{"))
		assert.ErrorIs(t, err, errPermanent)
	})

	t.Run("unknown template is permanent", func(t *testing.T) {
		body := []byte(`{"to":"a@example.com","template":"nope"}`)
		err := NewWorker(&fakeMailer{}, quiet, 0).handle(context.Background(), body)
		assert.ErrorIs(t, err, errPermanent)
	})

	t.Run("missing recipient is permanent", func(t *testing.T) {
		body := []byte(`{"template":"verify_email"}`)
		err := NewWorker(&fakeMailer{}, quiet, 0).handle(context.Background(), body)
		assert.ErrorIs(t, err, errPermanent)
	})

	t.Run("send failure is retryable", func(t *testing.T) {
		err := NewWorker(&fakeMailer{err: errors.New("503")}, quiet, 0).handle(context.Background(), good)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errPermanent)
	})
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu   sync.Mutex
	seen []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestWorker_RunSettlesDeliveries(t *testing.T) {
	good := []byte(`{"to":"a@example.com","template":"reset_password"}`)
	ack := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 3)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: good}
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("not json")}
	close(msgs)

	m := &fakeMailer{}
	NewWorker(m, quiet, time.Second).Run(context.Background(), msgs)

	assert.Equal(t, []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, requeue: false},
	}, ack.seen)
	assert.Len(t, m.sent, 1)

	failing := make(chan amqp.Delivery, 1)
	failing <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: good}
	close(failing)
	NewWorker(&fakeMailer{err: errors.New("down")}, quiet, time.Second, WithRetryBackoff(time.Millisecond, time.Millisecond)).Run(context.Background(), failing)
	assert.Equal(t, ackRecord{tag: 3, requeue: true}, ack.seen[2])
}

func TestWorker_RetryDelayGrowsAndResets(t *testing.T) {
	w := NewWorker(&fakeMailer{}, quiet, 0, WithRetryBackoff(time.Second, 5*time.Second))

	var got []time.Duration
	for w.failures = 1; w.failures <= 5; w.failures++ {
		got = append(got, w.retryDelay())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)

	def := NewWorker(&fakeMailer{}, quiet, 0)
	assert.Equal(t, time.Second, def.retryBase)
	assert.Equal(t, time.Minute, def.retryMax)
}

func TestWorker_RunBacksOffBeforeRequeue(t *testing.T) {
	body := []byte(`{"to":"a@example.com","template":"verify_email"}`)
	ack := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 3)
	for tag := uint64(1); tag <= 3; tag++ {
		msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
	}
	close(msgs)

	w := NewWorker(&fakeMailer{err: errors.New("503")}, quiet, time.Second, WithRetryBackoff(20*time.Millisecond, 40*time.Millisecond))
	start := time.Now()
	w.Run(context.Background(), msgs)

	// 20ms + 40ms + 40ms
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, w.failures)
	for _, rec := range ack.seen {
		assert.True(t, rec.requeue)
	}
}

func TestWorker_BackoffEndsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ack := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"to":"a@example.com","template":"verify_email"}`)}

	done := make(chan struct{})
	go func() {
		NewWorker(&fakeMailer{err: errors.New("503")}, quiet, time.Second, WithRetryBackoff(time.Hour, time.Hour)).Run(ctx, msgs)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stuck in backoff")
	}
	assert.Equal(t, []ackRecord{{tag: 1, requeue: true}}, ack.seen)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		NewWorker(&fakeMailer{}, quiet, 0).Run(ctx, make(chan amqp.Delivery))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewMailgun_RequiresSettings(t *testing.T) {
	_, err := NewMailgun(MailgunConfig{Domain: "mg.example.com"})
	assert.Error(t, err)
}

func TestMailgun_Send(t *testing.T) {
	var gotTo, gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseMultipartForm(1 << 20)
		gotTo = r.FormValue("to")
		gotSubject = r.FormValue("subject")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"<1@mg.example.com>","message":"Queued. Thank you."}`)
	}))
	defer srv.Close()

	m, err := NewMailgun(MailgunConfig{Domain: "mg.example.com", APIKey: "key-test", Sender: "Warden <no-reply@mg.example.com>", APIBase: srv.URL + "/v3"})
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), "alice@example.com", Rendered{Subject: "Hi", Text: "hello", HTML: "<p>hello</p>"}))
	assert.Equal(t, "alice@example.com", gotTo)
	assert.Equal(t, "Hi", gotSubject)
}

func TestLogSender(t *testing.T) {
	var buf strings.Builder
	s := LogSender[*identity.User]{Log: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, s.SendPasswordResetToken(context.Background(), &identity.User{ID: "u1", Email: "a@example.com"}, "tok123"))
	assert.Contains(t, buf.String(), "delivery.log_sender.reset")
	assert.Contains(t, buf.String(), "tok123")
}
