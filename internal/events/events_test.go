package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"contact-service/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var at = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func TestHashIP(t *testing.T) {
	assert.Equal(t, HashIP("203.0.113.1"), HashIP("203.0.113.1"))
	assert.NotEqual(t, HashIP("203.0.113.1"), HashIP("203.0.113.2"))
	assert.Zero(t, HashIP(""))
}

func TestEventBuilders(t *testing.T) {
	ok := Submitted("form_x", "en", "203.0.113.1", at)
	assert.Equal(t, models.EventFormSubmit, ok.Type)
	assert.Equal(t, "form_x", ok.SubmissionID)
	assert.Equal(t, HashIP("203.0.113.1"), ok.IPHash)

	no := Rejected("honeypot", "203.0.113.1", at)
	assert.Equal(t, models.EventFormRejected, no.Type)
	assert.Equal(t, "honeypot", no.Reason)
	assert.Empty(t, no.SubmissionID)
}

type recorder struct {
	mu     sync.Mutex
	events []models.FormEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, e models.FormEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestMulti_AttemptsEverySinkAndJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	a, b, c := &recorder{}, &recorder{err: boom}, &recorder{}

	err := Multi{a, nil, b, c}.Publish(context.Background(), Submitted("id", "fr", "ip", at))
	require.ErrorIs(t, err, boom)
	for _, r := range []*recorder{a, b, c} {
		assert.Len(t, r.events, 1)
	}

	assert.NoError(t, Multi{a}.Publish(context.Background(), Rejected("x", "ip", at)))
	assert.NoError(t, Nop{}.Publish(context.Background(), models.FormEvent{}))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, "contact.submissions")

	event := Submitted("form_1", "nl", "198.51.100.7", at)
	require.NoError(t, sink.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "contact.submissions", msg.Topic)
	assert.Equal(t, "form_1", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var decoded models.FormEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	if diff := cmp.Diff(event, decoded); diff != "" {
		t.Errorf("decoded event mismatch (-want +got):\n%s", diff)
	}

	w.msgs = nil
	require.NoError(t, sink.Publish(context.Background(), Rejected("rate_limited", "ip", at)))
	assert.Equal(t, models.EventFormRejected, string(w.msgs[0].Key))
}

func TestKafkaSink_WrapsWriterError(t *testing.T) {
	sink := NewKafkaSink(&fakeWriter{err: kafka.LeaderNotAvailable}, "t")
	err := sink.Publish(context.Background(), Submitted("id", "fr", "ip", at))
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
}

type fakeExec struct {
	queries []string
	args    [][]any
}

func (f *fakeExec) Exec(_ context.Context, query string, args ...any) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	_, err := NewClickHouseSink(&fakeExec{}, "events; DROP TABLE x")
	require.Error(t, err)

	conn := &fakeExec{}
	sink, err := NewClickHouseSink(conn, "analytics.form_events")
	require.NoError(t, err)

	require.NoError(t, sink.EnsureTable(context.Background()))
	assert.True(t, strings.HasPrefix(conn.queries[0], "CREATE TABLE IF NOT EXISTS analytics.form_events"))

	event := Submitted("form_2", "de", "192.0.2.4", at)
	require.NoError(t, sink.Publish(context.Background(), event))
	assert.Contains(t, conn.queries[1], "INSERT INTO analytics.form_events")
	want := []any{models.EventFormSubmit, "", "form_2", "de", HashIP("192.0.2.4"), at}
	if diff := cmp.Diff(want, conn.args[1]); diff != "" {
		t.Errorf("insert args mismatch (-want +got):\n%s", diff)
	}
}
