package cloudsink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/memory"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

func sampleRecord() types.AttendanceRecord {
	entry := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return types.AttendanceRecord{
		CardID:             "123",
		Name:               "Ada",
		Entry:              entry,
		Exit:               entry.Add(time.Hour),
		NetDurationSeconds: 3300,
		TotalBreakSeconds:  300,
		Breaks: []types.BreakInterval{
			{Start: entry.Add(10 * time.Minute), End: entry.Add(15 * time.Minute)},
		},
	}
}

func TestEncodeRecord_Formats(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatProtobuf} {
		t.Run(string(f), func(t *testing.T) {
			b, err := EncodeRecord(sampleRecord(), f)
			require.NoError(t, err)

			st, err := DecodeStruct(b, f)
			require.NoError(t, err)
			m := st.AsMap()
			require.Equal(t, "123", m["card_id"])
			require.Equal(t, "Ada", m["name"])
			require.Equal(t, "2026-03-02T08:00:00Z", m["entry"])
			require.Equal(t, "2026-03-02T09:00:00Z", m["exit"])
			require.Equal(t, 3300.0, m["duration_seconds"])
			require.Equal(t, 300.0, m["total_break_seconds"])

			breaks, ok := m["breaks"].([]any)
			require.True(t, ok)
			require.Len(t, breaks, 1)
			b0 := breaks[0].(map[string]any)
			require.Equal(t, "2026-03-02T08:10:00Z", b0["start"])
			require.Equal(t, 300.0, b0["duration"])
		})
	}
}

func TestEncodeRecord_NoBreaks(t *testing.T) {
	rec := sampleRecord()
	rec.Breaks = nil
	b, err := EncodeRecord(rec, FormatJSON)
	require.NoError(t, err)
	st, err := DecodeStruct(b, FormatJSON)
	require.NoError(t, err)
	require.Empty(t, st.AsMap()["breaks"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, f)

	f, err = ParseFormat("protobuf")
	require.NoError(t, err)
	require.Equal(t, FormatProtobuf, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

type failingSink struct{ calls int }

func (s *failingSink) LogAttendance(context.Context, types.AttendanceRecord) error {
	s.calls++
	return errors.New("boom")
}

func TestMulti_DeliversToAllSinks(t *testing.T) {
	records := memory.NewRecordStore()
	bad := &failingSink{}
	m := NewMulti(nil, nil,
		Named{Name: "bad", Sink: bad},
		Named{Name: "store", Sink: NewStoreSink(records)},
	)

	err := m.LogAttendance(context.Background(), sampleRecord())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
	require.Equal(t, 1, bad.calls)

	got, err := records.ListRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Ada", got[0].Name)
}

type fakeToken struct {
	err  error
	hang bool
}

func (t fakeToken) Wait() bool                     { return !t.hang }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.hang {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	published    []published
	publishToken fakeToken
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return fakeToken{} }
func (c *fakeClient) IsConnected() bool   { return true }
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return c.publishToken
}

func (c *fakeClient) Published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func TestMQTTSink_PublishesQueuedRecords(t *testing.T) {
	client := &fakeClient{}
	s := newMQTTSink(client, MQTTConfig{Topic: "gate/logs", StatusTopic: "gate/status"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, s.LogAttendance(ctx, sampleRecord()))
	require.NoError(t, s.PublishStatus(true, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))

	require.Eventually(t, func() bool { return len(client.Published()) == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	got := client.Published()
	require.Equal(t, "gate/logs", got[0].topic)
	require.False(t, got[0].retained)
	st, err := DecodeStruct(got[0].payload, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, "123", st.AsMap()["card_id"])

	require.Equal(t, "gate/status", got[1].topic)
	require.True(t, got[1].retained)
}

func TestMQTTSink_QueueFull(t *testing.T) {
	s := newMQTTSink(&fakeClient{}, MQTTConfig{QueueSize: 1}, nil, nil)

	require.NoError(t, s.LogAttendance(context.Background(), sampleRecord()))
	err := s.LogAttendance(context.Background(), sampleRecord())
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestMQTTSink_StatusWithoutTopicIsNoop(t *testing.T) {
	client := &fakeClient{}
	s := newMQTTSink(client, MQTTConfig{QueueSize: 1}, nil, nil)
	require.NoError(t, s.PublishStatus(true, time.Now()))
	require.NoError(t, s.LogAttendance(context.Background(), sampleRecord()), "queue must still be empty")
}

func TestMQTTSink_PublishTimeoutAndError(t *testing.T) {
	s := newMQTTSink(&fakeClient{publishToken: fakeToken{hang: true}}, MQTTConfig{}, nil, nil)
	err := s.publish(outbound{topic: "t", payload: []byte("x")})
	require.ErrorContains(t, err, "timed out")

	s = newMQTTSink(&fakeClient{publishToken: fakeToken{err: errors.New("not authorized")}}, MQTTConfig{}, nil, nil)
	err = s.publish(outbound{topic: "t", payload: []byte("x")})
	require.ErrorContains(t, err, "not authorized")
}

func TestMQTTSink_Close(t *testing.T) {
	client := &fakeClient{}
	s := newMQTTSink(client, MQTTConfig{}, nil, nil)
	s.Close()
	s.Close()

	client.mu.Lock()
	require.True(t, client.disconnected)
	client.mu.Unlock()
	require.ErrorIs(t, s.LogAttendance(context.Background(), sampleRecord()), ErrSinkClosed)
}

func TestNewMQTTSink_RequiresBroker(t *testing.T) {
	_, err := NewMQTTSink(MQTTConfig{}, nil, nil)
	require.ErrorIs(t, err, ErrNoBroker)
}

// downBroker refuses the first failures connects, then accepts.
type downBroker struct {
	fakeClient
	failures int
	attempts int
}

func (c *downBroker) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failures {
		return fakeToken{err: errors.New("connection refused")}
	}
	return fakeToken{}
}

func (c *downBroker) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts > c.failures
}

func TestMQTTSink_ConnectKeepsRetrying(t *testing.T) {
	broker := &downBroker{failures: 8}
	s := newMQTTSink(broker, MQTTConfig{
		ConnectBackoff:    time.Millisecond,
		MaxConnectBackoff: 4 * time.Millisecond,
	}, nil, nil)

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, 9, broker.attempts)
	require.True(t, broker.IsConnected())
}

func TestMQTTSink_ConnectStopsWithContext(t *testing.T) {
	broker := &downBroker{failures: 1 << 30}
	s := newMQTTSink(broker, MQTTConfig{ConnectBackoff: time.Millisecond}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, broker.attempts, 1)
}
