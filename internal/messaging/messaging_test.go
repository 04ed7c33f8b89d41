package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker delivers publishes to matching subscriptions synchronously
// unless onPublish intercepts them.
type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []fakeMessage
	onPublish  func(topic string, payload []byte)
	publishErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return doneToken{}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	if b.publishErr != nil {
		return doneToken{err: b.publishErr}
	}
	body := payload.([]byte)
	b.mu.Lock()
	b.published = append(b.published, fakeMessage{topic: topic, payload: body})
	hook := b.onPublish
	b.mu.Unlock()
	if hook != nil {
		hook(topic, body)
	}
	return doneToken{}
}

// deliver hands a message to the subscription registered for pattern.
func (b *fakeBroker) deliver(pattern, topic string, payload []byte) {
	b.mu.Lock()
	cb := b.handlers[pattern]
	b.mu.Unlock()
	if cb != nil {
		cb(nil, fakeMessage{topic: topic, payload: payload})
	}
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(time.Minute, 10)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if !d.ShouldProcess("a") {
		t.Fatal("first sighting must be processed")
	}
	if d.ShouldProcess("a") {
		t.Fatal("duplicate within ttl must be dropped")
	}
	if !d.ShouldProcess("") {
		t.Fatal("empty key is never deduplicated")
	}
	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess("a") {
		t.Fatal("key must be processed again after ttl")
	}
}

func TestWeatherEvents_Decode(t *testing.T) {
	w := NewWeatherEvents(nil, nil)

	ev, err := w.Decode([]byte(`{"stationId":3,"date":"2026-06-12","precipitation":18.5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.StationID != 3 || ev.Precipitation == nil || *ev.Precipitation != 18.5 {
		t.Fatalf("unexpected event %+v", ev)
	}

	for name, payload := range map[string]string{
		"not json":         `{`,
		"missing station":  `{"precipitation":1}`,
		"bad date":         `{"stationId":1,"date":"12/06/2026"}`,
		"negative rain":    `{"stationId":1,"precipitation":-1}`,
		"negative wind":    `{"stationId":1,"wind":-3}`,
		"unknown property": `{"stationId":1,"humidity":80}`,
	} {
		if _, err := w.Decode([]byte(payload)); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("%s: expected ErrInvalidEvent, got %v", name, err)
		}
	}
}

func TestWeatherEvents_HandlePayloadDropsDuplicates(t *testing.T) {
	var calls []weather.ChangeEvent
	w := NewWeatherEvents(func(_ context.Context, ev weather.ChangeEvent) error {
		calls = append(calls, ev)
		return nil
	}, NewDeduper(time.Minute, 0))

	ctx := context.Background()
	for _, payload := range []string{
		`{"stationId":1,"wind":35}`,
		`{ "wind": 35, "stationId": 1 }`, // same event, different encoding
		`{"stationId":2,"wind":35}`,
	} {
		if err := w.HandlePayload(ctx, []byte(payload)); err != nil {
			t.Fatalf("HandlePayload: %v", err)
		}
	}
	if len(calls) != 2 || calls[0].StationID != 1 || calls[1].StationID != 2 {
		t.Fatalf("unexpected handler calls %+v", calls)
	}
}

func TestWeatherEvents_FailedPassCanBeResent(t *testing.T) {
	calls := 0
	w := NewWeatherEvents(func(context.Context, weather.ChangeEvent) error {
		calls++
		if calls == 1 {
			return errors.New("unknown weather station")
		}
		return nil
	}, NewDeduper(time.Minute, 0))

	payload := []byte(`{"stationId":1,"wind":35}`)
	if err := w.HandlePayload(context.Background(), payload); err == nil {
		t.Fatal("expected the handler error")
	}
	if err := w.HandlePayload(context.Background(), payload); err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected the resent event to be handled, got %d calls", calls)
	}
	if err := w.HandlePayload(context.Background(), payload); err != nil || calls != 2 {
		t.Fatalf("handled event must stay deduplicated, got %d calls, %v", calls, err)
	}
}

func TestWeatherEvents_Listen(t *testing.T) {
	got := make(chan weather.ChangeEvent, 1)
	w := NewWeatherEvents(func(_ context.Context, ev weather.ChangeEvent) error {
		got <- ev
		return nil
	}, nil)

	broker := newFakeBroker()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Listen(ctx, broker, "weather/changes") }()

	deadline := time.Now().Add(2 * time.Second)
	for !broker.subscribed("weather/changes") {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	broker.deliver("weather/changes", "weather/changes", []byte(`{"stationId":4}`))
	select {
	case ev := <-got:
		if ev.StationID != 4 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not handled")
	}

	cancel()
	if err := <-stopped; err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if broker.subscribed("weather/changes") {
		t.Fatal("expected unsubscribe on shutdown")
	}
}

func programme() irrigation.Programme {
	return irrigation.Programme{ID: "p-1", ParcelID: 12, VolumeLiters: 80, DurationMinutes: 20, Status: irrigation.StatusPlanned}
}

func TestMQTTActuator_CorrelatesResult(t *testing.T) {
	broker := newFakeBroker()
	a := NewMQTTActuator(broker, "irrigation/commands/", "irrigation/results")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	broker.onPublish = func(topic string, payload []byte) {
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			t.Errorf("bad command: %v", err)
			return
		}
		// An unrelated result must be ignored.
		stray, _ := json.Marshal(Result{CommandID: "other", Status: "OK"})
		broker.deliver("irrigation/results/#", "irrigation/results/12", stray)

		res, _ := json.Marshal(Result{CommandID: cmd.CommandID, Status: "OK", DeliveredLiters: 78.5})
		go broker.deliver("irrigation/results/#", "irrigation/results/12", res)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := a.Execute(ctx, programme())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || out.DeliveredLiters != 78.5 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if len(broker.published) != 1 || broker.published[0].topic != "irrigation/commands/12" {
		t.Fatalf("unexpected publishes %+v", broker.published)
	}
	var cmd Command
	_ = json.Unmarshal(broker.published[0].payload, &cmd)
	if cmd.ProgrammeID != "p-1" || cmd.VolumeLiters != 80 || cmd.DurationMinutes != 20 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestMQTTActuator_FailureAndTimeout(t *testing.T) {
	broker := newFakeBroker()
	a := NewMQTTActuator(broker, "irrigation/commands", "irrigation/results")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	broker.onPublish = func(_ string, payload []byte) {
		var cmd Command
		_ = json.Unmarshal(payload, &cmd)
		res, _ := json.Marshal(Result{CommandID: cmd.CommandID, Status: "FAIL", Reason: "valve stuck"})
		go broker.deliver("irrigation/results/#", "irrigation/results/12", res)
	}
	out, err := a.Execute(context.Background(), programme())
	if err != nil || out.Success || out.Reason != "valve stuck" {
		t.Fatalf("expected failure outcome, got %+v, %v", out, err)
	}

	broker.onPublish = nil
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err = a.Execute(ctx, programme())
	if err != nil || out.Success || !strings.Contains(out.Reason, "timeout") {
		t.Fatalf("expected timeout failure, got %+v, %v", out, err)
	}
	if len(a.pending) != 0 {
		t.Fatalf("pending commands leaked: %d", len(a.pending))
	}

	broker.publishErr = errors.New("not connected")
	if _, err := a.Execute(context.Background(), programme()); err == nil {
		t.Fatal("expected publish error")
	}
}
