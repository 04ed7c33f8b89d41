package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"

	"github.com/i474232898/irrigation-scheduler/internal/weather"
)

// ErrInvalidEvent is returned for weather-change payloads that do not decode
// or validate.
var ErrInvalidEvent = errors.New("invalid weather-change event")

// EventHandler runs the event-triggered adjustment pass.
type EventHandler func(ctx context.Context, ev weather.ChangeEvent) error

// WeatherEvents decodes, validates and de-duplicates weather-change
// notifications before handing them to the adjustment pass.
type WeatherEvents struct {
	handle   EventHandler
	dedup    *Deduper
	validate *validator.Validate
}

// NewWeatherEvents creates a WeatherEvents. dedup may be nil.
func NewWeatherEvents(handle EventHandler, dedup *Deduper) *WeatherEvents {
	return &WeatherEvents{
		handle:   handle,
		dedup:    dedup,
		validate: validator.New(),
	}
}

// Decode parses and validates a payload.
func (w *WeatherEvents) Decode(payload []byte) (weather.ChangeEvent, error) {
	var ev weather.ChangeEvent
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return weather.ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := w.validate.Struct(ev); err != nil {
		return weather.ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}

// Fresh reports whether ev was not already seen within the dedup TTL, and
// records it.
func (w *WeatherEvents) Fresh(ev weather.ChangeEvent) bool {
	if w.dedup == nil {
		return true
	}
	key, ok := eventKey(ev)
	if !ok {
		return true
	}
	return w.dedup.ShouldProcess(key)
}

// Forget un-records ev after a failed pass so a resend is processed.
func (w *WeatherEvents) Forget(ev weather.ChangeEvent) {
	if w.dedup == nil {
		return
	}
	if key, ok := eventKey(ev); ok {
		w.dedup.Forget(key)
	}
}

func eventKey(ev weather.ChangeEvent) (string, bool) {
	canonical, err := json.Marshal(ev)
	if err != nil {
		return "", false
	}
	return PayloadKey(canonical), true
}

// HandlePayload decodes a raw message and runs the pass unless it is a
// duplicate. Duplicates return nil.
func (w *WeatherEvents) HandlePayload(ctx context.Context, payload []byte) error {
	ev, err := w.Decode(payload)
	if err != nil {
		return err
	}
	if !w.Fresh(ev) {
		log.Printf("events: duplicate weather change for station %d dropped", ev.StationID)
		return nil
	}
	if err := w.handle(ctx, ev); err != nil {
		w.Forget(ev)
		return err
	}
	return nil
}

// Listen subscribes to topic and handles each message on its own goroutine
// so a long pass never blocks the MQTT client. It blocks until ctx is done.
func (w *WeatherEvents) Listen(ctx context.Context, client Subscriber, topic string) error {
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		go func() {
			if err := w.HandlePayload(ctx, payload); err != nil {
				log.Printf("WARN: events: message on %s: %v", msg.Topic(), err)
			}
		}()
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("events: subscribed to %s", topic)

	<-ctx.Done()

	client.Unsubscribe(topic).Wait()
	return nil
}
