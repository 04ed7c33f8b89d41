package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

// Command is published to the parcel's valve controller.
type Command struct {
	CommandID       string  `json:"commandId"`
	ProgrammeID     string  `json:"programmeId"`
	ParcelID        int64   `json:"parcelId"`
	VolumeLiters    float64 `json:"volumeLiters"`
	DurationMinutes int     `json:"durationMinutes"`
}

// Result is the controller's answer to a Command.
type Result struct {
	CommandID       string  `json:"commandId"`
	Status          string  `json:"status"` // OK | FAIL
	DeliveredLiters float64 `json:"deliveredLiters"`
	Reason          string  `json:"reason,omitempty"`
}

// MQTTActuator executes programmes by publishing a command and waiting for
// the correlated result. No result before the context deadline counts as a
// failed execution.
type MQTTActuator struct {
	client       PubSub
	commandTopic string
	resultTopic  string

	mu      sync.Mutex
	pending map[string]chan Result
}

func NewMQTTActuator(client PubSub, commandTopic, resultTopic string) *MQTTActuator {
	return &MQTTActuator{
		client:       client,
		commandTopic: strings.TrimSuffix(commandTopic, "/"),
		resultTopic:  strings.TrimSuffix(resultTopic, "/"),
		pending:      make(map[string]chan Result),
	}
}

// Start subscribes to the result topics.
func (a *MQTTActuator) Start() error {
	topic := a.resultTopic + "/#"
	token := a.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		a.onResult(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("actuator: waiting for results on %s", topic)
	return nil
}

func (a *MQTTActuator) onResult(payload []byte) {
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		log.Printf("WARN: actuator: invalid result payload: %v", err)
		return
	}
	a.mu.Lock()
	ch, ok := a.pending[res.CommandID]
	delete(a.pending, res.CommandID)
	a.mu.Unlock()
	if !ok {
		log.Printf("WARN: actuator: result for unknown command %q", res.CommandID)
		return
	}
	ch <- res
}

func (a *MQTTActuator) Execute(ctx context.Context, p irrigation.Programme) (irrigation.Outcome, error) {
	cmd := Command{
		CommandID:       uuid.NewString(),
		ProgrammeID:     p.ID,
		ParcelID:        p.ParcelID,
		VolumeLiters:    p.VolumeLiters,
		DurationMinutes: p.DurationMinutes,
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return irrigation.Outcome{}, err
	}

	ch := make(chan Result, 1)
	a.mu.Lock()
	a.pending[cmd.CommandID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, cmd.CommandID)
		a.mu.Unlock()
	}()

	topic := fmt.Sprintf("%s/%d", a.commandTopic, p.ParcelID)
	token := a.client.Publish(topic, 1, false, body)
	if token.Wait() && token.Error() != nil {
		return irrigation.Outcome{}, fmt.Errorf("publish %s: %w", topic, token.Error())
	}

	select {
	case res := <-ch:
		if strings.EqualFold(res.Status, "OK") {
			return irrigation.Outcome{Success: true, DeliveredLiters: res.DeliveredLiters, Reason: res.Reason}, nil
		}
		reason := res.Reason
		if reason == "" {
			reason = "controller reported " + res.Status
		}
		return irrigation.Outcome{Success: false, Reason: reason}, nil
	case <-ctx.Done():
		return irrigation.Outcome{Success: false, Reason: "no result from controller before timeout"}, nil
	}
}
