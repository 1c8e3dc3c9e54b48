package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// SchemaVersion is the envelope version this service publishes.
const SchemaVersion = "1.0.0"

// supported is the range of inbound envelope versions accepted.
var supported = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Envelope wraps every message on the bus
type Envelope struct {
	Version string          `json:"version"`
	Event   json.RawMessage `json:"event"`
}

// ErrUnsupportedVersion is returned for envelopes outside the accepted range.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// DecodeStatusEvent parses and validates an inbound status event
func DecodeStatusEvent(data []byte) (trading.StatusEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return trading.StatusEvent{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	v, err := semver.NewVersion(env.Version)
	if err != nil {
		return trading.StatusEvent{}, fmt.Errorf("invalid envelope version %q: %w", env.Version, err)
	}
	if !supported.Check(v) {
		return trading.StatusEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}

	var ev trading.StatusEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return trading.StatusEvent{}, fmt.Errorf("failed to unmarshal status event: %w", err)
	}

	status, ok := trading.ParseStatus(string(ev.Status))
	if !ok {
		return trading.StatusEvent{}, fmt.Errorf("unknown order status %q", ev.Status)
	}
	ev.Status = status
	if ev.OrderKey() == "" {
		return trading.StatusEvent{}, errors.New("status event has neither externalId nor clientOrderId")
	}
	return ev, nil
}

// Encode wraps v in a current-version envelope
func Encode(v interface{}) ([]byte, error) {
	event, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return json.Marshal(Envelope{Version: SchemaVersion, Event: event})
}
