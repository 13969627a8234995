package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	"github.com/hostelsync/hostelsync-backend/pkg/outbox/payloads"
)

// DecoderFunc turns an envelope's data field into a typed payload.
type DecoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// NewGeofenceDecoderRegistry registers the v1 decoders for both transition events.
func NewGeofenceDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	decode := func(payload json.RawMessage) (interface{}, error) {
		var evt payloads.GeofenceTransitionEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		if evt.IdentityKey == "" {
			return nil, fmt.Errorf("identity_key missing")
		}
		return &evt, nil
	}
	reg.Register(enums.EventGeofenceExited, 1, decode)
	reg.Register(enums.EventGeofenceEntered, 1, decode)
	return reg
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}
