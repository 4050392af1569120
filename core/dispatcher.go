// SPDX-License-Identifier: Apache-2.0
package core

import (
	log "github.com/sirupsen/logrus"
)

// Handler processes one decoded Envelope arriving from peer.
type Handler func(peer PeerId, env *Envelope) error

var dispatcherLogger = log.WithField("component", "dispatcher")

// Dispatcher routes inbound envelopes to per-type handlers held in a map
// keyed on MessageType, in place of the teacher's VM opcode dispatcher
// (spec.md §4.8). A type with no registered handler is dropped.
type Dispatcher struct {
	handlers map[MessageType]Handler
}

// NewDispatcher returns a Dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[MessageType]Handler)}
}

// Register installs h as the handler for t, replacing any prior handler.
func (d *Dispatcher) Register(t MessageType, h Handler) {
	d.handlers[t] = h
}

// Dispatch decodes raw as an Envelope and routes it to the registered
// handler for its type. Unregistered types are logged and dropped rather
// than treated as fatal, since a newer peer may send a message type this
// node does not yet understand.
func (d *Dispatcher) Dispatch(peer PeerId, raw []byte) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return WrapErr(ErrInvalidFrame, err, "decode envelope")
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		dispatcherLogger.WithFields(log.Fields{"peer": peer, "type": env.Type}).Debug("dispatcher: no handler registered, dropping")
		return nil
	}
	return h(peer, env)
}
