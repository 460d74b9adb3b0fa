// Writeflow - Durable Idempotent Write Pipeline
// Copyright 2026 Writeflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/writeflow-io/writeflow

package queue

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Msg is the delivered-message contract the processors program against.
// It carries exactly what the write protocol needs: payload, subject,
// the delivery attempt number, and the terminal primitives.
type Msg interface {
	// Data returns the message payload.
	Data() []byte

	// Subject returns the subject the message was published on.
	Subject() string

	// NumDelivered returns the 1-based delivery attempt count.
	NumDelivered() int

	// Ack acknowledges the message; the server will not redeliver it.
	Ack() error

	// NakWithDelay negatively acknowledges the message, asking for
	// redelivery after the given delay.
	NakWithDelay(delay time.Duration) error
}

// jsMsg adapts jetstream.Msg to the Msg interface.
type jsMsg struct {
	msg       jetstream.Msg
	delivered int
}

// WrapMsg wraps a jetstream message. The delivery count is read from the
// message metadata once at wrap time; if metadata is unavailable the count
// defaults to 1 (first attempt), which errs on the side of retrying.
func WrapMsg(msg jetstream.Msg) Msg {
	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}
	return &jsMsg{msg: msg, delivered: delivered}
}

func (m *jsMsg) Data() []byte    { return m.msg.Data() }
func (m *jsMsg) Subject() string { return m.msg.Subject() }
func (m *jsMsg) NumDelivered() int {
	return m.delivered
}
func (m *jsMsg) Ack() error { return m.msg.Ack() }
func (m *jsMsg) NakWithDelay(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}
