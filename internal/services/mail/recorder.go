// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mail

import (
	"context"
	"sync"
)

// RecordedMessage is one captured verification mail.
type RecordedMessage struct {
	ToEmail   string
	VerifyURL string
}

// Recorder is a Sender that captures messages instead of delivering them.
// Used in tests and local development without an SMTP server.
type Recorder struct {
	mu       sync.Mutex
	messages []RecordedMessage

	// Err, when set, is returned from SendVerification.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SendVerification records the message.
func (r *Recorder) SendVerification(_ context.Context, toEmail, verifyURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}

	r.messages = append(r.messages, RecordedMessage{ToEmail: toEmail, VerifyURL: verifyURL})
	return nil
}

// Messages returns a copy of the captured messages.
func (r *Recorder) Messages() []RecordedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RecordedMessage, len(r.messages))
	copy(out, r.messages)
	return out
}
