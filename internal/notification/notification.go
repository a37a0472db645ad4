package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindOTP carries a one-time registration code.
	KindOTP = "otp"
	// KindDepositConfirmed tells the user a deposit reached their deposit wallet.
	KindDepositConfirmed = "deposit_confirmed"
	// KindPayoutCompleted tells the user their salary was sent.
	KindPayoutCompleted = "payout_completed"
	// KindPayoutFailed tells the user a salary payout did not go through.
	KindPayoutFailed = "payout_failed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems such as an SMS gateway.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. OTP bodies are never logged.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	body := message.Body
	if message.Kind == KindOTP {
		body = "[redacted]"
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", body)
	return nil
}

// Recorder keeps every message in memory. Tests read OTP codes from it.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Last returns the most recent message of the given kind sent to destination.
func (r *Recorder) Last(kind, destination string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.Kind == kind && m.Destination == destination {
			return m, true
		}
	}
	return Message{}, false
}
