package mpesa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StaticGateway simulates Daraja. It accepts every request unless an error
// is configured, and can be slowed down to exercise caller timeouts.
type StaticGateway struct {
	mu       sync.Mutex
	STKErr   error
	B2CErr   error
	B2CDelay time.Duration

	pushes  []STKRequest
	payouts []B2CRequest
}

// STKPush records the request and returns synthetic identifiers.
func (g *StaticGateway) STKPush(_ context.Context, req STKRequest) (STKResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.STKErr != nil {
		return STKResponse{}, g.STKErr
	}
	g.pushes = append(g.pushes, req)
	return STKResponse{
		MerchantRequestID:   "mr_" + uuid.NewString(),
		CheckoutRequestID:   "ws_CO_" + uuid.NewString(),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
	}, nil
}

// B2C waits for B2CDelay or ctx, whichever ends first, then accepts.
func (g *StaticGateway) B2C(ctx context.Context, req B2CRequest) (B2CResponse, error) {
	g.mu.Lock()
	delay, failure := g.B2CDelay, g.B2CErr
	g.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return B2CResponse{}, ctx.Err()
		}
	}
	if failure != nil {
		return B2CResponse{}, failure
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.payouts = append(g.payouts, req)
	return B2CResponse{
		ConversationID:           "AG_" + uuid.NewString(),
		OriginatorConversationID: uuid.NewString(),
		ResponseCode:             "0",
		ResponseDescription:      "Accept the service request successfully.",
	}, nil
}

// Payouts returns the accepted B2C requests.
func (g *StaticGateway) Payouts() []B2CRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]B2CRequest(nil), g.payouts...)
}

// Pushes returns the accepted STK requests.
func (g *StaticGateway) Pushes() []STKRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]STKRequest(nil), g.pushes...)
}
