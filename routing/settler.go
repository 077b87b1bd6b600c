package routing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Settler submits a trade on the selected venue and returns its settlement
// reference.
type Settler interface {
	Submit(ctx context.Context, orderID, venue string) (string, error)
}

// SimulatedSettler waits for delay and returns a random 64 hex character
// reference.
type SimulatedSettler struct {
	delay time.Duration
}

func NewSimulatedSettler(delay time.Duration) *SimulatedSettler {
	return &SimulatedSettler{delay: delay}
}

func (s *SimulatedSettler) Submit(ctx context.Context, _, _ string) (string, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
