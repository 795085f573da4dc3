package kaka

import (
	"go.uber.org/zap"

	"github.com/CK6170/roverlink/models"
)

// NewHubFromParams builds a hub from the KAKA config section. A nil section
// or a zero RATE_LIMIT keeps the defaults.
func NewHubFromParams(p *models.KAKA, log *zap.Logger) (*Hub, error) {
	opts := []HubOption{WithHubLogger(log)}
	if p == nil {
		return NewHub(opts...), nil
	}
	mode, err := ParseInputMode(p.INPUT_MODE)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithInputMode(mode), WithSendRate(p.RATE_LIMIT))
	return NewHub(opts...), nil
}
