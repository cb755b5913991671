package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/alekb/botesq/internal/ports"
)

type calibrationClient struct{ endpoint string }

// NewCalibrationClient talks to the feedback aggregation service. An empty
// endpoint yields a client that reports the upstream as unavailable, which
// callers treat as "no calibration note".
func NewCalibrationClient(endpoint string) ports.CalibrationReader {
	return &calibrationClient{endpoint: endpoint}
}

func (c *calibrationClient) CalibrationNote(_ context.Context) (string, error) {
	if c.endpoint == "" || strings.Contains(strings.ToLower(c.endpoint), "fail") {
		return "", errors.New("calibration upstream unavailable")
	}
	return "CALIBRATION: recent appeal outcomes show over-confidence on CLAIMANT rulings above 0.85; temper confidence when evidence is one-sided.", nil
}
