package utils

import (
	"fmt"
	"github.com/notargets/gocca"
)

// CreateDevice creates an OCCA device. An empty mode tries OpenMP, then CUDA,
// then falls back to Serial.
func CreateDevice(mode string) (*gocca.OCCADevice, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}
	if mode != "" {
		backends = []string{deviceProps(mode)}
	}

	var lastErr error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no OCCA device available: %w", lastErr)
}

func deviceProps(mode string) string {
	if mode == "CUDA" {
		return `{"mode": "CUDA", "device_id": 0}`
	}
	return fmt.Sprintf(`{"mode": "%s"}`, mode)
}
