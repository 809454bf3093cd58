package mqtt

import (
	"fmt"
	"strings"
)

// expected: {prefix}/runs/{runId}/result
func ParseRunID(topic, prefix string) (string, error) {
	return parseSegment(topic, prefix, "runs")
}

// expected: {prefix}/device/{deviceId}/online
func ParseDeviceID(topic, prefix string) (string, error) {
	return parseSegment(topic, prefix, "device")
}

func parseSegment(topic, prefix, kind string) (string, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) != len(prefixParts)+3 {
		return "", fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return "", fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	if parts[len(prefixParts)] != kind {
		return "", fmt.Errorf("invalid topic pattern: %s", topic)
	}
	id := parts[len(prefixParts)+1]
	if id == "" || id == "+" || id == "#" {
		return "", fmt.Errorf("invalid topic id: %s", topic)
	}
	return id, nil
}
