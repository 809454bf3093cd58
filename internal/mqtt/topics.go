package mqtt

import "fmt"

func TopicRunResult(prefix, runID string) string {
	return fmt.Sprintf("%s/runs/%s/result", prefix, runID)
}

func TopicCrisisAlert(prefix string) string {
	return fmt.Sprintf("%s/alerts/crisis", prefix)
}

func TopicDeviceOnline(prefix string) string {
	return fmt.Sprintf("%s/device/+/online", prefix)
}

func TopicOnline(prefix, deviceID string) string {
	return fmt.Sprintf("%s/device/%s/online", prefix, deviceID)
}
