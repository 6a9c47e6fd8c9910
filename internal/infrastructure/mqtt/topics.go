package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every nsmd topic.
const TopicPrefix = "nsm"

// Topics builds nsmd MQTT topics.
//
//	nsm/sensor/{uuid}/{sensor}   sensor readings
//	nsm/event/{uuid}             dispatched device events
//	nsm/async/{op_id}            async operation status
//	nsm/system/status            daemon online/offline (retained, LWT)
//	nsm/system/health            periodic health report (retained)
//	nsm/command/rediscover/{eid} rediscovery trigger
type Topics struct{}

// SensorReading returns the topic a sensor's readings are published on.
//
// Example: nsm/sensor/gpu-0/temp
func (Topics) SensorReading(deviceUUID, sensor string) string {
	return fmt.Sprintf("%s/sensor/%s/%s", TopicPrefix, deviceUUID, sensor)
}

// DeviceEvent returns the topic for events raised by a device. Events from
// an EID with no registered device use "eid-{n}" in place of the UUID.
//
// Example: nsm/event/gpu-0
func (Topics) DeviceEvent(deviceUUID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceUUID)
}

// AsyncStatus returns the topic for status changes of one async operation.
func (Topics) AsyncStatus(opID string) string {
	return fmt.Sprintf("%s/async/%s", TopicPrefix, opID)
}

// SystemStatus returns the retained online/offline topic. It is also the
// Last Will topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SystemHealth returns the retained health report topic.
func (Topics) SystemHealth() string {
	return TopicPrefix + "/system/health"
}

// Rediscover returns the command topic that triggers rediscovery of eid.
func (Topics) Rediscover(eid uint8) string {
	return fmt.Sprintf("%s/command/rediscover/%d", TopicPrefix, eid)
}

// AllRediscover matches every rediscovery command.
func (Topics) AllRediscover() string {
	return TopicPrefix + "/command/rediscover/+"
}

// AllSensorReadings matches every sensor reading.
func (Topics) AllSensorReadings() string {
	return TopicPrefix + "/sensor/#"
}

// ParseRediscover extracts the EID from a rediscovery command topic.
func ParseRediscover(topic string) (uint8, error) {
	raw, ok := strings.CutPrefix(topic, TopicPrefix+"/command/rediscover/")
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	eid, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidTopic, topic, err)
	}
	return uint8(eid), nil
}
