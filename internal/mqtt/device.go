package mqtt

import (
	"runtime"

	"github.com/anicolao/morpheum/internal/buildinfo"
)

// DeviceInfo is published retained to the device topic so subscribers
// can tell instances apart.
type DeviceInfo struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
}

// NewDeviceInfo describes this process. The instance ID is stable
// across restarts and renames; name is the configured device name.
func NewDeviceInfo(instanceID, name string) DeviceInfo {
	return DeviceInfo{
		InstanceID: instanceID,
		Name:       name,
		Version:    buildinfo.Version,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
