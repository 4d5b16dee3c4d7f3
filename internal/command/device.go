package command

import (
	"strconv"
	"strings"

	"petalsmon/internal/config"
	"petalsmon/internal/validate"
	"petalsmon/pkg/types"
)

// ResolveDevice turns a persisted device reference into the --device value.
//
// GPU enumeration order is not stable across boots, so a reference by UUID
// is looked up in the current device list and mapped to its present index.
// A positional "cuda:N" is accepted as long as index N exists; when devices
// is nil (enumeration unavailable) it is passed through unchecked.
func ResolveDevice(ref config.DeviceRef, devices []types.Device) (string, error) {
	s := strings.TrimSpace(string(ref))
	switch {
	case s == "" || strings.EqualFold(s, string(config.DeviceCPU)):
		return string(config.DeviceCPU), nil
	case strings.HasPrefix(s, "GPU-"):
		for _, d := range devices {
			if d.UUID == s {
				return "cuda:" + strconv.Itoa(d.Index), nil
			}
		}
		return "", validate.Errorf("device", s+" is not present")
	case strings.HasPrefix(s, "cuda:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || n < 0 {
			return "", validate.Errorf("device", "malformed "+s)
		}
		if devices == nil {
			return s, nil
		}
		for _, d := range devices {
			if d.Index == n {
				return s, nil
			}
		}
		return "", validate.Errorf("device", s+" is not present")
	}
	return "", validate.Errorf("device", "unknown device "+s)
}

// StableRef returns the reference to persist for a device chosen by index:
// its UUID when known, so later runs survive reordering.
func StableRef(d types.Device) config.DeviceRef {
	if d.UUID != "" {
		return config.DeviceRef(d.UUID)
	}
	return config.DeviceRef("cuda:" + strconv.Itoa(d.Index))
}
