// Package audio discovers Pulse input sources and captures PCM frames from them.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	clientName = "murmur"
	clientIcon = "audio-input-microphone"
)

var (
	// ErrPermissionDenied reports that the sound server refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable reports that the capture device stopped delivering audio.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Device is one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// ListDevices returns the server's input sources, default source first.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(reply))
	for _, src := range reply {
		if src == nil {
			continue
		}
		devices = append(devices, toDevice(src, def.ID()))
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Default && !devices[j].Default
	})
	return devices, nil
}

func toDevice(src *pulseproto.GetSourceInfoReply, defaultID string) Device {
	return Device{
		ID:          src.SourceName,
		Description: src.Device,
		State:       sourceStateString(src.State),
		Available:   sourceAvailable(src),
		Muted:       src.Mute,
		Default:     src.SourceName == defaultID,
	}
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(clientName),
		pulse.ClientApplicationIconName(clientIcon),
	)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	return client, nil
}

// classifyConnectError maps access refusals to ErrPermissionDenied.
func classifyConnectError(err error) error {
	switch {
	case err == nil:
		return nil
	case isPermissionError(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("connect pulse server: %w", err)
	}
}

func isPermissionError(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"access denied", "permission denied"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

var sourceStates = [...]string{"running", "idle", "suspended"}

func sourceStateString(state uint32) string {
	if int(state) < len(sourceStates) {
		return sourceStates[state]
	}
	return fmt.Sprintf("unknown(%d)", state)
}

// Port availability values: 0 unknown, 1 no, 2 yes.
const portNotAvailable = 1

// sourceAvailable is false only when the active port reports "no".
func sourceAvailable(src *pulseproto.GetSourceInfoReply) bool {
	if src == nil {
		return false
	}
	for _, port := range src.Ports {
		if port.Name == src.ActivePortName {
			return port.Available != portNotAvailable
		}
	}
	return true
}
