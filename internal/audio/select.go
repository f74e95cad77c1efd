package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Selection is the device a session will capture from. Warning is set when
// the configured input could not be used and another device was chosen.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// SelectDevice lists live sources and resolves the input and fallback
// preferences against them.
func SelectDevice(ctx context.Context, input, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList prefers input, then fallback, then the default source.
// A preference of "" or "default" means the server default.
func selectDeviceFromList(devices []Device, input, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	primary, err := lookup(devices, input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input: %w", err)
	}
	reason := unusable(primary)
	if reason == "" {
		return Selection{Device: primary}, nil
	}

	alt, err := lookup(devices, fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and fallback failed: %w", primary.ID, reason, err)
	}
	if why := unusable(alt); why != "" {
		return Selection{}, fmt.Errorf("audio fallback device %q is %s", alt.ID, why)
	}

	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

// lookup resolves a preference to a device: the default source for an
// empty or "default" term, otherwise the first id/description match.
func lookup(devices []Device, term string) (Device, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || term == "default" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}
	for _, d := range devices {
		if deviceMatches(d, term) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%q did not match any device", term)
}

func unusable(d Device) string {
	switch {
	case d.Muted:
		return "muted"
	case !d.Available:
		return "not available"
	default:
		return ""
	}
}

// deviceMatches reports whether a lowercase term appears in the device id or description.
func deviceMatches(d Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(d.ID), term) ||
		strings.Contains(strings.ToLower(d.Description), term)
}
