package server

import (
	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/source"
)

// permissionNames maps every individually grantable control to the
// name a user-table exception pattern matches against. Exported
// indirectly through ComputeMask; spec.md §4.M ties a session's
// permission mask to the authenticated user's entry, and §6 describes
// the entry as a default access plus a set of named exceptions.
var permissionNames = map[source.Permission]string{
	source.PermHalt:               "halt",
	source.PermSetFrequency:       "set_frequency",
	source.PermSetGain:            "set_gain",
	source.PermSetAntenna:         "set_antenna",
	source.PermSetBandwidth:       "set_bandwidth",
	source.PermSetPPM:             "set_ppm",
	source.PermSetDCRemove:        "set_dc_remove",
	source.PermSetIQReverse:       "set_iq_reverse",
	source.PermSetAGC:             "set_agc",
	source.PermOpenAudioInspector: "open_audio_inspector",
	source.PermOpenRawInspector:   "open_raw_inspector",
	source.PermOpenInspector:      "open_inspector",
	source.PermSetFFTSize:         "set_fft_size",
	source.PermSetFFTFPS:          "set_fft_fps",
	source.PermSetFFTWindow:       "set_fft_window",
	source.PermSeek:               "seek",
	source.PermThrottle:           "throttle",
	source.PermSetBasebandFilter:  "set_baseband_filter",
}

// ComputeMask derives a session's effective permission mask from its
// user-table entry: default_access sets the baseline (allow grants
// everything, anything else grants nothing), then every exception
// pattern that matches a control's name flips that single bit.
func ComputeMask(user config.UserEntry) source.Permission {
	var mask source.Permission
	if user.DefaultAccess == "allow" {
		mask = source.PermAll
	}
	for perm, name := range permissionNames {
		if user.MatchesException(name) {
			mask ^= perm
		}
	}
	return mask
}

// methodPermission maps an InvokeCall's method name to the permission
// bit it requires. Methods absent from this table are always denied.
var methodPermission = map[string]source.Permission{
	"halt":                      source.PermHalt,
	"set_frequency":             source.PermSetFrequency,
	"set_bandwidth":             source.PermSetBandwidth,
	"set_ppm":                   source.PermSetPPM,
	"set_gain":                  source.PermSetGain,
	"set_antenna":               source.PermSetAntenna,
	"set_dc_remove":             source.PermSetDCRemove,
	"set_agc":                   source.PermSetAGC,
	"open_inspector":            source.PermOpenInspector,
	"close_inspector":           source.PermOpenInspector,
	"set_inspector_frequency":   source.PermOpenInspector,
	"set_inspector_bandwidth":   source.PermOpenInspector,
}
