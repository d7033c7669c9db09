package sshsession

import "strings"

// Profile describes how to drive one family of devices over SSH.
type Profile struct {
	Name string
	// ProbeCommand is run by HealthProbe after the transport keepalive.
	ProbeCommand string
	// PagingCommand disables output paging in interactive shells.
	PagingCommand string
	// EnableCommand enters privileged mode. Empty means the platform has
	// no enable mode and Enable is a no-op.
	EnableCommand string
	ExitCommand   string
}

var profiles = map[string]Profile{
	"cisco_ios": {
		Name:          "cisco_ios",
		ProbeCommand:  "show version",
		PagingCommand: "terminal length 0",
		EnableCommand: "enable",
		ExitCommand:   "exit",
	},
	"cisco_xe": {
		Name:          "cisco_xe",
		ProbeCommand:  "show version",
		PagingCommand: "terminal length 0",
		EnableCommand: "enable",
		ExitCommand:   "exit",
	},
	"cisco_nxos": {
		Name:          "cisco_nxos",
		ProbeCommand:  "show version",
		PagingCommand: "terminal length 0",
		ExitCommand:   "exit",
	},
	"arista_eos": {
		Name:          "arista_eos",
		ProbeCommand:  "show version",
		PagingCommand: "terminal length 0",
		EnableCommand: "enable",
		ExitCommand:   "exit",
	},
	"juniper_junos": {
		Name:          "juniper_junos",
		ProbeCommand:  "show version",
		PagingCommand: "set cli screen-length 0",
		ExitCommand:   "exit",
	},
	"linux": {
		Name:         "linux",
		ProbeCommand: "true",
		ExitCommand:  "exit",
	},
}

var genericProfile = Profile{
	Name:         "generic",
	ProbeCommand: "show version",
	ExitCommand:  "exit",
}

// ProfileFor returns the profile for deviceType, falling back to a generic
// profile for unknown types.
func ProfileFor(deviceType string) Profile {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(deviceType))]; ok {
		return p
	}
	return genericProfile
}

// KnownDeviceType reports whether deviceType has a dedicated profile.
func KnownDeviceType(deviceType string) bool {
	_, ok := profiles[strings.ToLower(strings.TrimSpace(deviceType))]
	return ok
}
