package connection

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// TargetOS is the operating system of a test peer.
type TargetOS string

const (
	Linux   TargetOS = "linux"
	Mac     TargetOS = "mac"
	Windows TargetOS = "windows"
)

// String returns the OS name.
func (o TargetOS) String() string { return string(o) }

// Valid reports whether o is one of the supported operating systems.
func (o TargetOS) Valid() bool {
	return o == Linux || o == Mac || o == Windows
}

// HostOS returns the TargetOS of the machine nettrace runs on.
func HostOS() TargetOS {
	switch runtime.GOOS {
	case "darwin":
		return Mac
	case "windows":
		return Windows
	default:
		return Linux
	}
}

// Tag identifies the simulated environment hosting one test peer.
type Tag string

const (
	TagLocal Tag = "LOCAL"

	TagConeClient1                 Tag = "DOCKER_CONE_CLIENT_1"
	TagConeClient2                 Tag = "DOCKER_CONE_CLIENT_2"
	TagFullconeClient1             Tag = "DOCKER_FULLCONE_CLIENT_1"
	TagFullconeClient2             Tag = "DOCKER_FULLCONE_CLIENT_2"
	TagSymmetricClient1            Tag = "DOCKER_SYMMETRIC_CLIENT_1"
	TagSymmetricClient2            Tag = "DOCKER_SYMMETRIC_CLIENT_2"
	TagUpnpClient1                 Tag = "DOCKER_UPNP_CLIENT_1"
	TagUpnpClient2                 Tag = "DOCKER_UPNP_CLIENT_2"
	TagSharedClient1               Tag = "DOCKER_SHARED_CLIENT_1"
	TagOpenInternetClient1         Tag = "DOCKER_OPEN_INTERNET_CLIENT_1"
	TagOpenInternetClient2         Tag = "DOCKER_OPEN_INTERNET_CLIENT_2"
	TagOpenInternetClientDualStack Tag = "DOCKER_OPEN_INTERNET_CLIENT_DUAL_STACK"
	TagUDPBlockClient1             Tag = "DOCKER_UDP_BLOCK_CLIENT_1"
	TagUDPBlockClient2             Tag = "DOCKER_UDP_BLOCK_CLIENT_2"
	TagInternalSymmetricClient     Tag = "DOCKER_INTERNAL_SYMMETRIC_CLIENT"

	TagWindowsVM1 Tag = "WINDOWS_VM_1"
	TagWindowsVM2 Tag = "WINDOWS_VM_2"
	TagMacVM      Tag = "MAC_VM"
)

var tagAliases = map[string]Tag{
	"WINDOWS_VM": TagWindowsVM1,
}

// Tags returns every known tag in declaration order.
func Tags() []Tag {
	return []Tag{
		TagLocal,
		TagConeClient1, TagConeClient2,
		TagFullconeClient1, TagFullconeClient2,
		TagSymmetricClient1, TagSymmetricClient2,
		TagUpnpClient1, TagUpnpClient2,
		TagSharedClient1,
		TagOpenInternetClient1, TagOpenInternetClient2, TagOpenInternetClientDualStack,
		TagUDPBlockClient1, TagUDPBlockClient2,
		TagInternalSymmetricClient,
		TagWindowsVM1, TagWindowsVM2,
		TagMacVM,
	}
}

// ParseTag resolves a tag name case-insensitively.
func ParseTag(s string) (Tag, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := tagAliases[name]; ok {
		return alias, nil
	}
	if slices.Contains(Tags(), Tag(name)) {
		return Tag(name), nil
	}
	return "", fmt.Errorf("unknown connection tag %q", s)
}

// TargetOS returns the operating system of the environment the tag names.
// TagLocal reports the host OS.
func (t Tag) TargetOS() TargetOS {
	switch {
	case t == TagLocal:
		return HostOS()
	case strings.HasPrefix(string(t), "WINDOWS_"):
		return Windows
	case strings.HasPrefix(string(t), "MAC_"):
		return Mac
	default:
		return Linux
	}
}

// TargetName is the peer name used for artifact file names,
// e.g. "cone-client-1" for DOCKER_CONE_CLIENT_1.
func (t Tag) TargetName() string {
	name := strings.TrimPrefix(string(t), "DOCKER_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// String returns the tag name.
func (t Tag) String() string { return string(t) }
