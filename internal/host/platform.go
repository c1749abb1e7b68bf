package host

// Capability is a runtime permission the host OS may have to grant before BLE
// operations are allowed.
type Capability string

const (
	CapabilityFineLocation Capability = "android.permission.ACCESS_FINE_LOCATION"
	CapabilityScan         Capability = "android.permission.BLUETOOTH_SCAN"
	CapabilityConnect      Capability = "android.permission.BLUETOOTH_CONNECT"
)

// Operating systems the permission policy knows about.
const (
	OSAndroid = "android"
	OSIOS     = "ios"
	OSDarwin  = "darwin"
	OSLinux   = "linux"
	OSWindows = "windows"
)

// AndroidRuntimeBLEPermissionsLevel is the first Android API level (12/S) that
// replaced the location permission with BLUETOOTH_SCAN/BLUETOOTH_CONNECT.
const AndroidRuntimeBLEPermissionsLevel = 31

// Platform identifies the OS the host stack runs on.
type Platform struct {
	OS       string `yaml:"os"`
	APILevel int    `yaml:"api_level"`
}

// IsAndroid reports whether the platform is Android.
func (p Platform) IsAndroid() bool { return p.OS == OSAndroid }

// NeedsExplicitGrant reports whether BLE use must be granted at runtime.
func (p Platform) NeedsExplicitGrant() bool { return p.IsAndroid() }

// Known reports whether the permission policy covers this OS.
func (p Platform) Known() bool {
	switch p.OS {
	case OSAndroid, OSIOS, OSDarwin, OSLinux, OSWindows:
		return true
	default:
		return false
	}
}
