package gattuuid

var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1805": "Current Time Service",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"181c": "User Data",
	"fe59": "Nordic Secure DFU",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristicNames = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2a2b": "Current Time",
	"2a37": "Heart Rate Measurement",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

// LookupService returns the well-known name of a service UUID, or "".
func LookupService(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the well-known name of a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}
