package iot

// Defaults reported in the username metrics query parameters.
const (
	DefaultSDKName    = "IoTDeviceSDK/Go"
	DefaultSDKVersion = "1.0.0"
)
