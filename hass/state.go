package hass

// StateClass tells Home Assistant how to build long term statistics for a sensor.
//
// See https://developers.home-assistant.io/docs/core/entity/sensor/#available-state-classes.
type StateClass string

const (
	// StateClassMeasurement is a value measured right now, such as the current temperature.
	StateClassMeasurement StateClass = "measurement"
	// StateClassTotal is an accumulated amount that may go up or down.
	StateClassTotal StateClass = "total"
	// StateClassTotalIncreasing is a monotonically increasing counter that may reset to zero.
	StateClassTotalIncreasing StateClass = "total_increasing"
)

// DeviceClass selects the icon, unit handling and translation Home Assistant applies to an entity.
type DeviceClass string

// Sensor device classes.
const (
	DeviceClassTemperature DeviceClass = "temperature"
	DeviceClassHumidity    DeviceClass = "humidity"
	DeviceClassPressure    DeviceClass = "pressure"
)

// Binary sensor device classes.
const (
	DeviceClassProblem      DeviceClass = "problem"
	DeviceClassConnectivity DeviceClass = "connectivity"
)

// Switch device classes.
const (
	DeviceClassSwitch DeviceClass = "switch"
)

// EntityCategory marks entities that configure or diagnose a device rather than expose its primary function.
type EntityCategory string

const (
	EntityCategoryConfig     EntityCategory = "config"
	EntityCategoryDiagnostic EntityCategory = "diagnostic"
)
