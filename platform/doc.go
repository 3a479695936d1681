// Package platform implements the Home Assistant MQTT platforms the agent exposes: sensor, binary_sensor and switch.
// Each type satisfies envshadow.Platform, and PlatformName returns the name Home Assistant expects in the discovery
// payload.
//
// See https://www.home-assistant.io/integrations/mqtt for the full list of platforms.
package platform
