// Package sensor reads temperature, humidity and pressure from a DHT12 style frame source and a barometer.
//
// Hardware access sits behind the Bus and Barometer interfaces. The package ships simulated implementations for
// hosts without the sensors, and a test mode that always returns the same fixed reading.
package sensor
