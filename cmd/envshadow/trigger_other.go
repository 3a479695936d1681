//go:build !unix

package main

import "github.com/nlowe/envshadow/sensor"

func notifyTrigger(*sensor.Trigger) func() {
	return func() {}
}
