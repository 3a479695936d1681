//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nlowe/envshadow/sensor"
)

// notifyTrigger fires t on every SIGUSR1 until the returned func is called.
func notifyTrigger(t *sensor.Trigger) func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-c:
				t.Fire()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(c)
		close(done)
	}
}
