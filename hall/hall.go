// Package hall drives Infineon Hall effect sensors with digital outputs: the TLE4964,
// TLE4961 and TLE4913 switches and the TLx4966 speed and direction sensor.
//
// Pins use the periph gpio vocabulary; host pins from gpioreg and expander pins both fit.
package hall

import (
	"context"
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

var (
	ErrConfig    = errors.New("hall: invalid configuration")
	ErrInterface = errors.New("hall: interface error")
)

// Input is a sensor output line read by the host.
type Input interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Output drives a sensor supply switch.
type Output interface {
	Out(l gpio.Level) error
}

// PowerMode tells whether the sensor supply is switched by the host.
type PowerMode uint8

const (
	PowerMain PowerMode = iota
	PowerSwitch
)

// MeasMode selects how results are obtained.
type MeasMode uint8

const (
	Polling MeasMode = iota
	Interrupt
	// Timer derives the speed from the time since the last enable only (TLx4966).
	Timer
)

const edgeWaitTimeout = 100 * time.Millisecond

// watch calls handle after every edge on pin until ctx is done.
func watch(ctx context.Context, pin Input, handle func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if pin.WaitForEdge(edgeWaitTimeout) {
			if ctx.Err() != nil {
				return
			}
			handle()
		}
	}
}
