// Package hardware declares the driver contracts the checkpoint loops
// consume. Drivers report a missing reading instead of failing; callers
// treat that as transient.
package hardware

import "context"

// DistanceSensor reports the distance in front of the gate in centimeters.
// ok is false when no echo was received in time.
type DistanceSensor interface {
	Measure(ctx context.Context) (cm float64, ok bool)
}

// CardReader polls the RFID reader once without blocking.
type CardReader interface {
	ReadNonBlocking() (uid string, ok bool)
}

// ServoActuator drives the lock servo. DriveTo takes a PWM duty cycle in
// percent; Stop drops the drive signal to avoid jitter.
type ServoActuator interface {
	DriveTo(duty float64)
	Stop()
}
