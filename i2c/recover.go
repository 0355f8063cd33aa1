package i2c

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Delay between the electrical steps of the recovery sequence.
const recoverDelay = time.Millisecond

// RecoverBus bit-bangs the bus back to idle. Transfer runs the same
// procedure automatically when it finds the lines stuck before a fresh
// transaction.
func (c *Controller) RecoverBus() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoverBusLocked()
}

// recoverBusLocked detaches SCL and SDA from the I2C function, replays a
// start condition, pulses SCL nine times with SDA held high (worst case
// for a device stuck mid-byte), replays a stop condition, and reattaches
// the pins. The pins are restored no matter what; the caller re-checks
// the lines and decides the transaction's fate.
func (c *Controller) recoverBusLocked() error {
	scl, sda := &c.cfg.SCL, &c.cfg.SDA
	if scl.Mux == nil || sda.Mux == nil || scl.GPIO == nil || sda.GPIO == nil {
		return fmt.Errorf("i2c: recover: no recovery pins configured: %w", ErrInvalidArgument)
	}
	var firstErr error
	fail := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	drive := func(l *Line, lv gpio.Level) {
		fail(l.GPIO.Out(lv))
		time.Sleep(recoverDelay)
	}

	fail(scl.Mux.SetOutput(scl.Pin))
	fail(sda.Mux.SetOutput(sda.Pin))

	fail(scl.GPIO.Out(gpio.High))
	drive(sda, gpio.High)

	// Start condition.
	drive(sda, gpio.Low)
	drive(scl, gpio.Low)

	// Nine SCL cycles with SDA held high.
	for i := 0; i < 9; i++ {
		fail(sda.GPIO.Out(gpio.High))
		drive(scl, gpio.High)
		drive(scl, gpio.Low)
	}
	drive(sda, gpio.Low)

	// Stop condition.
	drive(scl, gpio.High)
	drive(sda, gpio.High)

	fail(scl.Mux.SetAlt(scl.Pin, scl.Alt))
	fail(sda.Mux.SetAlt(sda.Pin, sda.Alt))

	c.reset(resetNoIdleForStart)

	if firstErr != nil {
		return fmt.Errorf("i2c: recover: %w", firstErr)
	}
	return nil
}
