package bsp

import (
	"context"
	"fmt"
	"time"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrNoAck is reported by transports when the addressed target did not acknowledge.
var ErrNoAck = fmt.Errorf("I2C target did not acknowledge")

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is a raw I2C transport. Every call is a complete transfer to a 7-bit address.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// SPIConn is a full-duplex SPI transport. w and r may differ in length; a nil r discards
// the received bytes.
type SPIConn interface {
	Tx(w, r []byte) error
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
