package board

import (
	"fmt"
	"strings"

	"github.com/mklimuk/bsp/mux"
)

// Owners of the I2C bus on the reference board.
const (
	I2COptiga mux.Owner = iota + 1
	I2CTLV493D
	I2CTLI493D1
	I2CTLI493D2
	I2CPressure4
	I2CPressure5
	I2CExpander
	i2cOwners
)

// Owners of the SPI bus on the reference board.
const (
	SPILTC mux.Owner = iota + 1
	SPIPressureRead
	SPIPressure1
	SPIPressure2
	SPIPressure3
	SPIWiFi
	spiOwners
)

var i2cNames = map[mux.Owner]string{
	I2COptiga:    "OPTIGA",
	I2CTLV493D:   "TLV493D",
	I2CTLI493D1:  "TLI493D_1",
	I2CTLI493D2:  "TLI493D_2",
	I2CPressure4: "DPS368_4",
	I2CPressure5: "DPS368_5",
	I2CExpander:  "MCP23017",
}

var spiNames = map[mux.Owner]string{
	SPILTC:          "LTC",
	SPIPressureRead: "DPS368_READ",
	SPIPressure1:    "DPS368_1",
	SPIPressure2:    "DPS368_2",
	SPIPressure3:    "DPS368_3",
	SPIWiFi:         "WIFI",
}

func lookup(names map[mux.Owner]string, bus, name string) (mux.Owner, error) {
	for o, n := range names {
		if strings.EqualFold(n, name) {
			return o, nil
		}
	}
	return mux.Unknown, fmt.Errorf("%w: no %s owner named %q", mux.ErrInvalidOwner, bus, name)
}

// I2COwner resolves an owner name used in the board configuration.
func I2COwner(name string) (mux.Owner, error) {
	return lookup(i2cNames, "i2c", name)
}

func SPIOwner(name string) (mux.Owner, error) {
	return lookup(spiNames, "spi", name)
}

func I2COwnerName(o mux.Owner) string {
	if n, ok := i2cNames[o]; ok {
		return n
	}
	return "UNKNOWN"
}

func SPIOwnerName(o mux.Owner) string {
	if n, ok := spiNames[o]; ok {
		return n
	}
	return "UNKNOWN"
}
