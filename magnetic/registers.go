package magnetic

import "time"

// field names a bit field of the read or write register image.
type field uint8

const (
	rBX1 field = iota
	rBX2
	rBY1
	rBY2
	rBZ1
	rBZ2
	rTemp1
	rTemp2
	rFrameCounter
	rChannel
	rPowerDownFlag
	rRes1
	rRes2
	rRes3
	wParity
	wAddr
	wInt
	wFast
	wLowPower
	wTempNEn
	wLPPeriod
	wParityEn
	wRes1
	wRes2
	wRes3
	numFields
)

type regMask struct {
	write bool
	index uint8
	mask  byte
	shift uint8
}

var regMasks = [numFields]regMask{
	rBX1:           {false, 0, 0xFF, 0},
	rBX2:           {false, 4, 0xF0, 4},
	rBY1:           {false, 1, 0xFF, 0},
	rBY2:           {false, 4, 0x0F, 0},
	rBZ1:           {false, 2, 0xFF, 0},
	rBZ2:           {false, 5, 0x0F, 0},
	rTemp1:         {false, 3, 0xF0, 4},
	rTemp2:         {false, 6, 0xFF, 0},
	rFrameCounter:  {false, 3, 0x0C, 2},
	rChannel:       {false, 3, 0x03, 0},
	rPowerDownFlag: {false, 5, 0x10, 4},
	rRes1:          {false, 7, 0x18, 3},
	rRes2:          {false, 8, 0xFF, 0},
	rRes3:          {false, 9, 0x1F, 0},
	wParity:        {true, 1, 0x80, 7},
	wAddr:          {true, 1, 0x60, 5},
	wInt:           {true, 1, 0x04, 2},
	wFast:          {true, 1, 0x02, 1},
	wLowPower:      {true, 1, 0x01, 0},
	wTempNEn:       {true, 3, 0x80, 7},
	wLPPeriod:      {true, 3, 0x40, 6},
	wParityEn:      {true, 3, 0x20, 5},
	wRes1:          {true, 1, 0x18, 3},
	wRes2:          {true, 2, 0xFF, 0},
	wRes3:          {true, 3, 0x1F, 0},
}

// AccessMode selects how the sensor measures and how it is read.
type AccessMode uint8

const (
	PowerDown AccessMode = iota
	Fast
	LowPower
	UltraLowPower
	MasterControlled
)

var modeNames = [...]string{"power-down", "fast", "low-power", "ultra-low-power", "master-controlled"}

func (m AccessMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

type accessMode struct {
	fast            byte
	lowPower        byte
	lowPowerPeriod  byte
	measurementTime time.Duration
}

var accessModes = [...]accessMode{
	PowerDown:        {0, 0, 0, 1000 * time.Millisecond},
	Fast:             {1, 0, 0, 0},
	LowPower:         {0, 1, 1, 10 * time.Millisecond},
	UltraLowPower:    {0, 1, 0, 100 * time.Millisecond},
	MasterControlled: {1, 1, 1, 10 * time.Millisecond},
}
