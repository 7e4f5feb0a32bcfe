package adapter

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/bsp"
)

// scriptedHID answers every report with the next prepared response.
type scriptedHID struct {
	requests  [][]byte
	responses [][]byte
	closes    int
}

func (h *scriptedHID) Write(p []byte) (int, error) {
	h.requests = append(h.requests, append([]byte(nil), p...))
	return len(p), nil
}

func (h *scriptedHID) Read(p []byte) (int, error) {
	if len(h.responses) == 0 {
		return 0, io.EOF
	}
	copy(p, h.responses[0])
	h.responses = h.responses[1:]
	return reportSize, nil
}

func (h *scriptedHID) Close() error {
	h.closes++
	return nil
}

func response(b ...byte) []byte {
	r := make([]byte, reportSize)
	copy(r, b)
	return r
}

func newTestAdapter(h *scriptedHID) *MCP2221 {
	return NewMCP2221(WithResponseWait(0), WithOpener(func(index int) (io.ReadWriteCloser, error) {
		return h, nil
	}))
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	tests := []struct {
		name    string
		resp    []byte
		wantErr error
	}{
		{name: "written", resp: response(0x90, 0x00)},
		{name: "engine busy", resp: response(0x90, 0x01), wantErr: bsp.ErrBusBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &scriptedHID{responses: [][]byte{tt.resp}}
			d := newTestAdapter(h)
			err := d.WriteToAddr(context.Background(), 0x77, []byte{0x0D, 0x10})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, h.requests, 1)
			req := h.requests[0]
			assert.Equal(t, byte(0x90), req[0])
			assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(req[1:3]))
			assert.Equal(t, byte(0x77<<1), req[3])
			assert.Equal(t, []byte{0x0D, 0x10}, req[4:6])
			assert.Equal(t, 1, h.closes)
		})
	}
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	h := &scriptedHID{responses: [][]byte{
		response(0x91, 0x00),
		response(0x40, 0x00, 0x00, 2, 0xAB, 0xCD),
	}}
	d := newTestAdapter(h)
	buf := make([]byte, 2)
	require.NoError(t, d.ReadFromAddr(context.Background(), 0x5E, buf))
	assert.Equal(t, []byte{0xAB, 0xCD}, buf)
	require.Len(t, h.requests, 2)
	assert.Equal(t, byte(0x5E<<1+1), h.requests[0][3])
	assert.Equal(t, response(0x40), h.requests[1], "get data request is clean")

	h = &scriptedHID{responses: [][]byte{
		response(0x91, 0x00),
		response(0x40, 0x00, 0x00, 1, 0xAB),
	}}
	d = newTestAdapter(h)
	assert.Error(t, d.ReadFromAddr(context.Background(), 0x5E, buf), "short read")

	h = &scriptedHID{responses: [][]byte{response(0x91, 0x01)}}
	d = newTestAdapter(h)
	assert.ErrorIs(t, d.ReadFromAddr(context.Background(), 0x5E, buf), bsp.ErrBusBusy)
}

func TestMCP2221_Status(t *testing.T) {
	resp := response(0x10, 0x00)
	binary.LittleEndian.PutUint16(resp[9:11], 6)
	binary.LittleEndian.PutUint16(resp[11:13], 4)
	resp[13] = 2
	resp[14] = 0x75
	resp[15] = 9
	resp[16] = 0xEE
	resp[25] = 1
	h := &scriptedHID{responses: [][]byte{resp}}
	st, err := newTestAdapter(h).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MCP2221Status{
		LastWriteRequestedSize: 6,
		LastWriteSentSize:      4,
		I2CDataBufferCounter:   2,
		I2CSpeedDivider:        0x75,
		I2CTimeout:             9,
		CurrentAddress:         "ee00",
		ReadPending:            1,
	}, st)
}

func TestMCP2221_ReadGPIO(t *testing.T) {
	h := &scriptedHID{responses: [][]byte{
		response(0x51, 0x00, 1, 0x01, 0, 0x00, 0, 0xEF, 1, 0x01),
	}}
	v, err := newTestAdapter(h).ReadGPIO(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GPIOModeIn, v.GPIO0Mode)
	assert.Equal(t, byte(1), v.GPIO0Value)
	assert.Equal(t, GPIOModeOut, v.GPIO1Mode)
	assert.Equal(t, GPIOModeNoOperation, v.GPIO2Mode)
	assert.Equal(t, "INPUT", v.GPIO3Mode.String())
}

func TestMCP2221_OpenErrors(t *testing.T) {
	d := NewMCP2221(WithOpener(func(index int) (io.ReadWriteCloser, error) {
		return nil, ErrDeviceNotFound
	}))
	assert.ErrorIs(t, d.WriteToAddr(context.Background(), 0x77, nil), ErrDeviceNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, newTestAdapter(&scriptedHID{}).Release(ctx), context.Canceled)
}
