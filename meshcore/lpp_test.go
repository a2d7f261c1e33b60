// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLPPScalars(t *testing.T) {
	buf := []byte{
		1, byte(LPPTemperature), 0xFF, 0x00, // 255 -> 25.5 C
		2, byte(LPPHumidity), 131, // 65.5 %
		3, byte(LPPBarometer), 0x7F, 0x27, // 10111 -> 1011.1 hPa
		4, byte(LPPVoltage), 0x6E, 0x01, // 366 -> 3.66 V
	}
	points := DecodeLPP(buf)
	require.Len(t, points, 4)
	assert.Equal(t, LPPDataPoint{Channel: 1, Type: LPPTemperature, Value: 25.5}, points[0])
	assert.Equal(t, LPPDataPoint{Channel: 2, Type: LPPHumidity, Value: 65.5}, points[1])
	assert.Equal(t, LPPDataPoint{Channel: 3, Type: LPPBarometer, Value: 1011.1}, points[2])
	assert.Equal(t, LPPDataPoint{Channel: 4, Type: LPPVoltage, Value: 3.66}, points[3])
}

func TestDecodeLPPNegativeTemperature(t *testing.T) {
	buf := []byte{1, byte(LPPTemperature), 0x9C, 0xFF} // -100 -> -10.0 C
	points := DecodeLPP(buf)
	require.Len(t, points, 1)
	assert.Equal(t, -10.0, points[0].Value)
}

func TestDecodeLPPAccelerometer(t *testing.T) {
	buf := []byte{
		5, byte(LPPAccelerometer),
		0xE8, 0x03, // 1.000
		0x18, 0xFC, // -1.000
		0x00, 0x00,
	}
	points := DecodeLPP(buf)
	require.Len(t, points, 1)
	assert.Equal(t, [3]float64{1, -1, 0}, points[0].Vector)
}

func TestDecodeLPPGPS(t *testing.T) {
	// lat 48.8566 -> 488566, lon 2.3522 -> 23522, alt 35.00 -> 3500
	buf := []byte{
		6, byte(LPPGPS),
		0x76, 0x74, 0x07,
		0xE2, 0x5B, 0x00,
		0xAC, 0x0D, 0x00,
	}
	points := DecodeLPP(buf)
	require.Len(t, points, 1)
	loc := points[0].Location
	require.NotNil(t, loc)
	assert.InDelta(t, 48.8566, loc.Lat, 1e-4)
	assert.InDelta(t, 2.3522, loc.Lon, 1e-4)
	assert.InDelta(t, 35.0, loc.Alt, 1e-2)
}

func TestDecodeLPPGPSNegative(t *testing.T) {
	// lat -33.8688 -> -338688 = 0xFAD500 two's complement over 24 bits
	buf := []byte{
		1, byte(LPPGPS),
		0x00, 0xD5, 0xFA,
		0x00, 0x00, 0x00,
		0x00, 0x00, 0x00,
	}
	points := DecodeLPP(buf)
	require.Len(t, points, 1)
	assert.InDelta(t, -33.8688, points[0].Location.Lat, 1e-4)
}

func TestDecodeLPPTermination(t *testing.T) {
	// zero channel octet ends the stream
	buf := []byte{
		1, byte(LPPPresence), 1,
		0, byte(LPPTemperature), 0x01, 0x00,
	}
	points := DecodeLPP(buf)
	require.Len(t, points, 1)

	// unknown type code ends the stream
	buf = []byte{
		1, byte(LPPPresence), 1,
		2, 0xEE, 0x01,
		3, byte(LPPPresence), 1,
	}
	points = DecodeLPP(buf)
	require.Len(t, points, 1)

	// truncated value ends the stream
	buf = []byte{1, byte(LPPGPS), 0x01, 0x02}
	assert.Empty(t, DecodeLPP(buf))

	assert.Empty(t, DecodeLPP(nil))
	assert.Empty(t, DecodeLPP([]byte{7}))
}
