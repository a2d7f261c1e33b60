// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import "strconv"

// Cayenne Low Power Payload decoder. Telemetry frames carry a stream of
// (channel, type, value) tuples; the stream ends at the first zero
// channel octet, at an unknown type code, or at the end of the buffer.

// LPPType is the Cayenne LPP data type code.
type LPPType uint8

// LPP data types carried by telemetry responses.
const (
	LPPDigitalInput  LPPType = 0
	LPPDigitalOutput LPPType = 1
	LPPAnalogInput   LPPType = 2
	LPPAnalogOutput  LPPType = 3
	LPPGenericSensor LPPType = 100
	LPPLuminosity    LPPType = 101
	LPPPresence      LPPType = 102
	LPPTemperature   LPPType = 103
	LPPHumidity      LPPType = 104
	LPPAccelerometer LPPType = 113
	LPPBarometer     LPPType = 115
	LPPVoltage       LPPType = 116
	LPPCurrent       LPPType = 117
	LPPFrequency     LPPType = 118
	LPPPercentage    LPPType = 120
	LPPAltitude      LPPType = 121
	LPPConcentration LPPType = 125
	LPPPower         LPPType = 128
	LPPDistance      LPPType = 130
	LPPEnergy        LPPType = 131
	LPPDirection     LPPType = 132
	LPPGyrometer     LPPType = 134
	LPPGPS           LPPType = 136
	LPPSwitch        LPPType = 142
)

var lppNames = map[LPPType]string{
	LPPDigitalInput:  "DigitalInput",
	LPPDigitalOutput: "DigitalOutput",
	LPPAnalogInput:   "AnalogInput",
	LPPAnalogOutput:  "AnalogOutput",
	LPPGenericSensor: "GenericSensor",
	LPPLuminosity:    "Luminosity",
	LPPPresence:      "Presence",
	LPPTemperature:   "Temperature",
	LPPHumidity:      "Humidity",
	LPPAccelerometer: "Accelerometer",
	LPPBarometer:     "Barometer",
	LPPVoltage:       "Voltage",
	LPPCurrent:       "Current",
	LPPFrequency:     "Frequency",
	LPPPercentage:    "Percentage",
	LPPAltitude:      "Altitude",
	LPPConcentration: "Concentration",
	LPPPower:         "Power",
	LPPDistance:      "Distance",
	LPPEnergy:        "Energy",
	LPPDirection:     "Direction",
	LPPGyrometer:     "Gyrometer",
	LPPGPS:           "GPS",
	LPPSwitch:        "Switch",
}

func (sf LPPType) String() string {
	if s, ok := lppNames[sf]; ok {
		return "LPP<" + s + ">"
	}
	return "LPP<" + strconv.FormatUint(uint64(sf), 10) + ">"
}

// LPPLocation is a decoded GPS tuple.
type LPPLocation struct {
	Lat float64 // degrees
	Lon float64 // degrees
	Alt float64 // meters
}

// LPPDataPoint is one decoded telemetry tuple. Scalar types fill Value;
// accelerometer and gyrometer fill Vector; GPS fills Location.
type LPPDataPoint struct {
	Channel  uint8
	Type     LPPType
	Value    float64
	Vector   [3]float64
	Location *LPPLocation
}

// lppSize maps the type code to its serialized value size.
var lppSize = map[LPPType]int{
	LPPDigitalInput:  1,
	LPPDigitalOutput: 1,
	LPPAnalogInput:   2,
	LPPAnalogOutput:  2,
	LPPGenericSensor: 4,
	LPPLuminosity:    2,
	LPPPresence:      1,
	LPPTemperature:   2,
	LPPHumidity:      1,
	LPPAccelerometer: 6,
	LPPBarometer:     2,
	LPPVoltage:       2,
	LPPCurrent:       2,
	LPPFrequency:     4,
	LPPPercentage:    1,
	LPPAltitude:      2,
	LPPConcentration: 2,
	LPPPower:         2,
	LPPDistance:      4,
	LPPEnergy:        4,
	LPPDirection:     2,
	LPPGyrometer:     6,
	LPPGPS:           9,
	LPPSwitch:        1,
}

// DecodeLPP decodes a telemetry buffer into data points. It never
// fails: malformed or unknown input simply ends the stream, matching
// firmware behavior.
func DecodeLPP(buf []byte) []LPPDataPoint {
	var points []LPPDataPoint
	for len(buf) >= 2 {
		channel := buf[0]
		if channel == 0 {
			break
		}
		typ := LPPType(buf[1])
		size, known := lppSize[typ]
		if !known || len(buf) < 2+size {
			break
		}
		val := buf[2 : 2+size]
		buf = buf[2+size:]

		dp := LPPDataPoint{Channel: channel, Type: typ}
		switch typ {
		case LPPDigitalInput, LPPDigitalOutput, LPPPresence, LPPPercentage, LPPSwitch:
			dp.Value = float64(val[0])
		case LPPHumidity:
			dp.Value = float64(val[0]) / 2
		case LPPAnalogInput, LPPAnalogOutput:
			dp.Value = float64(leInt16(val)) / 100
		case LPPTemperature:
			dp.Value = float64(leInt16(val)) / 10
		case LPPBarometer:
			dp.Value = float64(leUint16(val)) / 10
		case LPPVoltage:
			dp.Value = float64(leUint16(val)) / 100
		case LPPCurrent:
			dp.Value = float64(leUint16(val)) / 1000
		case LPPLuminosity, LPPConcentration, LPPPower, LPPDirection:
			dp.Value = float64(leUint16(val))
		case LPPAltitude:
			dp.Value = float64(leInt16(val))
		case LPPGenericSensor, LPPFrequency:
			dp.Value = float64(leUint32(val))
		case LPPDistance, LPPEnergy:
			dp.Value = float64(leUint32(val)) / 1000
		case LPPAccelerometer:
			dp.Vector = [3]float64{
				float64(leInt16(val[0:])) / 1000,
				float64(leInt16(val[2:])) / 1000,
				float64(leInt16(val[4:])) / 1000,
			}
		case LPPGyrometer:
			dp.Vector = [3]float64{
				float64(leInt16(val[0:])) / 100,
				float64(leInt16(val[2:])) / 100,
				float64(leInt16(val[4:])) / 100,
			}
		case LPPGPS:
			dp.Location = &LPPLocation{
				Lat: float64(leInt24(val[0:])) / 10000,
				Lon: float64(leInt24(val[3:])) / 10000,
				Alt: float64(leInt24(val[6:])) / 100,
			}
		}
		points = append(points, dp)
	}
	return points
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func leInt16(b []byte) int16 { return int16(leUint16(b)) }

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// leInt24 sign-extends a 24-bit little-endian integer.
func leInt24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^int32(0xFFFFFF)
	}
	return v
}
