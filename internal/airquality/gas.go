package airquality

import (
	"fmt"
	"math"
)

type Gas int

const (
	GasCO Gas = iota + 1
	GasNO2
	GasNH3
	GasC3H8
	GasC4H10
	GasCH4
	GasH2
	GasC2H5OH
	GasVOC
)

// Gases lists every gas the monitor knows about, in telemetry order.
var Gases = []Gas{GasCO, GasNO2, GasNH3, GasC3H8, GasC4H10, GasCH4, GasH2, GasC2H5OH, GasVOC}

func (g Gas) String() string {
	switch g {
	case GasCO:
		return "CO"
	case GasNO2:
		return "NO2"
	case GasNH3:
		return "NH3"
	case GasC3H8:
		return "C3H8"
	case GasC4H10:
		return "C4H10"
	case GasCH4:
		return "CH4"
	case GasH2:
		return "H2"
	case GasC2H5OH:
		return "C2H5OH"
	case GasVOC:
		return "VOC"
	default:
		return fmt.Sprintf("Gas(%d)", int(g))
	}
}

// channel identifies one MiCS-6814 sensing element.
type channel int

const (
	channelNH3 channel = iota
	channelCO
	channelNO2
)

// baseline derives a clean-air sensing resistance from a 10-bit ADC reading
// taken through a 56 kΩ pull-up (Seeed multichannel gas sensor calibration).
func baseline(adc float64) float64 {
	return 56.0e3 / (1024 - adc) * adc
}

// Clean-air baseline resistances in ohms.
var (
	R0NO2 = baseline(155)
	R0NH3 = baseline(860)
	R0CO  = baseline(950)
)

// curve is a vendor power law: ppm = ratio^exponent * mul / div.
type curve struct {
	channel  channel
	exponent float64
	mul      float64
	div      float64
}

func (c curve) ppm(ratio float64) float64 {
	return math.Pow(ratio, c.exponent) * c.mul / c.div
}

var curves = map[Gas]curve{
	GasCO:     {channel: channelCO, exponent: -1.179, mul: 4.385, div: 1},
	GasNO2:    {channel: channelNO2, exponent: 1.007, mul: 1, div: 6.855},
	GasNH3:    {channel: channelNH3, exponent: -1.67, mul: 1, div: 1.4},
	GasC3H8:   {channel: channelNH3, exponent: -2.518, mul: 570.164, div: 1},
	GasC4H10:  {channel: channelNH3, exponent: -2.138, mul: 398.107, div: 1},
	GasCH4:    {channel: channelCO, exponent: -4.363, mul: 630.957, div: 1},
	GasH2:     {channel: channelCO, exponent: -1.8, mul: 0.73, div: 1},
	GasC2H5OH: {channel: channelCO, exponent: -1.552, mul: 1.622, div: 1},
}
