package model

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusCode is the flight status reported by oracles. Values are fixed on the wire.
type StatusCode uint8

const (
	StatusUnknown          StatusCode = 0
	StatusOnTime           StatusCode = 10
	StatusLateAirlineFault StatusCode = 20 // The only status that pays out
	StatusLateWeather      StatusCode = 30
	StatusLateTechnical    StatusCode = 40
	StatusLateOther        StatusCode = 50
)

// StatusCodes lists every valid status code in ascending order
var StatusCodes = []StatusCode{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirlineFault,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

var statusNames = map[StatusCode]string{
	StatusUnknown:          "unknown",
	StatusOnTime:           "on_time",
	StatusLateAirlineFault: "late_airline",
	StatusLateWeather:      "late_weather",
	StatusLateTechnical:    "late_technical",
	StatusLateOther:        "late_other",
}

// Valid reports whether c is one of the defined codes
func (c StatusCode) Valid() bool {
	_, ok := statusNames[c]
	return ok
}

// PaysOut reports whether a resolution with this code credits passengers
func (c StatusCode) PaysOut() bool {
	return c == StatusLateAirlineFault
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(c))
}

// ParseStatusCode accepts either the numeric code or its name
func ParseStatusCode(s string) (StatusCode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		c := StatusCode(n)
		if !c.Valid() {
			return 0, fmt.Errorf("unknown status code %d", n)
		}
		return c, nil
	}
	for code, name := range statusNames {
		if name == s {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown status code %q", s)
}
