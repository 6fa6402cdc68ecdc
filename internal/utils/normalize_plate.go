package utils

import (
	"regexp"
	"strings"
)

const (
	minSegmentLength = 8
	serialLength     = 6
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Z0-9]`)

// StandardizePlate converts raw recognizer output into the canonical
// PP-Vnnnn.nn form: two province digits, a dash, the vehicle-type letters,
// four serial digits, a dot and two more serial digits.
//
// Input that already contains both a dash and a dot is returned upper-cased
// and trimmed. Input shorter than eight alphanumeric characters is returned
// cleaned but otherwise untouched: there is not enough of it to segment.
func StandardizePlate(raw string) string {
	if raw == "" {
		return ""
	}

	plate := strings.ToUpper(strings.TrimSpace(raw))
	if strings.Contains(plate, "-") && strings.Contains(plate, ".") {
		return plate
	}

	plate = nonAlphanumeric.ReplaceAllString(plate, "")
	if len(plate) < minSegmentLength {
		return plate
	}

	province := plate[:2]
	rest := plate[2:]

	if isLetter(rest[0]) {
		var vehicleType, serial string
		if len(rest) > 1 && isLetter(rest[1]) {
			vehicleType, serial = rest[:2], rest[2:]
		} else {
			vehicleType, serial = rest[:1], rest[1:]
		}
		serial = fitSerial(serial)
		return province + "-" + vehicleType + serial[:4] + "." + serial[4:]
	}

	// No vehicle-type letter: one code character followed by seven serial
	// characters, of which the first six are kept.
	if len(rest) >= 8 {
		code := rest[:1]
		serial := rest[1:8]
		return province + "-" + code + serial[:4] + "." + serial[4:6]
	}

	return plate
}

// fitSerial right-pads with '0' or truncates to exactly six characters.
func fitSerial(serial string) string {
	if len(serial) < serialLength {
		serial += strings.Repeat("0", serialLength-len(serial))
	}
	return serial[:serialLength]
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
