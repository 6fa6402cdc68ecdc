package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Reason identifies the first check a plate failed.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonTooShort    Reason = "too_short"
	ReasonFormat      Reason = "invalid_format"
	ReasonProvince    Reason = "invalid_province"
	ReasonVehicleType Reason = "invalid_vehicle_type"
	ReasonSerial      Reason = "invalid_serial"
)

const minPlateLength = 10

var (
	plateFormat = regexp.MustCompile(`^\d{2}-[A-Z]{1,2}\d{4,5}\.\d{1,2}$`)
	plateParts  = regexp.MustCompile(`^(\d{2})-([A-Z]{1,2})(\d{4,5})\.(\d{1,2})$`)
)

type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	// Plate is the standardized text, set even when the plate is rejected.
	Plate string `json:"plate"`
}

// ValidatePlate standardizes plate and runs the structural checks in order,
// stopping at the first failure.
func ValidatePlate(plate string) ValidationResult {
	if strings.TrimSpace(plate) == "" {
		return reject(ReasonEmpty, "plate is empty", "")
	}

	standardized := StandardizePlate(plate)

	if len(standardized) < minPlateLength {
		return reject(ReasonTooShort, fmt.Sprintf("plate too short: %s", standardized), standardized)
	}

	if !plateFormat.MatchString(standardized) {
		return reject(ReasonFormat, fmt.Sprintf("invalid plate format: %s", standardized), standardized)
	}

	province := standardized[:2]
	code, err := strconv.Atoi(province)
	if err != nil || code < 0 || code > 99 {
		return reject(ReasonProvince, fmt.Sprintf("invalid province code: %s", province), standardized)
	}

	vehiclePart := vehicleSegment(standardized)
	for i := 0; i < len(vehiclePart); i++ {
		if !isLetter(vehiclePart[i]) && !isDigit(vehiclePart[i]) {
			return reject(ReasonVehicleType, fmt.Sprintf("invalid vehicle type: %s", vehiclePart), standardized)
		}
	}

	serial := standardized[strings.LastIndex(standardized, ".")+1:]
	if serial == "" {
		return reject(ReasonSerial, fmt.Sprintf("invalid serial: %s", serial), standardized)
	}
	for i := 0; i < len(serial); i++ {
		if !isDigit(serial[i]) {
			return reject(ReasonSerial, fmt.Sprintf("invalid serial: %s", serial), standardized)
		}
	}

	return ValidationResult{Valid: true, Plate: standardized}
}

// IsValidPlate reports whether plate passes every check.
func IsValidPlate(plate string) bool {
	return ValidatePlate(plate).Valid
}

func reject(reason Reason, msg, plate string) ValidationResult {
	return ValidationResult{
		Valid:  false,
		Reason: reason,
		Error:  msg,
		Plate:  plate,
	}
}

// vehicleSegment returns the text between the first dash and the following dot.
func vehicleSegment(plate string) string {
	_, after, found := strings.Cut(plate, "-")
	if !found {
		return ""
	}
	before, _, _ := strings.Cut(after, ".")
	return before
}

type PlateParts struct {
	Province    string `json:"province"`
	VehicleType string `json:"vehicle_type"`
	Serial      string `json:"serial"`
}

// ExtractPlateParts splits a plate into province, vehicle-type letters and
// serial digits. All fields are empty when the standardized plate is not
// canonical.
func ExtractPlateParts(plate string) PlateParts {
	m := plateParts.FindStringSubmatch(StandardizePlate(plate))
	if m == nil {
		return PlateParts{}
	}
	return PlateParts{
		Province:    m[1],
		VehicleType: m[2],
		Serial:      m[3] + m[4],
	}
}
