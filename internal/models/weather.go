package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MissingValue is the token the source files use for an absent sensor reading
const MissingValue = "-9999"

// ErrMissingValue is returned by ParseLine when a line carries the missing-value sentinel
var ErrMissingValue = errors.New("record contains missing value sentinel")

// Observation is one station reading for one calendar day.
// Temperatures are tenths of a degree Celsius and precipitation tenths of a
// millimetre, stored exactly as read.
type Observation struct {
	ID            int64  `json:"id" db:"id"`
	Date          Date   `json:"date" db:"date"`
	StationID     string `json:"station_id" db:"station_id"`
	MaxTemp       int    `json:"max_temp" db:"max_temp"`
	MinTemp       int    `json:"min_temp" db:"min_temp"`
	Precipitation int    `json:"precipitation" db:"precipitation"`
}

// YearlyStat aggregates one station's observations over one calendar year
type YearlyStat struct {
	ID                 int64    `json:"id" db:"id"`
	Year               int      `json:"year" db:"year"`
	StationID          string   `json:"station_id" db:"station_id"`
	AvgMaxTemp         *float64 `json:"avg_max_temp" db:"avg_max_temp"`
	AvgMinTemp         *float64 `json:"avg_min_temp" db:"avg_min_temp"`
	TotalPrecipitation *float64 `json:"total_precipitation" db:"total_precipitation"`
}

// ParseLine parses one tab-delimited line of the form
// YYYYMMDD\tMAX_TEMP\tMIN_TEMP\tPRECIP.
// Lines containing the missing-value sentinel yield ErrMissingValue; any other
// malformed input yields a *ValidationError.
func ParseLine(stationID, line string) (Observation, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")

	for _, f := range fields {
		if strings.TrimSpace(f) == MissingValue {
			return Observation{}, ErrMissingValue
		}
	}

	if len(fields) != 4 {
		return Observation{}, &ValidationError{
			Field:   "line",
			Value:   line,
			Message: fmt.Sprintf("invalid line format: expected 4 fields, got %d", len(fields)),
		}
	}

	date, err := ParseCompactDate(strings.TrimSpace(fields[0]))
	if err != nil {
		return Observation{}, err
	}

	values := make([]int, 3)
	for i, name := range []string{"max_temp", "min_temp", "precipitation"} {
		raw := strings.TrimSpace(fields[i+1])
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Observation{}, &ValidationError{
				Field:   name,
				Value:   raw,
				Message: fmt.Sprintf("invalid %s: expected integer, got %q", name, raw),
			}
		}
		values[i] = v
	}

	return Observation{
		Date:          date,
		StationID:     stationID,
		MaxTemp:       values[0],
		MinTemp:       values[1],
		Precipitation: values[2],
	}, nil
}

// ConflictPolicy decides what a bulk insert does when a natural key already exists
type ConflictPolicy string

const (
	// ConflictFail aborts the ingestion run on the first duplicate key
	ConflictFail ConflictPolicy = "fail"
	// ConflictSkip keeps existing rows and drops the incoming duplicates
	ConflictSkip ConflictPolicy = "skip"
	// ConflictReplace overwrites existing rows with the incoming values
	ConflictReplace ConflictPolicy = "replace"
)

// ParseConflictPolicy validates a policy name
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ConflictFail, ConflictSkip, ConflictReplace:
		return p, nil
	case "":
		return ConflictFail, nil
	default:
		return "", &ValidationError{
			Field:   "conflict_policy",
			Value:   s,
			Message: fmt.Sprintf("invalid conflict policy %q (allowed: fail, skip, replace)", s),
		}
	}
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
