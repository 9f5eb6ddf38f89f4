// Package wire parses and formats the herd's line protocol. Each line
// is one whitespace-tokenized message of one of three kinds: a direct
// client report (IAMAT), a propagated report (AT), or a place query
// (WHATSAT). Parse classifies a line exactly once into a tagged
// variant; anything that does not match a grammar is ErrMalformed.
package wire

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("wire: malformed message")

// Latitude immediately followed by longitude, no separator.
var coordRe = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)([+-]\d+(?:\.\d+)?)$`)

const (
	MaxRadiusKM = 50
	MaxBound    = 20
)

// Message is one of IAmAt, At or WhatsAt.
type Message interface {
	isMessage()
}

// IAmAt is a client's own position report.
type IAmAt struct {
	Client      string
	Coordinates string
	Time        float64
	// TimeText preserves the client's exact timestamp spelling so the
	// canonical AT line round-trips digit for digit.
	TimeText string
}

// At is a report propagated by another node, kept verbatim for
// re-flooding.
type At struct {
	Origin      string
	Client      string
	Coordinates string
	Time        float64
	Line        string
}

// WhatsAt asks for a client's last position plus nearby places.
type WhatsAt struct {
	Client   string
	RadiusKM int
	Bound    int
}

func (IAmAt) isMessage()   {}
func (At) isMessage()      {}
func (WhatsAt) isMessage() {}

// Parse classifies one line (without its terminator). The returned
// error is ErrMalformed, possibly wrapped, for anything unrecognized.
func Parse(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	switch fields[0] {
	case "IAMAT":
		return parseIAmAt(fields)
	case "AT":
		return parseAt(line, fields)
	case "WHATSAT":
		return parseWhatsAt(fields)
	}
	return nil, fmt.Errorf("%w: unknown command %q", ErrMalformed, fields[0])
}

func parseIAmAt(fields []string) (Message, error) {
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: IAMAT wants 4 fields, got %d", ErrMalformed, len(fields))
	}
	if !coordRe.MatchString(fields[2]) {
		return nil, fmt.Errorf("%w: bad coordinates %q", ErrMalformed, fields[2])
	}
	ts, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, fields[3])
	}
	return IAmAt{Client: fields[1], Coordinates: fields[2], Time: ts, TimeText: fields[3]}, nil
}

func parseAt(line string, fields []string) (Message, error) {
	if len(fields) != 6 {
		return nil, fmt.Errorf("%w: AT wants 6 fields, got %d", ErrMalformed, len(fields))
	}
	ts, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, fields[5])
	}
	return At{Origin: fields[1], Client: fields[3], Coordinates: fields[4], Time: ts, Line: line}, nil
}

func parseWhatsAt(fields []string) (Message, error) {
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: WHATSAT wants 4 fields, got %d", ErrMalformed, len(fields))
	}
	radius, err := parseBounded(fields[2], MaxRadiusKM)
	if err != nil {
		return nil, fmt.Errorf("%w: bad radius %q", ErrMalformed, fields[2])
	}
	bound, err := parseBounded(fields[3], MaxBound)
	if err != nil {
		return nil, fmt.Errorf("%w: bad bound %q", ErrMalformed, fields[3])
	}
	return WhatsAt{Client: fields[1], RadiusKM: radius, Bound: bound}, nil
}

// parseBounded accepts a plain decimal integer in [0, limit]. Signs
// and out-of-range values are rejected outright, never clamped.
func parseBounded(s string, limit int) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a non-negative integer")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("%d exceeds %d", n, limit)
	}
	return n, nil
}

// FormatAt builds the canonical propagated line for a client report.
// diff is the receiver clock minus the client timestamp, sign always
// explicit.
func FormatAt(node string, diff float64, report IAmAt) string {
	return fmt.Sprintf("AT %s %+f %s %s %s",
		node, diff, report.Client, report.Coordinates, report.TimeText)
}

// SplitCoordinates separates the fused latitude/longitude token.
func SplitCoordinates(coords string) (lat, lon string, err error) {
	m := coordRe.FindStringSubmatch(coords)
	if m == nil {
		return "", "", fmt.Errorf("%w: bad coordinates %q", ErrMalformed, coords)
	}
	return m[1], m[2], nil
}
