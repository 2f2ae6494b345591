// Package bytesize parses the human readable sizes used in configuration, such as "100Ki" or "4MiB".
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ByteSize is a size in bytes. It decodes from plain numbers or from a number followed by a
// binary (Ki, Mi, Gi) or decimal (K, M, G) unit.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*([a-z]*)\s*$`)

var unitMultipliers = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
}

// Parse converts a string such as "100Ki" into a ByteSize. Fractional sizes are rejected, since
// every size in this module ends up as a whole number of bytes in a memory region.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, errors.New("empty byte size")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, errors.Newf("invalid byte size %q", s)
	}

	num, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid number in byte size %q", s)
	}

	multiplier, ok := unitMultipliers[strings.ToLower(matches[2])]
	if !ok {
		return 0, errors.Newf("unknown byte size unit %q", matches[2])
	}

	if multiplier > 1 && num > uint64(^ByteSize(0)/multiplier) {
		return 0, errors.Newf("byte size %q overflows", s)
	}

	return ByteSize(num) * multiplier, nil
}

// UnmarshalText lets ByteSize decode directly from configuration strings
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String prints the size in the largest binary unit that divides it exactly, so the output
// parses back to the same value.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0"
	case b%GiB == 0:
		return fmt.Sprintf("%dGi", b/GiB)
	case b%MiB == 0:
		return fmt.Sprintf("%dMi", b/MiB)
	case b%KiB == 0:
		return fmt.Sprintf("%dKi", b/KiB)
	default:
		return fmt.Sprintf("%d", uint64(b))
	}
}

func (b ByteSize) Int() int {
	return int(b)
}
