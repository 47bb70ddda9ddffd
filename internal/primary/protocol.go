package primary

import (
	"strconv"
	"strings"
)

// Replica protocol identifiers have the form "zrsM.N". Major version 2 is the
// only one spoken here; minor 1 added blob support, so a blob-capable store
// requires at least zrs2.1 while a plain store accepts zrs2.0.
const (
	protocolPrefix = "zrs"
	protocolMajor  = 2

	minMinorPlain = 0
	minMinorBlobs = 1
)

func parseProtocol(id string) (major, minor int, err error) {
	rest, ok := strings.CutPrefix(id, protocolPrefix)
	if !ok {
		return 0, 0, newError(ErrProtocolNegotiation, "identifier %q", id)
	}
	majorStr, minorStr, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, 0, newError(ErrProtocolNegotiation, "identifier %q", id)
	}
	major, err = strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, newError(ErrProtocolNegotiation, "identifier %q", id)
	}
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, newError(ErrProtocolNegotiation, "identifier %q", id)
	}
	return major, minor, nil
}

// acceptProtocol decides whether a replica speaking id may be served by a
// store with the given blob capability.
func acceptProtocol(id string, blobs bool) error {
	major, minor, err := parseProtocol(id)
	if err != nil {
		return err
	}

	minMinor := minMinorPlain
	if blobs {
		minMinor = minMinorBlobs
	}
	if major != protocolMajor || minor < minMinor {
		return newError(ErrProtocolNegotiation,
			"%q below required zrs%d.%d", id, protocolMajor, minMinor)
	}
	return nil
}
