package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Operation identifies which direction a session's data phase transfers.
type Operation string

const (
	Upload   Operation = "UPLOAD"
	Download Operation = "DOWNLOAD"
)

// Protocol identifies which RDT variant a session negotiated.
type Protocol string

const (
	StopAndWait    Protocol = "stop_and_wait"
	SelectiveRepeat Protocol = "selective_repeat"
)

// EncodeOperation builds the payload of the operation packet: the
// first post-handshake DATA frame, carrying
// "<OPERATION>:<filename>:<protocol>" as UTF-8.
func EncodeOperation(op Operation, filename string, proto Protocol) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", op, filename, proto))
}

// DecodeOperation parses an operation payload. The protocol field is
// optional on the wire; when absent it defaults to StopAndWait.
func DecodeOperation(payload []byte) (op Operation, filename string, proto Protocol, err error) {
	parts := strings.SplitN(string(payload), ":", 3)
	if len(parts) < 2 {
		return "", "", "", errors.New("wire: malformed operation payload")
	}
	switch Operation(parts[0]) {
	case Upload:
		op = Upload
	case Download:
		op = Download
	default:
		return "", "", "", fmt.Errorf("wire: unknown operation %q", parts[0])
	}
	filename = parts[1]
	proto = StopAndWait
	if len(parts) == 3 && parts[2] != "" {
		switch Protocol(parts[2]) {
		case StopAndWait, SelectiveRepeat:
			proto = Protocol(parts[2])
		default:
			return "", "", "", fmt.Errorf("wire: unknown protocol %q", parts[2])
		}
	}
	return op, filename, proto, nil
}
