package camera

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode"
)

// SourceKind classifies a camera address.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceDevice             // /dev/videoN or a bare numeric index
	SourceNetwork            // rtsp/rtmp/http(s)/hls URL
	SourceFile               // local media file
)

func (k SourceKind) String() string {
	switch k {
	case SourceDevice:
		return "device"
	case SourceNetwork:
		return "network"
	case SourceFile:
		return "file"
	}
	return "unknown"
}

var networkSchemes = []string{"rtsp://", "rtmp://", "http://", "https://", "hls://"}

// Classify determines what kind of source the address names.
func Classify(address string) SourceKind {
	if address == "" {
		return SourceUnknown
	}
	if isDigits(address) || strings.HasPrefix(address, "/dev/video") {
		return SourceDevice
	}
	lower := strings.ToLower(address)
	for _, scheme := range networkSchemes {
		if strings.HasPrefix(lower, scheme) {
			return SourceNetwork
		}
	}
	if _, err := os.Stat(address); err == nil {
		return SourceFile
	}
	return SourceUnknown
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// DevicePath normalizes a bare index like "0" to "/dev/video0".
func DevicePath(address string) string {
	if isDigits(address) {
		return "/dev/video" + address
	}
	return address
}

// Probe checks the address is plausibly reachable before an open is
// attempted: file existence for device/file sources, a short TCP dial for
// network sources.
func Probe(address string, kind SourceKind, timeout time.Duration) error {
	switch kind {
	case SourceDevice:
		path := DevicePath(address)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("device %s: %w", path, err)
		}
		return nil
	case SourceFile:
		if _, err := os.Stat(address); err != nil {
			return fmt.Errorf("file %s: %w", address, err)
		}
		return nil
	case SourceNetwork:
		return probeNetwork(address, timeout)
	}
	return fmt.Errorf("unknown source address %q", address)
}

func probeNetwork(address string, timeout time.Duration) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", address, err)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "rtsp":
			host = net.JoinHostPort(u.Hostname(), "554")
		case "rtmp":
			host = net.JoinHostPort(u.Hostname(), "1935")
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return fmt.Errorf("reaching %s: %w", host, err)
	}
	conn.Close()
	return nil
}
