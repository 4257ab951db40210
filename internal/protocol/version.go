package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

const (
	MinVersion = "2.0"
	MaxVersion = "2.3"
)

type version struct {
	major, minor int
}

var (
	serverMin = version{2, 0}
	serverMax = version{2, 3}
)

func parseVersion(s string) (version, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return version{}, fmt.Errorf("version %q", s)
	}

	ma, err := strconv.Atoi(major)
	if err != nil || ma < 0 {
		return version{}, fmt.Errorf("version %q", s)
	}
	mi, err := strconv.Atoi(minor)
	if err != nil || mi < 0 {
		return version{}, fmt.Errorf("version %q", s)
	}

	return version{ma, mi}, nil
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	return v.minor < o.minor
}

func (v version) String() string {
	return fmt.Sprintf("%d.%d", v.major, v.minor)
}

// negotiateVersion picks the highest version both sides support. Clients
// sending no headers speak the oldest version.
func negotiateVersion(clientMin, clientMax string) (string, error) {
	if clientMin == "" && clientMax == "" {
		return MinVersion, nil
	}
	if clientMin == "" {
		clientMin = MinVersion
	}
	if clientMax == "" {
		clientMax = clientMin
	}

	lo, err := parseVersion(clientMin)
	if err != nil {
		return "", serviceerr.ErrProtocolVersion.WithDescription("malformed %v", err)
	}
	hi, err := parseVersion(clientMax)
	if err != nil {
		return "", serviceerr.ErrProtocolVersion.WithDescription("malformed %v", err)
	}

	if serverMax.less(hi) {
		hi = serverMax
	}
	if lo.less(serverMin) {
		lo = serverMin
	}
	if hi.less(lo) {
		return "", serviceerr.ErrProtocolVersion.WithDescription("client supports %s to %s, server %s to %s",
			clientMin, clientMax, MinVersion, MaxVersion)
	}

	return hi.String(), nil
}

// checkVersion accepts a single version chosen by the client.
func checkVersion(v string) (string, error) {
	if v == "" {
		return MinVersion, nil
	}

	return negotiateVersion(v, v)
}
