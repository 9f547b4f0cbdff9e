package telemetry

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	Driver struct {
		CarIdx        int    `yaml:"CarIdx"`
		UserName      string `yaml:"UserName"`
		CarScreenName string `yaml:"CarScreenName"`
		CarPath       string `yaml:"CarPath"`
	}
	WeekendInfo struct {
		TrackName        string `yaml:"TrackName"`
		TrackDisplayName string `yaml:"TrackDisplayName"`
		TrackID          int    `yaml:"TrackID"`
	}
	DriverInfo struct {
		DriverCarIdx int      `yaml:"DriverCarIdx"`
		Drivers      []Driver `yaml:"Drivers"`
	}
	SessionEntry struct {
		SessionNum  int    `yaml:"SessionNum"`
		SessionType string `yaml:"SessionType"`
	}
	SessionList struct {
		Sessions []SessionEntry `yaml:"Sessions"`
	}
	// SessionInfo is the subset of the simulator's session description we use.
	SessionInfo struct {
		WeekendInfo WeekendInfo `yaml:"WeekendInfo"`
		DriverInfo  DriverInfo  `yaml:"DriverInfo"`
		SessionInfo SessionList `yaml:"SessionInfo"`
	}
)

// ParseSessionInfo accepts the raw YAML document or an already decoded map.
func ParseSessionInfo(raw any) (*SessionInfo, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("session info: %w", ErrKeyNotFound)
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		// decoded documents (e.g. from a JSON recording) are re-encoded
		var err error
		if data, err = yaml.Marshal(v); err != nil {
			return nil, fmt.Errorf("session info: %w", err)
		}
	}
	ret := &SessionInfo{}
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("session info: %w", err)
	}
	return ret, nil
}

// SessionInfoFrom reads and parses the SessionInfo key of src.
func SessionInfoFrom(src Source) (*SessionInfo, error) {
	raw, ok := src.Get(KeySessionInfo)
	if !ok {
		return nil, fmt.Errorf("%s: %w", KeySessionInfo, ErrKeyNotFound)
	}
	return ParseSessionInfo(raw)
}

// CarName returns the screen name of the car driven from carIdx.
func (si *SessionInfo) CarName(carIdx int) (string, bool) {
	for _, d := range si.DriverInfo.Drivers {
		if d.CarIdx == carIdx {
			if d.CarScreenName == "" {
				return "Unknown", true
			}
			return d.CarScreenName, true
		}
	}
	return "", false
}

func (si *SessionInfo) TrackName() string {
	if si.WeekendInfo.TrackDisplayName != "" {
		return si.WeekendInfo.TrackDisplayName
	}
	if si.WeekendInfo.TrackName != "" {
		return si.WeekendInfo.TrackName
	}
	return "Unknown"
}

// SessionType returns the type (race, practice, ...) of session num in lower case.
func (si *SessionInfo) SessionType(num int) string {
	for _, s := range si.SessionInfo.Sessions {
		if s.SessionNum == num {
			return strings.ToLower(s.SessionType)
		}
	}
	return "race"
}
