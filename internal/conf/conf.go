// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bluenviron/whipgate/internal/logger"
)

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogFile         string          `json:"logFile"`
	ReadTimeout     Duration        `json:"readTimeout"`
	WriteTimeout    Duration        `json:"writeTimeout"`

	// Backend
	BackendAddress         string   `json:"backendAddress"`
	BackendPlugin          string   `json:"backendPlugin"`
	BackendKeepAlivePeriod Duration `json:"backendKeepAlivePeriod"`
	BackendReconnectPause  Duration `json:"backendReconnectPause"`
	AdminKey               string   `json:"adminKey"`

	// WHIP server
	WHIPAddress     string     `json:"whipAddress"`
	WHIPEncryption  bool       `json:"whipEncryption"`
	WHIPServerKey   string     `json:"whipServerKey"`
	WHIPServerCert  string     `json:"whipServerCert"`
	WHIPAllowOrigin string     `json:"whipAllowOrigin"`
	WHIPBasePath    string     `json:"whipBasePath"`
	WHIPTrickle     bool       `json:"whipTrickle"`
	WHIPStrictETags bool       `json:"whipStrictETags"`
	ICEServers      ICEServers `json:"iceServers"`

	// Control API
	API            bool   `json:"api"`
	APIAddress     string `json:"apiAddress"`
	APIEncryption  bool   `json:"apiEncryption"`
	APIServerKey   string `json:"apiServerKey"`
	APIServerCert  string `json:"apiServerCert"`
	APIAllowOrigin string `json:"apiAllowOrigin"`
	APIToken       string `json:"apiToken"`

	// PPROF
	PPROF        bool   `json:"pprof"`
	PPROFAddress string `json:"pprofAddress"`

	// Hooks
	RunOnEndpointInactive  string `json:"runOnEndpointInactive"`
	RunOnBackendDisconnect string `json:"runOnBackendDisconnect"`
	RunOnBackendReconnect  string `json:"runOnBackendReconnect"`

	// Endpoints
	Endpoints map[string]*Endpoint `json:"endpoints"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "whipgate.log"
	conf.ReadTimeout = Duration(10 * time.Second)
	conf.WriteTimeout = Duration(10 * time.Second)

	// Backend
	conf.BackendAddress = "ws://127.0.0.1:8188/"
	conf.BackendPlugin = "janus.plugin.videoroom"
	conf.BackendKeepAlivePeriod = Duration(15 * time.Second)
	conf.BackendReconnectPause = Duration(5 * time.Second)

	// WHIP server
	conf.WHIPAddress = ":8080"
	conf.WHIPAllowOrigin = "*"
	conf.WHIPBasePath = "/whip"
	conf.WHIPTrickle = true

	// Control API
	conf.APIAddress = ":9997"
	conf.APIAllowOrigin = "*"

	// PPROF
	conf.PPROFAddress = ":9999"
}

// Load loads a Conf.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = loadFromEnvironment("WG", conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = loadFromYAML(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General

	if conf.ReadTimeout <= 0 {
		return fmt.Errorf("'readTimeout' must be greater than zero")
	}
	if conf.WriteTimeout <= 0 {
		return fmt.Errorf("'writeTimeout' must be greater than zero")
	}

	// Backend

	if !strings.HasPrefix(conf.BackendAddress, "ws://") &&
		!strings.HasPrefix(conf.BackendAddress, "wss://") {
		return fmt.Errorf("'backendAddress' must be a WebSocket URL")
	}
	if conf.BackendKeepAlivePeriod <= 0 {
		return fmt.Errorf("'backendKeepAlivePeriod' must be greater than zero")
	}
	if conf.BackendReconnectPause <= 0 {
		return fmt.Errorf("'backendReconnectPause' must be greater than zero")
	}

	// WHIP server

	if !strings.HasPrefix(conf.WHIPBasePath, "/") || strings.HasSuffix(conf.WHIPBasePath, "/") {
		return fmt.Errorf("'whipBasePath' must start with a slash and not end with a slash")
	}
	if conf.WHIPEncryption && (conf.WHIPServerKey == "" || conf.WHIPServerCert == "") {
		return fmt.Errorf("'whipServerKey' and 'whipServerCert' are mandatory when encryption is enabled")
	}
	for _, s := range conf.ICEServers {
		if err := s.validate(); err != nil {
			return err
		}
	}

	// Control API

	if conf.APIEncryption && (conf.APIServerKey == "" || conf.APIServerCert == "") {
		return fmt.Errorf("'apiServerKey' and 'apiServerCert' are mandatory when encryption is enabled")
	}

	// Endpoints

	for id, e := range conf.Endpoints {
		if e == nil {
			return fmt.Errorf("endpoint '%s' is empty", id)
		}
		if err := e.Validate(id); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler. It is called by Clone()
// and by the YAML loader; defaults are applied before decoding and
// unknown fields are rejected.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}
