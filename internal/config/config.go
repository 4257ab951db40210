// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database Database `yaml:"database"`
	ValKey   ValKey   `yaml:"valkey"`

	Sessions         Sessions         `yaml:"sessions"`
	JWT              JWT              `yaml:"jwt"`
	Flows            Flows            `yaml:"flows"`
	Issuance         Issuance         `yaml:"issuance"`
	Authorization    Authorization    `yaml:"authorization"`
	Historian        Historian        `yaml:"historian"`
	StatusSocket     StatusSocket     `yaml:"statusSocket"`
	CredentialEngine CredentialEngine `yaml:"credentialEngine"`
	Scheme           Scheme           `yaml:"scheme"`
	Housekeeper      Housekeeper      `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8088"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	// AllowedOrigins is sent as Access-Control-Allow-Origin. Empty means "*".
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// TrustForwardedFor takes the client address from X-Forwarded-For.
	TrustForwardedFor bool          `yaml:"trustForwardedFor"`
	CallbackTimeout   time.Duration `yaml:"callbackTimeout" default:"30s"`
	MaxBodyBytes      int64         `yaml:"maxBodyBytes" default:"1048576"`
}

type Database struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
	// SSLMode is passed to the driver when set.
	SSLMode  string              `yaml:"sslMode"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"anoncred-broker"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

// Sessions holds the expiry durations of the session phases.
type Sessions struct {
	TokenGetTimeout      time.Duration `yaml:"tokenGetTimeout" default:"120s"`
	TokenResponseTimeout time.Duration `yaml:"tokenResponseTimeout" default:"600s"`
	ClientGetTimeout     time.Duration `yaml:"clientGetTimeout" default:"120s"`
}

type JWT struct {
	// PrivateKey signs every result token. PEM encoded PKCS#1, PKCS#8 or SEC1.
	PrivateKey commoncfg.SourceRef `yaml:"privateKey"`
	KeyID      string              `yaml:"keyID" default:"anoncred-broker"`
	Issuer     string              `yaml:"issuer" default:"anoncred-broker"`

	// ClientKeysPath holds the verifiers, sigclients and issuers key directories.
	ClientKeysPath string `yaml:"clientKeysPath" default:"/etc/anoncred-broker/keys"`
	// ClientNames maps key ids to requester names.
	ClientNames   map[string]string `yaml:"clientNames"`
	KeyCacheTTL   time.Duration     `yaml:"keyCacheTTL" default:"5m"`
	MaxRequestAge time.Duration     `yaml:"maxRequestAge" default:"60s"`
}

type Flows struct {
	Verification Flow `yaml:"verification"`
	Signature    Flow `yaml:"signature"`
	Issue        Flow `yaml:"issue"`
}

type Flow struct {
	Disabled      bool `yaml:"disabled"`
	AllowUnsigned bool `yaml:"allowUnsigned"`
}

type Issuance struct {
	// AllowUnflooredValidity accepts credential validities that are not a
	// multiple of the validity epoch.
	AllowUnflooredValidity bool `yaml:"allowUnflooredValidity"`
}

type AuthorizationSource string

const (
	AuthorizationSourceConfig   AuthorizationSource = "config"
	AuthorizationSourceDatabase AuthorizationSource = "database"
)

// Authorization maps requester names to permission patterns per role.
// The maps are only read with source config.
type Authorization struct {
	Source    AuthorizationSource `yaml:"source" default:"config"`
	Verifiers map[string][]string `yaml:"verifiers"`
	Signers   map[string][]string `yaml:"signers"`
	Issuers   map[string][]string `yaml:"issuers"`
}

type HistorianSink string

const (
	HistorianSinkWebhook HistorianSink = "webhook"
	HistorianSinkValKey  HistorianSink = "valkey"
)

type Historian struct {
	Enabled bool          `yaml:"enabled"`
	Sink    HistorianSink `yaml:"sink" default:"webhook"`
	// URL and Token configure the webhook sink.
	URL     string              `yaml:"url"`
	Token   commoncfg.SourceRef `yaml:"token"`
	Timeout time.Duration       `yaml:"timeout" default:"10s"`
}

type StatusSocket struct {
	// OriginPatterns are the hosts allowed to open the socket cross origin.
	OriginPatterns []string `yaml:"originPatterns"`
}

type CredentialEngine struct {
	URL        string        `yaml:"url" default:"http://localhost:8089"`
	Timeout    time.Duration `yaml:"timeout" default:"30s"`
	ClientAuth ClientAuth    `yaml:"clientAuth"`
}

type ClientAuthType string

const (
	ClientAuthInsecure ClientAuthType = "insecure"
	ClientAuthMTLS     ClientAuthType = "mtls"
	ClientAuthBearer   ClientAuthType = "bearer"
)

// ClientAuth is how the broker authenticates to the credential engine.
type ClientAuth struct {
	Type  ClientAuthType      `yaml:"type" default:"insecure"`
	MTLS  *commoncfg.MTLS     `yaml:"mtls"`
	Token commoncfg.SourceRef `yaml:"token"`
}

type Scheme struct {
	Path string `yaml:"path" default:"/etc/anoncred-broker/schemes.yaml"`
}

// Housekeeper bounds the event history kept in ValKey.
type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1h"`
	HistoryMaxLen   int64         `yaml:"historyMaxLen" default:"100000"`
}
