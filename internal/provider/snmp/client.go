package snmp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

// Data source options understood by the SNMP provider.
const (
	OptCommunity     = "community"
	OptVersion       = "version"
	OptOID           = "oid"
	OptUser          = "user"
	OptSecurityLevel = "security_level"
	OptAuthProtocol  = "auth_protocol"
	OptAuthPassword  = "auth_password"
	OptPrivProtocol  = "priv_protocol"
	OptPrivPassword  = "priv_password"
	OptContext       = "context"
	OptRetries       = "retries"
)

// =============================================================================
// SNMP Configuration
// =============================================================================

// Config holds the connection parameters of one SNMP data source.
type Config struct {
	Host    string
	Port    uint16
	Version string

	// v2c
	Community string

	// v3
	SecurityName  string
	SecurityLevel string
	AuthProtocol  string
	AuthPassword  string
	PrivProtocol  string
	PrivPassword  string
	ContextName   string

	Timeout time.Duration
	Retries int
}

// ConfigFrom builds and validates the SNMP configuration of ds.
func ConfigFrom(ds *group.DataSource, timeout time.Duration) (*Config, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	port := ds.Port
	if port == 0 {
		port = config.DefaultSNMPPort
	}

	cfg := &Config{
		Host:          ds.Host,
		Port:          uint16(port),
		Version:       ds.OptionDefault(OptVersion, "2c"),
		Community:     ds.OptionDefault(OptCommunity, ""),
		SecurityName:  ds.OptionDefault(OptUser, ""),
		SecurityLevel: ds.OptionDefault(OptSecurityLevel, "authPriv"),
		AuthProtocol:  ds.OptionDefault(OptAuthProtocol, ""),
		AuthPassword:  ds.OptionDefault(OptAuthPassword, ""),
		PrivProtocol:  ds.OptionDefault(OptPrivProtocol, ""),
		PrivPassword:  ds.OptionDefault(OptPrivPassword, ""),
		ContextName:   ds.OptionDefault(OptContext, ""),
		Timeout:       timeout,
		Retries:       config.DefaultSNMPRetries,
	}

	if v, ok := ds.Option(OptRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.NewValidation(OptRetries, fmt.Sprintf("%q is not a non-negative integer", v))
		}
		cfg.Retries = n
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "data source %q", ds.ID)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Version {
	case "2c":
		if c.Community == "" {
			return errors.NewValidation(OptCommunity, "SNMP v2c requires a community string")
		}
	case "3":
		if c.SecurityName == "" {
			return errors.NewMissingField(OptUser)
		}
		if _, ok := msgFlags[c.SecurityLevel]; !ok {
			return errors.NewValidation(OptSecurityLevel, fmt.Sprintf("unknown level %q", c.SecurityLevel))
		}
	default:
		return errors.NewValidation(OptVersion, fmt.Sprintf("unsupported version %q", c.Version))
	}
	return nil
}

// =============================================================================
// Walker
// =============================================================================

// Walker walks subtrees of one agent.
type Walker interface {
	Walk(ctx context.Context, rootOID string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

// Connector opens a Walker for one data source.
type Connector func(ctx context.Context, cfg *Config) (Walker, error)

// Connect is the gosnmp Connector.
func Connect(ctx context.Context, cfg *Config) (Walker, error) {
	client := createClient(ctx, cfg)
	if err := client.Connect(); err != nil {
		return nil, errors.Connection(cfg.Host, err)
	}
	return &gosnmpWalker{client: client}, nil
}

type gosnmpWalker struct {
	client *gosnmp.GoSNMP
}

func (w *gosnmpWalker) Walk(ctx context.Context, rootOID string) ([]gosnmp.SnmpPDU, error) {
	w.client.Context = ctx

	var (
		pdus []gosnmp.SnmpPDU
		err  error
	)
	if w.client.Version == gosnmp.Version1 {
		pdus, err = w.client.WalkAll(rootOID)
	} else {
		pdus, err = w.client.BulkWalkAll(rootOID)
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		case isTimeoutError(err):
			return nil, fmt.Errorf("walk %s: %w: %w: %v", rootOID, errors.ErrExecution, errors.ErrTimeout, err)
		}
		return nil, errors.Execution("walk "+rootOID, err)
	}
	return pdus, nil
}

func (w *gosnmpWalker) Close() error {
	if w.client.Conn == nil {
		return nil
	}
	return w.client.Conn.Close()
}

// =============================================================================
// SNMP Client Creation
// =============================================================================

func createClient(ctx context.Context, cfg *Config) *gosnmp.GoSNMP {
	snmp := &gosnmp.GoSNMP{
		Target:  cfg.Host,
		Port:    cfg.Port,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		Context: ctx,
		MaxOids: gosnmp.MaxOids,
	}

	if cfg.Version == "3" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = msgFlags[cfg.SecurityLevel]
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cfg.SecurityName,
			AuthenticationProtocol:   authProtocol(cfg.AuthProtocol),
			AuthenticationPassphrase: cfg.AuthPassword,
			PrivacyProtocol:          privProtocol(cfg.PrivProtocol),
			PrivacyPassphrase:        cfg.PrivPassword,
		}
		if cfg.ContextName != "" {
			snmp.ContextName = cfg.ContextName
		}
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = cfg.Community
	}

	return snmp
}

// =============================================================================
// SNMPv3 Protocol Helpers
// =============================================================================

var msgFlags = map[string]gosnmp.SnmpV3MsgFlags{
	"noAuthNoPriv": gosnmp.NoAuthNoPriv,
	"authNoPriv":   gosnmp.AuthNoPriv,
	"authPriv":     gosnmp.AuthPriv,
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}

// gosnmp reports timeouts as plain error strings.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "request timeout" ||
		err.Error() == "context deadline exceeded"
}
