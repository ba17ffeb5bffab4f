package identity

import (
	"context"
	"fmt"
	"strconv"

	"flux-gateway/internal"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAPConfig nests under the config file's ldap key.
type LDAPConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	BaseDN  string `yaml:"base_dn"`
	BindDN  string `yaml:"bind_dn"`
	BindPwd string `yaml:"bind_pwd"`
}

func (c LDAPConfig) Enabled() bool {
	return c.Host != ""
}

// LDAPResolver resolves posixAccount records from a directory. Connections
// are dialed per lookup; lookups are rare (one per impersonated operation)
// and a long-lived bound connection would need reconnect bookkeeping.
type LDAPResolver struct {
	config LDAPConfig
	logger *zap.Logger
}

func NewLDAPResolver(config LDAPConfig, logger *zap.Logger) *LDAPResolver {
	return &LDAPResolver{config: config, logger: logger}
}

func (r *LDAPResolver) connect() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s:%s", r.config.Host, r.config.Port))
	if err != nil {
		r.logger.Error("failed to connect to LDAP server", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	if err := conn.Bind(r.config.BindDN, r.config.BindPwd); err != nil {
		_ = conn.Close()
		r.logger.Error("failed to bind LDAP", zap.Error(err))
		return nil, fmt.Errorf("failed to bind LDAP: %w", err)
	}
	return conn, nil
}

func (r *LDAPResolver) search(conn *ldap.Conn, username string) (*ldap.Entry, error) {
	base := "ou=People," + r.config.BaseDN
	filter := fmt.Sprintf("(&(objectClass=posixAccount)(uid=%s))", ldap.EscapeFilter(username))

	request := ldap.NewSearchRequest(
		base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"uid", "uidNumber", "gidNumber", "homeDirectory"},
		nil,
	)
	result, err := conn.Search(request)
	if err != nil {
		return nil, fmt.Errorf("failed to search user: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("%w: %s", internal.ErrUnknownUser, username)
	}
	return result.Entries[0], nil
}

func (r *LDAPResolver) Lookup(_ context.Context, username string) (Account, error) {
	conn, err := r.connect()
	if err != nil {
		return Account{}, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warn("failed to close LDAP connection", zap.Error(cerr))
		}
	}()

	entry, err := r.search(conn, username)
	if err != nil {
		r.logger.Warn("LDAP account lookup failed", zap.String("user", username), zap.Error(err))
		return Account{}, err
	}

	uid, err := strconv.ParseUint(entry.GetAttributeValue("uidNumber"), 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse uidNumber for %s: %w", username, err)
	}
	gid, err := strconv.ParseUint(entry.GetAttributeValue("gidNumber"), 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse gidNumber for %s: %w", username, err)
	}

	return Account{
		Name: entry.GetAttributeValue("uid"),
		UID:  uint32(uid),
		GID:  uint32(gid),
		Home: entry.GetAttributeValue("homeDirectory"),
	}, nil
}

// CheckPassword verifies a user's directory credentials by binding as the
// user's own DN. This backs the gateway's PAM-equivalent auth mode.
func (r *LDAPResolver) CheckPassword(_ context.Context, username, password string) error {
	conn, err := r.connect()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warn("failed to close LDAP connection", zap.Error(cerr))
		}
	}()

	entry, err := r.search(conn, username)
	if err != nil {
		return err
	}
	if err := conn.Bind(entry.DN, password); err != nil {
		r.logger.Warn("LDAP password check failed", zap.String("user", username))
		return fmt.Errorf("invalid credentials for %s", username)
	}
	return nil
}
