package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/systmms/svcrotate/internal/config"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
)

// LDAPDirectory implements Directory against an LDAP identity store.
type LDAPDirectory struct {
	cfg    config.DirectoryConfig
	logger *logging.Logger
	conn   *ldap.Conn
}

// NewLDAPDirectory dials and binds to the configured endpoint. A dial or
// bind failure is DirectoryUnavailable: batch-fatal, nothing has run yet.
func NewLDAPDirectory(cfg config.DirectoryConfig, creds *config.Credentials, logger *logging.Logger) (*LDAPDirectory, error) {
	conn, err := ldap.DialURL(cfg.URL)
	if err != nil {
		return nil, svcerrors.E(svcerrors.KindDirectoryUnavailable, "",
			fmt.Errorf("dial %s: %w", cfg.URL, err))
	}
	conn.SetTimeout(cfg.DirectoryTimeout())

	if err := conn.Bind(creds.DirectoryBindDN, creds.DirectoryPassword); err != nil {
		conn.Close()
		return nil, svcerrors.E(svcerrors.KindDirectoryUnavailable, "",
			fmt.Errorf("bind as %s: %w", creds.DirectoryBindDN, err))
	}

	logger.Debug("Bound to directory %s", cfg.URL)
	return &LDAPDirectory{cfg: cfg, logger: logger, conn: conn}, nil
}

// Close releases the LDAP connection.
func (d *LDAPDirectory) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// List searches the base DN for managed accounts matching the glob and
// returns them normalized (filtered, deduplicated, sorted ascending).
func (d *LDAPDirectory) List(ctx context.Context, pattern string) ([]ManagedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		d.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		d.searchFilter(pattern),
		[]string{d.cfg.Attribute, "pwdLastSet"},
		nil,
	)

	res, err := d.conn.SearchWithPaging(req, d.cfg.PageSize)
	if err != nil {
		return nil, svcerrors.E(svcerrors.KindDirectoryUnavailable, "",
			fmt.Errorf("search %s: %w", d.cfg.BaseDN, err))
	}

	accounts := make([]ManagedAccount, 0, len(res.Entries))
	for _, entry := range res.Entries {
		id := entry.GetAttributeValue(d.cfg.Attribute)
		if id == "" {
			continue
		}
		accounts = append(accounts, ManagedAccount{
			Identifier:  id,
			DN:          entry.DN,
			LastRotated: parsePwdLastSet(entry.GetAttributeValue("pwdLastSet")),
		})
	}

	// The LDAP-side wildcard filter narrows the result set; Normalize
	// still applies the full glob locally for ? and character classes.
	return Normalize(accounts, pattern), nil
}

// SetPassword issues a password modify extended operation for the entry.
func (d *LDAPDirectory) SetPassword(ctx context.Context, account ManagedAccount, password []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := ldap.NewPasswordModifyRequest(account.DN, "", string(password))
	if _, err := d.conn.PasswordModify(req); err != nil {
		return svcerrors.E(svcerrors.KindDirectoryRejected, account.Identifier, err)
	}

	d.logger.Debug("Directory password updated for %s", account.Identifier)
	return nil
}

// searchFilter maps the glob onto an LDAP filter. Plain * wildcards pass
// through; everything else is escaped. Globs using ? or character classes
// fall back to matching all entries server-side and filtering locally.
func (d *LDAPDirectory) searchFilter(pattern string) string {
	if pattern == "" || pattern == "*" || strings.ContainsAny(pattern, "?[") {
		return fmt.Sprintf("(%s=*)", d.cfg.Attribute)
	}

	var b strings.Builder
	for _, part := range strings.Split(pattern, "*") {
		if b.Len() > 0 {
			b.WriteString("*")
		}
		b.WriteString(ldap.EscapeFilter(part))
	}
	return fmt.Sprintf("(%s=%s)", d.cfg.Attribute, b.String())
}

// parsePwdLastSet converts an AD FILETIME attribute (100ns intervals since
// 1601-01-01 UTC) to a timestamp. Zero or absent means never set.
func parsePwdLastSet(raw string) *time.Time {
	if raw == "" || raw == "0" {
		return nil
	}
	ticks, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ticks <= 0 {
		return nil
	}
	epoch := time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
	t := epoch.Add(time.Duration(ticks) * 100 * time.Nanosecond)
	return &t
}
