package engine

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" driver
)

type remoteDriver struct {
	driverName string
	dialect    Dialect
	// tokenParam names the query parameter carrying the auth token. Empty
	// means the token is sent as the URL password.
	tokenParam string
}

var (
	remoteMu      sync.RWMutex
	remoteDrivers = map[string]remoteDriver{
		"postgres":   {driverName: "pgx", dialect: Postgres},
		"postgresql": {driverName: "pgx", dialect: Postgres},
	}
)

// RegisterRemoteDriver routes URLs with the given scheme to a database/sql
// driver registered under driverName. The driver must speak SQLite's dialect
// and accept the auth token as an "authToken" query parameter, as libSQL
// HTTP clients do. Registering an existing scheme replaces it.
func RegisterRemoteDriver(scheme, driverName string) {
	remoteMu.Lock()
	defer remoteMu.Unlock()

	remoteDrivers[scheme] = remoteDriver{
		driverName: driverName,
		dialect:    SQLite,
		tokenParam: "authToken",
	}
}

// OpenRemote connects to the primary database at rawURL. The URL scheme picks
// the driver: postgres and postgresql are built in, others must be added with
// RegisterRemoteDriver.
func OpenRemote(ctx context.Context, rawURL, authToken string) (Conn, error) {
	if err := CheckAuthToken(authToken); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	remoteMu.RLock()
	drv, ok := remoteDrivers[u.Scheme]
	remoteMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no remote driver registered for scheme %q", u.Scheme)
	}

	if authToken != "" {
		if drv.tokenParam == "" {
			username := ""
			if u.User != nil {
				username = u.User.Username()
			}
			u.User = url.UserPassword(username, authToken)
		} else {
			q := u.Query()
			q.Set(drv.tokenParam, authToken)
			u.RawQuery = q.Encode()
		}
	}

	c, err := connect(ctx, drv.driverName, u.String(), drv.dialect)
	if err != nil {
		return nil, err
	}
	return c, nil
}
