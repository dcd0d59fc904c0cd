package backend

import (
	"fmt"
	"net/url"
	"strconv"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/vyrodovalexey/dbpool/internal/observability"
)

// NewPostgresAdapter creates a relational adapter for postgres:// and
// postgresql:// endpoints.
func NewPostgresAdapter(logger observability.Logger) *SQLAdapter {
	return newSQLAdapter(KindPostgres, "postgres", postgresDSN, logger)
}

// postgresDSN passes the URL through to lib/pq, adding connect_timeout
// when the URL does not set one.
func postgresDSN(endpoint string, opts OpenOptions) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	q := u.Query()
	if q.Get("connect_timeout") == "" && opts.ConnectTimeout > 0 {
		seconds := int(opts.ConnectTimeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		q.Set("connect_timeout", strconv.Itoa(seconds))
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
