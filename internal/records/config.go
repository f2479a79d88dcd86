package records

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/penlok/helpers"
)

const (
	DefaultMaxConns       = 4
	DefaultConnectTimeout = 10 * time.Second
)

type Config struct {
	URL               string `hcl:"url"`
	Host              string `hcl:"host"`
	Port              string `hcl:"port"`
	Name              string `hcl:"name"`
	User              string `hcl:"user"`
	Password          string `hcl:"password"`
	SSLMode           string `hcl:"sslmode"`
	MaxConns          int    `hcl:"max_conns"`
	ConnectTimeoutSec int    `hcl:"connect_timeout_sec"`
}

// FromEnv fills empty fields from PG_DB, PG_USER, PG_PASSWORD, DB_HOST, DB_PORT.
func (c *Config) FromEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.Trim(getenv(key), `'"`)
		}
	}
	set(&c.Name, "PG_DB")
	set(&c.User, "PG_USER")
	set(&c.Password, "PG_PASSWORD")
	set(&c.Host, "DB_HOST")
	set(&c.Port, "DB_PORT")
}

func (c *Config) Enabled() bool { return c.URL != "" || c.Name != "" }

func (c *Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	host, port := c.Host, c.Port
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	q := u.Query()
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	q.Set("sslmode", sslmode)
	q.Set("application_name", "penlok")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) connectTimeout() time.Duration {
	return helpers.IntSecondDefault(c.ConnectTimeoutSec, DefaultConnectTimeout)
}
