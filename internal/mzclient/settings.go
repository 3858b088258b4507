package mzclient

import (
	"net"
	"net/url"
	"strconv"

	"github.com/zoravur/materialize-live/internal/apperr"
)

// Settings are the connection parameters of one datasource.
type Settings struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string
}

func (s Settings) Validate() error {
	if s.Host == "" {
		return apperr.New(apperr.InvalidSettings, "host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return apperr.Newf(apperr.InvalidSettings, "invalid port %d", s.Port)
	}
	if s.Username == "" {
		return apperr.New(apperr.InvalidSettings, "username is required")
	}
	return nil
}

// ConnString renders s as a postgres:// URL.
func (s Settings) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.Password != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	} else {
		u.User = url.User(s.Username)
	}
	q := url.Values{}
	sslmode := s.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
