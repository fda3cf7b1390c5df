package plugin

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/weftworks/weft/runtime/config"
)

// ProxySettings is the outbound proxy policy for index fetches and git
// clones. It is read from the "proxy" config section; auto-detect defers to
// the HTTPS_PROXY/HTTP_PROXY environment.
type ProxySettings struct {
	Enabled    bool
	AutoDetect bool
	Protocol   string
	Host       string
	Port       int
	Username   string
	Password   string
}

func loadProxySettings(store *config.Store) ProxySettings {
	if store == nil {
		return ProxySettings{}
	}
	store.SetDefault("proxy", "protocol", "http")
	return ProxySettings{
		Enabled:    store.GetBool("proxy", "enabled"),
		AutoDetect: store.GetBool("proxy", "auto_detect"),
		Protocol:   store.GetString("proxy", "protocol"),
		Host:       store.GetString("proxy", "host"),
		Port:       store.GetInt("proxy", "port"),
		Username:   store.GetString("proxy", "username"),
		Password:   store.GetString("proxy", "password"),
	}
}

// URL resolves the proxy endpoint, or nil when no proxy applies.
func (p ProxySettings) URL() (*url.URL, error) {
	if !p.Enabled {
		return nil, nil
	}
	if p.AutoDetect {
		for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
			if v := os.Getenv(key); v != "" {
				return url.Parse(v)
			}
		}
		return nil, nil
	}
	if p.Host == "" {
		return nil, nil
	}
	u := &url.URL{
		Scheme: p.Protocol,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u, nil
}

// httpClient builds the index HTTP client with the proxy applied. A broken
// proxy config degrades to a direct client.
func (p ProxySettings) httpClient(timeout time.Duration) *http.Client {
	c := &http.Client{Timeout: timeout}
	u, err := p.URL()
	if err != nil || u == nil {
		return c
	}
	c.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	return c
}

// gitProxy translates the settings into go-git transport options.
func (p ProxySettings) gitProxy() transport.ProxyOptions {
	u, err := p.URL()
	if err != nil || u == nil {
		return transport.ProxyOptions{}
	}
	opts := transport.ProxyOptions{URL: u.Scheme + "://" + u.Host}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	return opts
}
