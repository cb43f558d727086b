// Package config defines the data model consumed from the external config
// file parser (spec.md §3, §6): Config, Listener, and the JSON decode that
// produces them. The decode is intentionally thin — the parser's own
// validation/defaulting rules are an external collaborator per spec.md §1;
// this package only shapes the JSON into the Config list the reactor reads.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// DefaultClientMaxBodySize is used when a server entry omits the field.
const DefaultClientMaxBodySize = 1 << 20 // 1 MiB

// Config is one virtual host: a (host, port, server_name) triple plus its
// routing table, error pages, and upload/body-size policy.
type Config struct {
	Host               string
	Port               int
	ServerName         string
	Routes             map[string]string
	ErrorPages         map[int]string
	UploadDir          string
	ClientMaxBodySize  int64
}

// Bootstrap is the top-level decode target for the config file's
// `{"server": [...]}` shape.
type Bootstrap struct {
	Server []rawServer `json:"server"`
}

type rawServer struct {
	Host              string            `json:"host"`
	HostName          string            `json:"host_name"`
	ServerName        string            `json:"server_name"`
	Listen            []int             `json:"listen"`
	ErrorPages        map[string]string `json:"error_pages"`
	Routes            map[string]string `json:"routes"`
	UploadDir         string            `json:"upload_dir"`
	ClientMaxBodySize json.RawMessage   `json:"client_max_body_size"`
}

// Load reads and decodes the config file at path into a flat Config list —
// one Config per (virtual host, listen port) pair, matching the Listener
// grouping rule in spec.md §3 ("Multiple Configs may share (host, port)").
func Load(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var boot Bootstrap
	if err := json.Unmarshal(data, &boot); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(boot.Server) == 0 {
		return nil, fmt.Errorf("config: %s declares no servers", path)
	}

	var out []Config
	for _, rs := range boot.Server {
		name := rs.ServerName
		if name == "" {
			name = rs.HostName
		}
		errorPages, err := parseErrorPages(rs.ErrorPages)
		if err != nil {
			return nil, err
		}
		maxBody, err := parseMaxBody(rs.ClientMaxBodySize)
		if err != nil {
			return nil, err
		}
		ports := rs.Listen
		if len(ports) == 0 {
			ports = []int{80}
		}
		for _, port := range ports {
			out = append(out, Config{
				Host:              rs.Host,
				Port:              port,
				ServerName:        name,
				Routes:            rs.Routes,
				ErrorPages:        errorPages,
				UploadDir:         rs.UploadDir,
				ClientMaxBodySize: maxBody,
			})
		}
	}
	return out, nil
}

func parseErrorPages(in map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(in))
	for k, v := range in {
		code, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("config: invalid error_pages key %q: %w", k, err)
		}
		out[code] = v
	}
	return out, nil
}

// parseMaxBody accepts a bare JSON integer or a quoted string with an
// optional k/m/g suffix (e.g. "10m"), per SPEC_FULL.md §3.
func parseMaxBody(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return DefaultClientMaxBodySize, nil
	}

	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, fmt.Errorf("config: invalid client_max_body_size: %s", raw)
	}
	return parseSizeString(asString)
}

func parseSizeString(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return DefaultClientMaxBodySize, nil
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid client_max_body_size %q: %w", s, err)
	}
	return n * mult, nil
}

// ListenerKey is the (host, port) pair that identifies one listening
// endpoint shared by one or more Configs.
type ListenerKey struct {
	Host string
	Port int
}

// GroupByListener groups configs by (host, port); the first Config seen for
// a given key is its default per spec.md §3.
func GroupByListener(configs []Config) (map[ListenerKey][]*Config, []ListenerKey) {
	groups := make(map[ListenerKey][]*Config)
	var order []ListenerKey
	for i := range configs {
		key := ListenerKey{Host: configs[i].Host, Port: configs[i].Port}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], &configs[i])
	}
	return groups, order
}

// Match selects the virtual host for hostHeader among the Configs bound to
// one listener: first Config whose ServerName equals hostHeader, else the
// group's default (first) Config.
func Match(group []*Config, hostHeader string) *Config {
	if len(group) == 0 {
		return nil
	}
	for _, c := range group {
		if c.ServerName != "" && c.ServerName == hostHeader {
			return c
		}
	}
	return group[0]
}
