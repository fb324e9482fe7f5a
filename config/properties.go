package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"

	"github.com/dhcgn/mailbatch/dispatch"
)

const (
	KeyHost        = "mail.smtp.host"
	KeyPort        = "mail.smtp.port"
	KeyUser        = "mail.smtp.user"
	KeyPassword    = "mail.smtp.password"
	KeyTLS         = "mail.smtp.tls"
	KeyTimeout     = "mail.smtp.timeout"
	KeyMinParallel = "mail.parallel.min"
	KeyMaxParallel = "mail.parallel.max"
)

// Properties is a string keyed configuration bag. Values given through
// FromMap, FromPairs or Load overlay Defaults.
type Properties struct {
	p *properties.Properties
}

// Defaults returns the baseline bag.
func Defaults() *Properties {
	p := properties.NewProperties()
	p.DisableExpansion = true
	for k, v := range map[string]string{
		KeyHost:        "localhost",
		KeyPort:        "25",
		KeyTLS:         "starttls",
		KeyTimeout:     "0s",
		KeyMinParallel: strconv.Itoa(dispatch.MinParallelism),
		KeyMaxParallel: strconv.Itoa(dispatch.MaxParallelism),
	} {
		p.MustSet(k, v)
	}
	return &Properties{p: p}
}

func FromMap(m map[string]string) *Properties {
	overlay := properties.LoadMap(m)
	return Defaults().merge(overlay)
}

// FromPairs reads alternating keys and values.
func FromPairs(pairs ...string) (*Properties, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("properties: odd number of key/value arguments (%d)", len(pairs))
	}
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key := strings.TrimSpace(pairs[i])
		if key == "" {
			return nil, fmt.Errorf("properties: empty key at position %d", i)
		}
		m[key] = pairs[i+1]
	}
	return FromMap(m), nil
}

// Load reads key=value text from r.
func Load(r io.Reader) (*Properties, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	overlay, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("parse properties: %w", err)
	}
	return Defaults().merge(overlay), nil
}

func LoadFile(path string) (*Properties, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open properties: %w", err)
	}
	defer file.Close()
	return Load(file)
}

func (p *Properties) merge(overlay *properties.Properties) *Properties {
	overlay.DisableExpansion = true
	p.p.Merge(overlay)
	return p
}

func (p *Properties) Get(key string) (string, bool) {
	return p.p.Get(key)
}

// Set overrides a single key.
func (p *Properties) Set(key, value string) {
	p.p.MustSet(key, value)
}

// Keys returns all keys in sorted order.
func (p *Properties) Keys() []string {
	keys := p.p.Keys()
	sort.Strings(keys)
	return keys
}

func (p *Properties) String(key string) string {
	v, _ := p.p.Get(key)
	return strings.TrimSpace(v)
}

func (p *Properties) Int(key string) (int, error) {
	v := p.String(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("property %s: %q is not an integer", key, v)
	}
	return n, nil
}

// Duration accepts Go duration syntax or a plain number of milliseconds.
func (p *Properties) Duration(key string) (time.Duration, error) {
	v := p.String(key)
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("property %s: %q is not a duration", key, v)
	}
	return d, nil
}

// Dispatch converts the bag into an engine configuration.
func (p *Properties) Dispatch() (dispatch.Config, error) {
	port, err := p.Int(KeyPort)
	if err != nil {
		return dispatch.Config{}, err
	}
	minParallel, err := p.Int(KeyMinParallel)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxParallel, err := p.Int(KeyMaxParallel)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := p.Duration(KeyTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	password, _ := p.Get(KeyPassword)

	return dispatch.Config{
		Host:        p.String(KeyHost),
		Port:        port,
		Username:    p.String(KeyUser),
		Password:    password,
		MinParallel: minParallel,
		MaxParallel: maxParallel,
		Timeout:     timeout,
	}, nil
}
