package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// keyAliases maps shorthand and older keys to the conf tag they set.
var keyAliases = map[string]string{
	"p2p.seeds": "p2p.trusted_peers",
	"rest":      "rest.enabled",
	"explorer":  "explorer.enabled",
}

// LoadFile reads a config file of "key = value" lines. Lines starting with
// # are comments and values may be quoted. A missing file has no values.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key = value", path, i+1)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return values, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// ApplyFileConfig sets every Config field whose conf tag names a key in
// values. Unknown keys are ignored.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	fields := confFields(reflect.ValueOf(cfg).Elem())
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		tag := key
		if alias, ok := keyAliases[key]; ok {
			tag = alias
		}
		field, ok := fields[tag]
		if !ok {
			continue
		}
		if err := setField(field, values[key]); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// confFields indexes the fields of v by conf tag, descending into untagged
// nested structs.
func confFields(v reflect.Value) map[string]reflect.Value {
	out := make(map[string]reflect.Value)
	var walk func(reflect.Value)
	walk = func(v reflect.Value) {
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if tag := t.Field(i).Tag.Get("conf"); tag != "" {
				out[tag] = v.Field(i)
			} else if v.Field(i).Kind() == reflect.Struct {
				walk(v.Field(i))
			}
		}
	}
	walk(v)
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(f reflect.Value, s string) error {
	switch {
	case f.Type() == durationType:
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case f.Kind() == reflect.String:
		f.SetString(s)
	case f.Kind() == reflect.Bool:
		f.SetBool(parseBool(s))
	case f.Kind() == reflect.Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
		f.Set(reflect.ValueOf(parseStringList(s)))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseStringList splits a comma-separated list, dropping empty items.
func parseStringList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var defaultConfigTmpl = template.Must(template.New("conf").Parse(`# Klingnet node configuration.
#
# Node settings only. The slot schedule and the leader set come from the
# genesis and are the same on every node.

network = {{.Network}}
# datadir = {{.DataDir}}
# genesis = genesis.json

# --- P2P ---------------------------------------------------------------------

p2p.listen = {{.P2P.ListenAddr}}
p2p.port = {{.P2P.Port}}
p2p.maxpeers = {{.P2P.MaxPeers}}

# Nodes to bootstrap from, as comma-separated multiaddrs ending in /p2p/<id>.
# p2p.trusted_peers = /ip4/203.0.113.1/tcp/{{.P2P.Port}}/p2p/12D3KooW...
# p2p.nodiscover = false

# --- Bootstrap ---------------------------------------------------------------

# Start without trusted peers (single-node networks).
# bootstrap.skip = false
# Give up after N attempts and start unsynced, 0 retries forever.
# bootstrap.max_attempts = 0
bootstrap.retry_wait = {{.Bootstrap.RetryWait}}

# --- Fragment pool -----------------------------------------------------------

mempool.pool_max_entries = {{.Mempool.PoolMaxEntries}}
mempool.log_max_entries = {{.Mempool.LogMaxEntries}}

# --- Block production --------------------------------------------------------

# Leader secret files, comma-separated, hex encoded.
# leadership.secrets = leader.key

# --- REST API and explorer ---------------------------------------------------

rest.enabled = {{.Rest.Enabled}}
rest.listen = {{.Rest.Listen}}
explorer.enabled = {{.Explorer.Enabled}}

# --- Logging -----------------------------------------------------------------

log.level = {{.Log.Level}}
# log.file =
log.json = {{.Log.JSON}}
`))

// WriteDefaultConfig writes a config file holding the defaults of network.
func WriteDefaultConfig(path string, network NetworkType) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := defaultConfigTmpl.Execute(f, Default(network)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
