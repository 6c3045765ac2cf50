// Package config resolves the effective device configuration: embedded
// per-board defaults, an optional file overlay and DOORBELL_* environment
// overrides, in that order of precedence (lowest first).
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"doorbell-go/bus"
	"doorbell-go/errcode"
	"doorbell-go/types"
)

const (
	configPrefix = "config"
	envPrefix    = "DOORBELL"
	DefaultBoard = "rpi"
)

// EmbeddedConfigLookup allows overriding how board defaults are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the boards with embedded defaults.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the layered settings for board. file may be empty; when set it
// must exist.
func New(board, file string) (*viper.Viper, error) {
	if board == "" {
		board = DefaultBoard
	}
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "config.load", Msg: "no embedded config for board " + board}
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("embedded config %s: %w", board, err)
	}
	v.Set("board", board)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Decode unmarshals the effective settings.
func Decode(v *viper.Viper) (types.Config, error) {
	var c types.Config
	if err := v.Unmarshal(&c); err != nil {
		return types.Config{}, &errcode.E{C: errcode.InvalidParams, Op: "config.decode", Err: err}
	}
	if c.Awake.PollTick <= 0 {
		return types.Config{}, &errcode.E{C: errcode.InvalidParams, Op: "config.decode", Msg: "awake.poll_tick must be positive"}
	}
	return c, nil
}

// Load is New followed by Decode.
func Load(board, file string) (types.Config, *viper.Viper, error) {
	v, err := New(board, file)
	if err != nil {
		return types.Config{}, nil, err
	}
	c, err := Decode(v)
	return c, v, err
}

// Show writes the effective settings as TOML.
func Show(w io.Writer, v *viper.Viper) error {
	b, err := toml.Marshal(v.AllSettings())
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// ConfigService publishes every top-level settings section as a retained
// message on config/<section> so bus subscribers can inspect what the
// device booted with.
type ConfigService struct {
	v *viper.Viper
}

func NewConfigService(v *viper.Viper) *ConfigService {
	return &ConfigService{v: v}
}

func (s *ConfigService) publishConfig(conn *bus.Connection) error {
	if s.v == nil {
		return errors.New("config service has no settings")
	}
	for k, val := range s.v.AllSettings() {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), val, true))
	}
	return nil
}

// Start publishes the settings. Messages are retained, so late subscribers
// still see them.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.publishConfig(conn)
}
