package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override command line flags.
const EnvPrefix = "PUSH_UPDATE"

// BindFlags returns a viper instance resolving every flag of flags from, in
// order, the command line, PUSH_UPDATE_<FLAG> environment variables and the flag
// default. Dashes in flag names become underscores: --log-level is read from
// PUSH_UPDATE_LOG_LEVEL.
func BindFlags(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	return v, nil
}
