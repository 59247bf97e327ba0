package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "STACKSHIFT"

// bindViper lets every flag of commands be set from a STACKSHIFT_* variable
// or the config file. Flags given on the command line always win.
func bindViper(commands ...*cobra.Command) {
	cobra.OnInitialize(func() {
		explicit := cfgFile
		if explicit == "" {
			explicit = os.Getenv(envPrefix + "_CONFIG")
		}
		cobra.CheckErr(applyConfig(newViper(explicit), explicit != "", commands...))
	})
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		return v
	}
	v.SetConfigName("stackshift")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
	return v
}

func applyConfig(v *viper.Viper, strict bool, commands ...*cobra.Command) error {
	for _, cmd := range commands {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}
	}
	if err := readConfigFile(v, strict); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var setErr error
	for _, cmd := range commands {
		for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				if f.Changed || !v.IsSet(f.Name) {
					return
				}
				val := fmt.Sprintf("%v", v.Get(f.Name))
				if val == "" {
					return
				}
				if err := f.Value.Set(val); err != nil && setErr == nil {
					setErr = fmt.Errorf("invalid value %q for %s: %w", val, f.Name, err)
				}
			})
		}
	}
	return setErr
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "stackshift"))
	}
	return dirs
}
