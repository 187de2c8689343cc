package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds command flags to configuration keys so that a flag set
// on the command line overrides the file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for flagName, configKey := range bindings {
		if flag := flags.Lookup(flagName); flag != nil {
			if err := v.BindPFlag(configKey, flag); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flagName, err)
			}
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(flagName)
	}
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort checks a port flag value.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateFormat returns a validator accepting only the given formats.
func ValidateFormat(formats ...string) func(string) error {
	return func(format string) error {
		for _, f := range formats {
			if strings.EqualFold(f, format) {
				return nil
			}
		}
		return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(formats, ", "))
	}
}
