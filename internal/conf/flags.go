package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperKeyAnnotation marks a flag with the settings key it overrides
const viperKeyAnnotation = "opusrec/viper-key"

// BindFlag associates flag name with a settings key. The binding takes effect
// in BindAnnotatedFlags, so commands sharing a key do not override each other.
func BindFlag(flags *pflag.FlagSet, name, key string) error {
	if err := flags.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		return fmt.Errorf("error annotating flag %s: %w", name, err)
	}
	return nil
}

// BindAnnotatedFlags binds every annotated flag of the executing command to
// viper. Call before Load.
func BindAnnotatedFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		if err := viper.BindPFlag(keys[0], f); err != nil {
			bindErr = fmt.Errorf("error binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}
