package push

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/portablefn/fnharness/cmd/util"
)

// bindPushFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindPushFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		for _, name := range []string{
			addrFlag,
			instructionIDFlag,
			transformIDFlag,
			timerFamilyIDFlag,
			coderFlag,
			batchSizeFlag,
			timeoutFlag,
			traceEndpointFlag,
			logFormatFlag,
			logLevelFlag,
		} {
			util.MustBindPFlag(name, flags.Lookup(name))
		}
	}
}
