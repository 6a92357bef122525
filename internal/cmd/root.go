package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zapbuilder/zapbuild/internal/config"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/styles"
)

var rootCmd = &cobra.Command{
	Use:   "zapbuild",
	Short: "Build projects from streamed model output",
	Long: `zapbuild reads a model's answer as it streams, extracts the file and
shell actions embedded in its artifact markup, and applies them to a
runtime: a local directory, a Docker container, or an in-memory sandbox.

Files are written as soon as they are complete and shell commands run
in order, each one after every file that precedes it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints the error it returns, if any.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	switch {
	case errors.Is(err, errors.ErrCanceled):
		// The command already reported the interrupt.
		return
	case errors.GetSeverity(err) <= errors.SeverityWarning:
		fmt.Fprintln(w, styles.WarnMsg("%v", err))
	default:
		fmt.Fprintln(w, styles.ErrorMsg("%v", err))
	}

	if errors.IsRetryable(err) {
		fmt.Fprintln(w, styles.Muted.Render("  the failure may be temporary, run the command again"))
	}
	var buildErr errors.BuildError
	if errors.As(err, &buildErr) && !errors.IsUserFacing(err) {
		fmt.Fprintln(w, styles.Muted.Render("  details: zapbuild logs --level error"))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/zapbuild/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().String("color", "", "color output: auto, always or never")
	_ = viper.BindPFlag("output.color", rootCmd.PersistentFlags().Lookup("color"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ZAPBUILD")
	// e.g. ZAPBUILD_RUNTIME_KIND for runtime.kind
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
