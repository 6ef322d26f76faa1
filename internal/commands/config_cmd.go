package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"aide/internal/fileops"
	"aide/internal/output"
)

// ConfigCmd is the parent command for configuration management.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		RunConfigInit(force)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		RunConfigShow(configPath)
	},
}

func init() {
	ConfigCmd.PersistentFlags().StringP("config", "c", "", "Path to the agent configuration file")
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

// RunConfigInit writes the default configuration to aide.yaml.
func RunConfigInit(force bool) {
	if fileops.Exists(defaultConfigFile) && !force {
		output.PrintError(fmt.Errorf("%s already exists, use --force to overwrite", defaultConfigFile))
	}

	cfg, err := loadConfig("")
	if err != nil {
		output.PrintError(err)
	}
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		output.PrintError(err)
	}
	if err := fileops.WriteText(defaultConfigFile, string(buf)); err != nil {
		output.PrintError(err)
	}
	output.Print(map[string]string{"path": defaultConfigFile}, func() {
		fmt.Printf("Wrote %s\n", defaultConfigFile)
	})
}

// RunConfigShow prints the configuration the agent would run with.
func RunConfigShow(configPath string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		output.PrintError(err)
	}
	output.Print(cfg, func() {
		buf, err := yaml.Marshal(cfg)
		if err != nil {
			output.PrintError(err)
		}
		fmt.Print(string(buf))
	})
}
