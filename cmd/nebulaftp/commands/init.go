package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nebulaftp/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample NebulaFTP configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/nebulaftp/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nebulaftp init

  # Initialize with custom path
  nebulaftp init --config /etc/nebulaftp/config.yaml

  # Force overwrite existing config
  nebulaftp init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to point at your MongoDB and bucket")
	fmt.Println("  2. Create a user with: nebulaftp user add <login>")
	fmt.Println("  3. Start the server with: nebulaftp start")

	return nil
}
