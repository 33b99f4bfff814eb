package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/karstlund/prospector/internal/config"
	"github.com/karstlund/prospector/internal/credentials"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage prospector configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Store the actor hub API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetToken,
}

var configForce bool

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetTokenCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := effectiveConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromHome()
	}
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", effectiveConfigPath())
	fmt.Print(string(data))

	if _, err := credentials.Resolve(); err == nil {
		fmt.Println("# API token: configured")
	} else {
		fmt.Println("# API token: not set")
	}
	return nil
}

func runConfigSetToken(cmd *cobra.Command, args []string) error {
	if err := credentials.Save(args[0]); err != nil {
		return err
	}
	fmt.Printf("Token saved to %s\n", credentials.Path())
	return nil
}
