package flags

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// Config holds command-line configuration for the serve command
type Config struct {
	Port       string
	ConfigFile string
	Migrate    bool
}

// Register attaches the serve flags to cmd.
func Register(cmd *cobra.Command) {
	cmd.Flags().String("port", "", "Port number (1-65535); overrides PORT")
	cmd.Flags().Bool("migrate", false, "Apply pending schema migrations before serving")
}

// RegisterPersistent attaches flags shared by every subcommand.
func RegisterPersistent(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Config file (YAML or .env)")
}

// Parse reads the flags registered on cmd.
func Parse(cmd *cobra.Command) (Config, error) {
	var c Config
	var err error

	if f := cmd.Flags().Lookup("port"); f != nil {
		c.Port = f.Value.String()
	}
	if c.ConfigFile, err = cmd.Flags().GetString("config"); err != nil {
		return c, err
	}
	if f := cmd.Flags().Lookup("migrate"); f != nil {
		c.Migrate, _ = cmd.Flags().GetBool("migrate")
	}
	return c, c.Validate()
}

// Validate validates the parsed configuration
func (c Config) Validate() error {
	if c.Port == "" {
		return nil
	}
	return ValidatePort(c.Port)
}

// ValidatePort validates the port number
func ValidatePort(port string) error {
	if port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port number '%s': must be a number", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port number %d is out of range: must be between 1 and 65535", portNum)
	}

	if portNum < 1024 {
		fmt.Fprintf(os.Stderr, "Warning: Port %d is a privileged port (1-1023). You may need administrator privileges.\n", portNum)
	}

	return nil
}
