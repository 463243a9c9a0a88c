package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HendryAvila/anastrophex/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgFile string
	v       *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:   "anastrophex",
		Short: "Tool-call loop detection MCP server",
		Long: `Anastrophex records the tool calls an AI coding agent makes, detects
known unproductive loops and decides whether a corrective directive is
worth injecting, based on how well that intervention worked before.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "anastrophex": {
        "command": "anastrophex",
        "args": ["serve"]
      }
    }
  }`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ~/.anastrophex/config.yaml)")
	flags.String("data-dir", "", "directory holding the outcome database")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	_ = c.v.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = c.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(
		c.newServeCmd(),
		c.newPatternsCmd(),
		c.newExportCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load() (*config.Config, error) {
	return config.Load(c.v, c.cfgFile)
}
