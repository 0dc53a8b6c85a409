package action

import (
	"github.com/urfave/cli/v2"
)

// InitConfig writes the effective configuration to a TOML file.
func InitConfig(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "FILE")
	if err != nil {
		return err
	}
	if err := env.Config.Write(argv[0]); err != nil {
		return err
	}
	env.Logger.Info("configuration written", "path", argv[0])
	return nil
}
