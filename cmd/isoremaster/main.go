package main

import (
	"log"
	"os"

	"github.com/rstms/iso-remaster/internal/cli/action"
	"github.com/rstms/iso-remaster/internal/cli/app"
	"github.com/rstms/iso-remaster/internal/cli/cmd"
)

func main() {
	appName := app.Name()
	application := app.New(
		cmd.Usage,
		cmd.GlobalFlags(),
		cmd.Setup,
		cmd.Teardown,
		cmd.NewBuildCommand(appName, action.Build),
		cmd.NewWriteCommand(appName, action.Write),
		cmd.NewExtractCommand(appName, action.Extract),
		cmd.NewPatchCommand(appName, action.Patch),
		cmd.NewLabelCommand(appName, action.LabelInspect, action.LabelEnforce),
		cmd.NewAnalyzeCommand(appName, action.Analyze),
		cmd.NewDepsCommand(appName, action.Deps),
		cmd.NewInitConfigCommand(appName, action.InitConfig),
		cmd.NewVersionCommand(appName))

	if err := application.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
