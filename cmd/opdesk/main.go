package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/opencomm/opdesk/internal/app"
	"github.com/opencomm/opdesk/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	flag.Parse()

	if err := profile.ValidateName(*profileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{ProfileName: *profileFlag}),
		fx.NopLogger,
	)

	fxApp.Run()
}
