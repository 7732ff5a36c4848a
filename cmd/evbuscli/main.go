package main

import (
	"github.com/robotalks/evbus/pkg/cli/sh"
	"github.com/robotalks/evbus/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
