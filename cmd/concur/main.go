package main

import (
	"github.com/Paintersrp/concur/internal/cli"
	"github.com/Paintersrp/concur/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
