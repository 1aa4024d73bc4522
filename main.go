// graphstudio is a panel-oriented studio whose panels expose tools to an
// LLM through a streaming orchestration layer.
package main

import (
	"fmt"
	"os"

	"github.com/graphstudio/graphstudio/cmd"
	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	dir, _ := config.Dir()
	if err := logger.Init(cfg.BuildLoggerConfig(), dir); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}
	cmd.Execute()
}
