// Command libtracy-demo starts a libtracy agent from a YAML config file
// and emits synthetic trace events against one tracepoint, the way a
// real embedder would drive the library. It mirrors cmd/tempo/main.go's
// config-loading shape, scaled down to libtracy's single-component
// config.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v2"

	"github.com/Rohde-Schwarz/libtracy"
	"github.com/Rohde-Schwarz/libtracy/internal/tracelog"
)

func main() {
	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	logger := tracelog.New(cfg.LogLevel)

	if warnings := cfg.CheckConfig(); len(warnings) != 0 {
		for _, w := range warnings {
			level.Warn(logger).Log("msg", w.Message, "explain", w.Explain)
		}
	}
	if configVerify {
		os.Exit(0)
	}

	agent, err := libtracy.Init(*cfg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start libtracy agent", "err", err)
		os.Exit(1)
	}
	defer agent.Close()

	level.Info(logger).Log("msg", "libtracy agent listening", "port", agent.Port())

	if err := agent.Register("demo.heartbeat"); err != nil {
		level.Error(logger).Log("msg", "failed to register tracepoint", "err", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	n := 0
	for range ticker.C {
		n++
		agent.Submit("demo.heartbeat", []byte(fmt.Sprintf("tick %d", n)))
	}
}

func loadConfig() (*libtracy.Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	cfg := &libtracy.Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return nil, false, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buf = []byte(s)
		}
		if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flag.Parse()

	return cfg, configVerify, nil
}
