// Command webserv runs the HTTP/1.x origin server described by SPEC_FULL.md:
// config load, logger construction, reactor bootstrap, SIGINT-driven clean
// shutdown. The positional-argument contract of spec.md §6 is implemented
// directly against os.Args rather than a flag-parsing library — "webserv
// [config_file] [log_file]" is not a --flag=value grammar, so a CLI
// framework like cobra/urfave (seen elsewhere in the retrieval pack) would
// impose the wrong invocation shape; see DESIGN.md.
package main

import (
	"fmt"
	"os"

	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/reactor"
	"github.com/sonjasonjao/webserv-sub000/internal/wlog"
)

const defaultConfigPath = "./config_files/default.json"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath, logPath, ok := parseArgs(args)
	if !ok {
		fmt.Fprintln(os.Stderr, "usage: webserv [config_file] [log_file]")
		return 1
	}

	log := wlog.New(logPath)

	configs, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		return 1
	}

	cache := pagecache.New()
	cache.LoadDefaults()

	r := reactor.New(configs, cache, log)
	log.WithField("config", configPath).Info("webserv starting")

	if err := r.Run(); err != nil {
		log.WithError(err).Error("reactor exited with error")
		return 1
	}
	log.Info("webserv exited cleanly")
	return 0
}

// parseArgs implements spec.md §6's invocation contract: zero args use the
// default config and stderr logging; one arg overrides the config path;
// two args additionally override the log file; more than two is a usage
// error.
func parseArgs(args []string) (configPath, logPath string, ok bool) {
	switch len(args) {
	case 0:
		return defaultConfigPath, "", true
	case 1:
		return args[0], "", true
	case 2:
		return args[0], args[1], true
	default:
		return "", "", false
	}
}
