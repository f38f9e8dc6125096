// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/logger"
	"github.com/freebsd-jails/vmadm/internal/orchestrator"
	"github.com/freebsd-jails/vmadm/internal/verrors"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

const defaultConfigPath = "/etc/vmadm.toml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	cfgPath := os.Getenv("VMADM_CONFIG")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		renderError(err)
		return 1
	}
	if err := cfg.EnsureDirs(); err != nil {
		renderError(err)
		return 1
	}

	logPath := cfg.LogPath
	logger.Init(logPath, cfg.LogLevel)

	timeout := 60 * time.Second
	if cfg.CommandTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.CommandTimeoutSeconds) * time.Second
	}
	runner := execshim.Exec{DefaultTimeout: timeout}

	ctx := context.Background()

	if err := dispatch(ctx, cfg, runner, args); err != nil {
		renderError(err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	command, rest := args[0], args[1:]

	switch command {
	case "list":
		return cmdList(ctx, cfg, runner, rest)
	case "create":
		return cmdCreate(ctx, cfg, runner, rest)
	case "update":
		return cmdUpdate(ctx, cfg, runner, rest)
	case "delete":
		return cmdDelete(ctx, cfg, runner, rest)
	case "start":
		return cmdStart(ctx, cfg, runner, rest)
	case "stop":
		return cmdStop(ctx, cfg, runner, rest)
	case "reboot":
		return cmdReboot(ctx, cfg, runner, rest)
	case "get":
		return cmdGet(ctx, cfg, runner, rest)
	case "info":
		return verrors.Generic("info is not implemented yet", nil)
	case "console":
		return cmdConsole(ctx, cfg, runner, rest)
	case "images":
		return cmdImages(ctx, cfg, runner, rest)
	case "--startup":
		// Boot-time autostart hook; wired up by rc.d later.
		return nil
	default:
		usage()
		return verrors.Generic(fmt.Sprintf("unknown command %q", command), nil)
	}
}

func openEnv(ctx context.Context, cfg *config.Config, runner execshim.Runner) (*orchestrator.Env, error) {
	return orchestrator.Open(ctx, cfg, runner, logger.L)
}

func uuidFlag(fs *flag.FlagSet) *string {
	return fs.String("uuid", "", "jail uuid")
}

func requireUUID(uuid string) error {
	if uuid == "" {
		return verrors.Generic("--uuid is required", nil)
	}
	return nil
}

// readInput returns the JSON payload from --file, or stdin when the
// flag is empty or "-".
func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func cmdList(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	headerless := fs.Bool("headerless", false, "omit the header row")
	parsable := fs.Bool("parsable", false, "colon-separated machine output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	jails, err := env.List()
	if err != nil {
		return err
	}

	if *parsable {
		for _, j := range jails {
			fmt.Printf("%s:%s:%s:%s:%d\n",
				j.Index.UUID, j.Config.Alias, j.Config.Hostname, listState(j), j.Config.MaxPhysicalMemory)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	if !*headerless {
		fmt.Fprintln(w, "UUID\tTYPE\tRAM\tSTATE\tALIAS")
	}
	for _, j := range jails {
		ram := humanize.IBytes(j.Config.MaxPhysicalMemory * 1024 * 1024)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.Index.UUID, j.Index.JailType, ram, listState(j), j.Config.Alias)
	}
	return w.Flush()
}

func listState(j jdb.Jail) string {
	if j.Running() {
		return "running"
	}
	return string(j.Index.State)
}

func cmdCreate(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	file := fs.String("file", "", "config file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := readInput(*file)
	if err != nil {
		return verrors.Generic("failed_to_read_config", err)
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	uuid, err := env.Create(ctx, raw)
	if err != nil {
		return err
	}

	fmt.Printf("Created jail %s\n", uuid)
	return nil
}

func cmdUpdate(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	file := fs.String("file", "", "update file (default stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	raw, err := readInput(*file)
	if err != nil {
		return verrors.Generic("failed_to_read_update", err)
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Update(ctx, *uuid, raw); err != nil {
		return err
	}

	fmt.Printf("Updated jail %s\n", *uuid)
	return nil
}

func cmdDelete(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	force := fs.Bool("force", false, "remove even if teardown steps fail")
	fs.BoolVar(force, "f", *force, "remove even if teardown steps fail")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Delete(ctx, *uuid, *force); err != nil {
		return err
	}

	fmt.Printf("Deleted jail %s\n", *uuid)
	return nil
}

func cmdStart(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.Start(ctx, *uuid); err != nil {
		return err
	}

	fmt.Printf("Started jail %s\n", *uuid)
	return nil
}

func cmdStop(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Stop(ctx, *uuid); err != nil {
		return err
	}

	fmt.Printf("Stopped jail %s\n", *uuid)
	return nil
}

func cmdReboot(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("reboot", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.Reboot(ctx, *uuid); err != nil {
		return err
	}

	fmt.Printf("Rebooted jail %s\n", *uuid)
	return nil
}

func cmdGet(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	compact := fs.Bool("json", false, "compact JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	jail, err := env.Get(*uuid)
	if err != nil {
		return err
	}

	var raw []byte
	if *compact {
		raw, err = json.Marshal(jail.Config)
	} else {
		raw, err = json.MarshalIndent(jail.Config, "", "  ")
	}
	if err != nil {
		return verrors.Generic("failed_to_render_config", err)
	}

	fmt.Println(string(raw))
	return nil
}

func cmdConsole(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	uuid := uuidFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUUID(*uuid); err != nil {
		return err
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.Console(ctx, *uuid)
}

func cmdImages(ctx context.Context, cfg *config.Config, runner execshim.Runner, args []string) error {
	if len(args) == 0 {
		return verrors.Generic("images requires a subcommand: avail | import <uuid>", nil)
	}

	env, err := openEnv(ctx, cfg, runner)
	if err != nil {
		return err
	}
	defer env.Close()

	switch args[0] {
	case "avail":
		manifests, err := env.Images.Avail(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tNAME\tVERSION\tOS\tSIZE\tPUBLISHED")
		for _, m := range manifests {
			size := "-"
			if len(m.Files) > 0 {
				size = humanize.IBytes(m.Files[0].Size)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				m.UUID, m.Name, m.Version, m.OS, size, m.PublishedAt)
		}
		return w.Flush()
	case "import":
		if len(args) < 2 {
			return verrors.Generic("images import requires a uuid", nil)
		}
		if err := env.Images.Import(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Imported image %s\n", args[1])
		return nil
	default:
		return verrors.Generic(fmt.Sprintf("unknown images subcommand %q", args[0]), nil)
	}
}

// renderError prints a single line to stderr, with detail lines for
// accumulated validation failures.
func renderError(err error) {
	tty := isatty.IsTerminal(os.Stderr.Fd())

	if ve, ok := verrors.IsValidation(err); ok {
		if tty {
			color.New(color.FgRed).Fprintln(os.Stderr, "Error: invalid configuration")
		} else {
			fmt.Fprintln(os.Stderr, "Error: invalid configuration")
		}
		for _, f := range ve.Fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Field, f.Msg)
		}
		return
	}

	msg := strings.SplitN(err.Error(), "\n", 2)[0]
	if tty {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: vmadm <command> [args]

  list [--headerless] [--parsable]
  create [--file F]
  update --uuid U [--file F]
  delete --uuid U [-f|--force]
  start --uuid U
  stop --uuid U
  reboot --uuid U
  get --uuid U [--json]
  console --uuid U
  images avail
  images import <uuid>
`)
}
