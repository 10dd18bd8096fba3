package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/logrusorgru/aurora/v3"

	"github.com/osprey-db/osprey/internal/cli"
)

const defaultConfigPath = "./osprey.yaml"
const commandTimeout = 120 * time.Second

func main() {
	migrateCmd := flag.Bool("migrate", false, "apply all pending migrations")
	rollbackCmd := flag.String("rollback", "", "roll back one migration by its key, e.g. 002_create_tasks_table")
	statusCmd := flag.Bool("status", false, "list applied migrations")
	pendingCmd := flag.Bool("pending", false, "list discovered migrations that are not applied yet")
	initCmd := flag.Bool("init", false, "create a starter config file")
	configPath := flag.String("config", defaultConfigPath, "path to the yaml config file")

	flag.Parse()

	if *initCmd {
		if cli.FileExists(*configPath) {
			fail("config file already exists at %s", *configPath)
		}

		if err := cli.InitCfg(*configPath); err != nil {
			fail("%s", err)
		}

		success("created config at %s", *configPath)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	app, closer, err := cli.NewFromYaml(ctx, *configPath)
	if err != nil {
		fail("%s", err)
	}

	defer func() {
		if closeErr := closer(); closeErr != nil {
			fail("%s", closeErr)
		}
	}()

	switch {
	case *migrateCmd:
		applied, err := app.Migrate(ctx)
		if err != nil {
			fail("%s", err)
		}

		if len(applied) == 0 {
			success("nothing to migrate")
			return
		}

		success("applied %d migration(s)", len(applied))
	case *rollbackCmd != "":
		if err := app.Rollback(ctx, *rollbackCmd); err != nil {
			fail("%s", err)
		}

		success("all done")
	case *statusCmd:
		applied, err := app.Status(ctx)
		if err != nil {
			fail("%s", err)
		}

		if len(applied) == 0 {
			success("no migrations applied yet")
			return
		}

		for _, a := range applied {
			fmt.Printf("%s\t%s\n", a.Key, a.AppliedAt.Format(time.RFC3339))
		}
	case *pendingCmd:
		pending, err := app.Pending(ctx)
		if err != nil {
			fail("%s", err)
		}

		if len(pending) == 0 {
			success("nothing pending")
			return
		}

		for _, key := range pending {
			fmt.Println(key)
		}
	default:
		fail("unknown command, use -migrate, -rollback=KEY, -status or -pending")
	}
}

func success(format string, args ...interface{}) {
	fmt.Println(aurora.Green("osprey: "), fmt.Sprintf(format, args...))
}

func fail(format string, args ...interface{}) {
	fmt.Println(aurora.Red("osprey: "), fmt.Sprintf(format, args...))
	os.Exit(1)
}
