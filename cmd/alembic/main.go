package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"primamateria.systems/alembic/internal/alembic"
	"primamateria.systems/alembic/internal/dist"
	"primamateria.systems/alembic/internal/manifestation"
	"primamateria.systems/alembic/internal/packages"
	"primamateria.systems/alembic/pkg/plan"
)

var Version string

// exitError maps failures users can act on to a short message.
func exitError(err error) error {
	var (
		checksum *manifestation.ChecksumFailedError
		fetch    *manifestation.ComponentDownloadFailedError
		corrupt  *packages.CorruptComponentError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &checksum):
		return cli.Exit(fmt.Sprintf("checksum mismatch for %v, the dist server may be serving a stale file", checksum.URL), 2)
	case errors.As(err, &fetch):
		return cli.Exit(fmt.Sprintf("unable to download %v: %v", fetch.Component, fetch.Err), 2)
	case errors.As(err, &corrupt):
		return cli.Exit(fmt.Sprintf("%v, nothing was changed", corrupt), 3)
	case errors.Is(err, manifestation.ErrInvalidChanges), errors.Is(err, alembic.ErrUnknownComponent):
		return cli.Exit(err.Error(), 1)
	case errors.Is(err, alembic.ErrNotInstalled):
		return cli.Exit("no toolchain installed, try `alembic install <toolchain>` first", 1)
	case errors.Is(err, dist.ErrInvalidToolchain):
		return cli.Exit(err.Error(), 1)
	}
	return err
}

func printPlan(p *plan.Plan, format string) error {
	switch format {
	case "text":
		if p.Empty() {
			fmt.Println("No changes needed")
			return nil
		}
		fmt.Println(p.Pretty())
		if p.Reinstall() {
			fmt.Println(p.ManifestDiff())
		}
	case "json":
		jsonPlan, err := p.ToJson()
		if err != nil {
			return fmt.Errorf("error converting to json: %w", err)
		}
		fmt.Printf("%s", string(jsonPlan))
	default:
		return fmt.Errorf("unsupported output format")
	}
	return nil
}

func main() {
	cliflags := make(map[string]any)
	ctx := context.Background()

	var configFile string

	app := &cli.Command{
		Name:  "alembic",
		Usage: "Install and update toolchains from a dist server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Specifed TOML config file",
				Required:    false,
				Destination: &configFile,
				Aliases:     []string{"c"},
				Sources:     cli.EnvVars("ALEMBIC_CONFIG"),
				Action: func(ctx context.Context, cCtx *cli.Command, v string) error {
					if v == "" {
						return errors.New("config file passed wihout value")
					}
					if _, err := os.Stat(v); err != nil && os.IsNotExist(err) {
						return errors.New("config file not found")
					} else if err != nil {
						return err
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:    "prefix",
				Usage:   "Install prefix",
				Aliases: []string{"p"},
				Action: func(ctx context.Context, cm *cli.Command, v string) error {
					cliflags["prefix"] = v
					return nil
				},
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Target triple to install for",
				Action: func(ctx context.Context, cm *cli.Command, v string) error {
					cliflags["target"] = v
					return nil
				},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Action: func(ctx context.Context, cm *cli.Command, b bool) error {
					cliflags["debug"] = b
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Dump active config",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					c, err := loadConfig(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					fmt.Println(c)
					return nil
				},
			},
			{
				Name:      "install",
				Aliases:   []string{"update"},
				Usage:     "Install or update a toolchain",
				ArgsUsage: "<toolchain>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "add",
						Aliases: []string{"a"},
						Usage:   "Extra components to install alongside the toolchain",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					toolchain := cCtx.Args().First()
					if toolchain == "" {
						return cli.Exit("specify a toolchain, e.g. nightly or stable-x86_64-unknown-linux-gnu", 1)
					}
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					status, err := a.Update(ctx, toolchain, cCtx.StringSlice("add"))
					if err != nil {
						return exitError(err)
					}
					if status == manifestation.Unchanged {
						fmt.Printf("%v is up to date\n", toolchain)
						return nil
					}
					fmt.Printf("%v installed\n", toolchain)
					return nil
				},
			},
			{
				Name:  "uninstall",
				Usage: "Remove the installed toolchain",
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					if err := a.Uninstall(ctx); err != nil {
						return exitError(err)
					}
					fmt.Println("toolchain uninstalled")
					return nil
				},
			},
			{
				Name:  "component",
				Usage: "Manage extensions of the installed toolchain",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Install extensions",
						ArgsUsage: "<component>...",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							names := cCtx.Args().Slice()
							if len(names) == 0 {
								return cli.Exit("specify a component to add", 1)
							}
							a, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							if _, err := a.AddComponents(ctx, names...); err != nil {
								return exitError(err)
							}
							return nil
						},
					},
					{
						Name:      "remove",
						Usage:     "Remove extensions",
						ArgsUsage: "<component>...",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							names := cCtx.Args().Slice()
							if len(names) == 0 {
								return cli.Exit("specify a component to remove", 1)
							}
							a, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							if _, err := a.RemoveComponents(ctx, names...); err != nil {
								return exitError(err)
							}
							return nil
						},
					},
					{
						Name:  "list",
						Usage: "List installed components",
						Action: func(ctx context.Context, cCtx *cli.Command) error {
							a, err := setup(ctx, configFile, cliflags)
							if err != nil {
								return err
							}
							installed, err := a.Components()
							if err != nil {
								return err
							}
							for _, c := range installed {
								fmt.Println(c.Name())
							}
							return nil
						},
					},
				},
			},
			{
				Name:      "plan",
				Usage:     "Show what an install or update would change",
				ArgsUsage: "[toolchain]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Minimize output",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Control output format. Supports text,json",
					},
					&cli.StringSliceFlag{
						Name:  "add",
						Usage: "Extensions to add",
					},
					&cli.StringSliceFlag{
						Name:  "remove",
						Usage: "Extensions to remove",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					quiet := cCtx.Bool("quiet")
					format := "text"
					if cCtx.IsSet("format") {
						format = cCtx.String("format")
					}
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					p, err := a.Plan(ctx, cCtx.Args().First(), cCtx.StringSlice("add"), cCtx.StringSlice("remove"))
					if err != nil {
						return exitError(fmt.Errorf("error planning changes: %w", err))
					}
					if !quiet {
						if err := printPlan(p, format); err != nil {
							return err
						}
					}
					err = a.SavePlan(p, "plan.toml")
					if err != nil {
						return fmt.Errorf("error writing plan: %w", err)
					}
					return nil
				},
			},
			{
				Name:  "doctor",
				Usage: "find components whose files are missing. Dry run by default",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "remove",
						Aliases: []string{"r"},
						Usage:   "Drop corrupted components from the registry",
					},
				},
				Action: func(ctx context.Context, cCtx *cli.Command) error {
					a, err := setup(ctx, configFile, cliflags)
					if err != nil {
						return err
					}
					corrupted, err := a.Doctor()
					if err != nil {
						return err
					}
					for _, v := range corrupted {
						fmt.Printf("Corrupted component: %v\n", v)
					}
					if !cCtx.Bool("remove") || len(corrupted) == 0 {
						return nil
					}
					return a.Purge(corrupted)
				},
			},
			{
				Name:  "version",
				Usage: "show version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Printf("alembic version %v\n", Version)
					return nil
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
