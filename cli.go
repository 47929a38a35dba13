// cli.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/ViniZap4/thesis-notes/config"
	"github.com/ViniZap4/thesis-notes/filesystem"
	"github.com/ViniZap4/thesis-notes/notes"
)

const usage = `usage:
  thesis-notes                         run the API server
  thesis-notes export -owner U -dir D  write the owner's notes as markdown files
  thesis-notes import -owner U -dir D  recreate an exported directory under owner U
`

// runCommand handles the offline subcommands and returns the exit code.
func runCommand(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id")
	dir := fs.String("dir", "", "export directory")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *owner == "" || *dir == "" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()
	svc := notes.NewService(st, notes.WithLogger(log.Logger))

	switch args[0] {
	case "export":
		exp, err := svc.ExportAllData(ctx, *owner)
		if err != nil {
			log.Error().Err(err).Msg("Export failed")
			return 1
		}
		if err := filesystem.WriteExport(*dir, exp); err != nil {
			log.Error().Err(err).Str("dir", *dir).Msg("Failed to write export")
			return 1
		}
		log.Info().Int("notes", len(exp.Notes)).Str("dir", *dir).Msg("Export written")
	case "import":
		exp, err := filesystem.ReadExport(*dir)
		if err != nil {
			log.Error().Err(err).Str("dir", *dir).Msg("Failed to read export")
			return 1
		}
		res, err := svc.ImportData(ctx, exp, *owner)
		if err != nil {
			log.Error().Err(err).Msg("Import failed")
			return 1
		}
		log.Info().Int("created", res.Created).Int("skipped", res.Skipped).Msg("Import finished")
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
