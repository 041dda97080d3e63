// Dossier CLI — инструмент командной строки для управления
// briefings, runs, jobs и schedules через HTTP API.
//
// Использование:
//
//	dossier [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	briefing  Управление briefings и источниками
//	run       Управление runs и чтение event log
//	job       Инспекция и перезапуск queue jobs
//	schedule  Управление расписаниями
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Dossier/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "dossier",
		Short:         "Dossier CLI — multi-persona briefing tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewBriefingCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
