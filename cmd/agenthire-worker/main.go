// AgentHire Worker — выполняет запланированные вызовы платных агентов.
//
// Worker:
//   - Забирает due jobs из хранилища через атомарный claim
//   - Вызывает entrypoint агента с оплатой и ключом идемпотентности
//   - Перепланирует, повторяет с backoff или завершает job
//   - Возвращает в очередь jobs с истёкшим lease
//
// Экземпляры масштабируются горизонтально поверх общего хранилища.
//
// Использование:
//
//	agenthire-worker [--config agenthire.toml] <command>
//
// Команды:
//
//	serve    Запустить воркер с /healthz и /metrics
//	migrate  Применить схему хранилища
//	recover  Однократно вернуть в очередь истёкшие lease
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "agenthire-worker",
		Short:         "AgentHire worker — scheduled paid agent invocations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")

	loadFn := func() (*app, error) { return loadApp(configPath) }

	rootCmd.AddCommand(
		newServeCmd(loadFn),
		newMigrateCmd(loadFn),
		newRecoverCmd(loadFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
