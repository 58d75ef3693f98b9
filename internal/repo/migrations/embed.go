// Package migrations содержит SQL-схемы хранилищ, встроенные в бинарник.
package migrations

import "embed"

// Files — миграции для postgres/ и sqlite/, применяются по возрастанию имени файла.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
