// Package cli реализует инструмент командной строки Dossier.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Dossier API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления briefings, runs, jobs и schedules.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Dossier API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	briefings, err := client.ListBriefings()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: dossier briefing list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - briefing: list, create, show, update, add-source, documents
//   - run: list, start, show, status, cancel, events (с --follow)
//   - job: show, retry
//   - schedule: create, show, update, enable, disable
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
