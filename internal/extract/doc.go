// Package extract — получение исходного контента по URL.
//
// Extractor скачивает страницу и приводит её к plain text,
// пригодному для передачи subagent'ам и в ingestion pipeline.
// Ошибки делятся на ErrUnavailable (источник временно недоступен,
// имеет смысл retry) и ErrRejected (источник ответил отказом,
// повторять бессмысленно).
package extract
