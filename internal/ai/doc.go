// Package ai — клиент LLM-провайдера для subagent'ов и синтеза.
//
// Работает с любым OpenAI-совместимым /chat/completions endpoint.
// Пустой ответ провайдера — не ошибка: вызывающая сторона решает,
// что с ним делать (для subagent это SKIPPED_NO_OUTPUT).
package ai
