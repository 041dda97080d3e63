package coordinator

import "errors"

// Ошибки координатора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunAlreadyActive — run уже обрабатывается этим экземпляром.
	ErrRunAlreadyActive = errors.New("run is already active")

	// ErrRunNotRunnable — run в статусе, из которого выполнение невозможно.
	ErrRunNotRunnable = errors.New("run is not runnable")

	// ErrQuorumUnreachable — success-like кворум недостижим даже если
	// все оставшиеся subagents завершатся успешно.
	ErrQuorumUnreachable = errors.New("synthesis quorum unreachable")
)
