package worker

import "time"

// backoffDelay вычисляет задержку перед следующей попыткой:
// initial * 2^attempts с потолком max. attempts — число уже
// израсходованных попыток (0 для первого retry).
func backoffDelay(initial, max time.Duration, attempts int) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}

	delay := initial
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
