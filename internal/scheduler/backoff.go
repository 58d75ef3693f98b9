package scheduler

import "time"

const (
	backoffBase = time.Second
	backoffMax  = 5 * time.Minute
)

// Backoff возвращает задержку перед retry после attempts неудачных попыток.
//
// 1s, 2s, 4s, ... с потолком 5m. Не убывает по attempts.
func Backoff(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}
