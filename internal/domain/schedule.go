package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind — вариант расписания job.
type ScheduleKind string

const (
	// ScheduleInterval — запуск каждые EveryMs миллисекунд.
	ScheduleInterval ScheduleKind = "interval"

	// ScheduleOnce — однократный запуск в момент At.
	ScheduleOnce ScheduleKind = "once"

	// ScheduleCron — запуск по cron-выражению.
	ScheduleCron ScheduleKind = "cron"
)

// ErrInvalidSchedule — расписание некорректно.
var ErrInvalidSchedule = errors.New("invalid schedule")

// cronParser — парсер cron-выражений.
// Формат: "минуты часы дни месяцы дни_недели", допускается префикс CRON_TZ=.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule — расписание job.
//
// Примеры:
//
//	{"kind": "interval", "every_ms": 60000}
//	{"kind": "once", "at": "2026-01-01T09:00:00Z"}
//	{"kind": "cron", "expr": "0 9 * * *", "timezone": "Europe/Moscow"}
type Schedule struct {
	// Kind — вариант расписания.
	Kind ScheduleKind `json:"kind"`

	// EveryMs — интервал в миллисекундах (только для interval).
	EveryMs int64 `json:"every_ms,omitempty"`

	// At — момент запуска (только для once). Нулевое значение — "сразу".
	At time.Time `json:"at,omitempty"`

	// Expr — cron-выражение (только для cron).
	Expr string `json:"expr,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Every возвращает интервал как time.Duration.
func (s Schedule) Every() time.Duration {
	return time.Duration(s.EveryMs) * time.Millisecond
}

// IsRecurring возвращает true для interval и cron.
func (s Schedule) IsRecurring() bool {
	return s.Kind == ScheduleInterval || s.Kind == ScheduleCron
}

// Validate проверяет корректность расписания.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleInterval:
		if s.EveryMs <= 0 {
			return fmt.Errorf("%w: every_ms must be positive", ErrInvalidSchedule)
		}
	case ScheduleOnce:
		return nil
	case ScheduleCron:
		if _, err := s.parseCron(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

// Initial вычисляет первое время запуска для нового job.
//
// interval запускается сразу, once — в момент At (или сразу, если At не задан),
// cron — в ближайший момент после now.
func (s Schedule) Initial(now time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleInterval:
		if err := s.Validate(); err != nil {
			return time.Time{}, err
		}
		return now, nil
	case ScheduleOnce:
		if s.At.IsZero() {
			return now, nil
		}
		return s.At.UTC(), nil
	case ScheduleCron:
		return s.nextCron(now)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// Next вычисляет следующее время запуска после успешного выполнения.
//
// Интервал отсчитывается от now, а не от предыдущего next_run_at:
// после простоя пропущенные запуски не накапливаются.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleInterval:
		if s.EveryMs <= 0 {
			return time.Time{}, fmt.Errorf("%w: every_ms must be positive", ErrInvalidSchedule)
		}
		return now.Add(s.Every()), nil
	case ScheduleCron:
		return s.nextCron(now)
	case ScheduleOnce:
		return time.Time{}, fmt.Errorf("%w: once schedule has no next run", ErrInvalidSchedule)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// nextCron вычисляет следующее время по cron-выражению с учётом timezone.
func (s Schedule) nextCron(from time.Time) (time.Time, error) {
	sched, err := s.parseCron()
	if err != nil {
		return time.Time{}, err
	}

	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
		}
		loc = l
	}

	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: cron expression %q never fires", ErrInvalidSchedule, s.Expr)
	}
	return next.UTC(), nil
}

func (s Schedule) parseCron() (cron.Schedule, error) {
	if s.Expr == "" {
		return nil, fmt.Errorf("%w: cron expression is required", ErrInvalidSchedule)
	}
	sched, err := cronParser.Parse(s.Expr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse cron expression %q: %v", ErrInvalidSchedule, s.Expr, err)
	}
	return sched, nil
}
