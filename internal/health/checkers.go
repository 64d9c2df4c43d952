package health

import (
	"context"
	"time"
)

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	return result(c.name, err, time.Since(start))
}

// Pinger — зависимость с проверкой соединения: *sql.DB, Redis-кэш, хранилище.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker проверяет зависимость вызовом Ping с ограничением по времени.
type PingChecker struct {
	name    string
	target  Pinger
	timeout time.Duration
}

// NewPingChecker создаёт проверку. Нулевой timeout заменяется секундой.
func NewPingChecker(name string, target Pinger, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &PingChecker{name: name, target: target, timeout: timeout}
}

// Check выполняет Ping.
func (c *PingChecker) Check() Check {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	err := c.target.Ping(ctx)
	return result(c.name, err, time.Since(start))
}

func result(name string, err error, elapsed time.Duration) Check {
	check := Check{Name: name, Status: StatusHealthy, DurationMs: elapsed.Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
