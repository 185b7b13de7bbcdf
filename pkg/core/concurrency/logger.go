package concurrency

import (
	"fmt"
	"log"
	"os"
)

// ErrorLogger is the minimal logger Spawn needs. core.Logger satisfies it;
// keeping it local avoids an import of core from this package.
type ErrorLogger interface {
	Errorf(format string, args ...interface{})
}

// defaultErrorLogger implements ErrorLogger using standard log
type defaultErrorLogger struct {
	logger *log.Logger
}

func newDefaultErrorLogger() ErrorLogger {
	return &defaultErrorLogger{
		logger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultErrorLogger) Errorf(format string, args ...interface{}) {
	l.logger.Output(3, fmt.Sprintf(format, args...))
}
