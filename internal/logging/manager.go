package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// LoggerManager выдаёт логгеры компонентов хранилища (stream, paging).
// Пока файлы не включены через Configure, логгеры пишут в общий writer.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger

	files        bool
	out          io.Writer
	consoleLevel LogLevel
	fileLevel    LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// NewLoggerManager создаёт менеджер, пишущий в out без файлов
func NewLoggerManager(out io.Writer, level LogLevel) *LoggerManager {
	return &LoggerManager{
		loggers:      make(map[string]*Logger),
		out:          out,
		consoleLevel: level,
		fileLevel:    TRACE,
	}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = NewLoggerManager(os.Stdout, INFO)
	})
	return globalManager
}

// Configure задаёт уровни и включает или выключает файлы логов.
// Уровни уже выданных логгеров обновляются; способ вывода меняется
// только у создаваемых после вызова.
func (lm *LoggerManager) Configure(files bool, consoleLevel, fileLevel LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.files = files
	lm.consoleLevel = consoleLevel
	lm.fileLevel = fileLevel
	for _, logger := range lm.loggers {
		logger.SetLevels(consoleLevel, fileLevel)
	}
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	var logger *Logger
	if lm.files {
		var err error
		logger, err = NewLogger(component)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать логгер %s: %w", component, err)
		}
		logger.SetLevels(lm.consoleLevel, lm.fileLevel)
	} else {
		logger = NewWriterLogger(component, lm.out, lm.consoleLevel)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или создает fallback в stdout при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return NewWriterLogger(component, os.Stdout, INFO)
	}
	return logger
}

// CloseAll закрывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("не удалось закрыть логгер %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents возвращает отсортированный список компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("логгер компонента %s не найден", component)
	}

	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

// GetComponentLogger возвращает логгер компонента из глобального менеджера
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

// GetStreamLogger возвращает логгер хранилищ блоков
func GetStreamLogger() *Logger {
	return GetComponentLogger("stream")
}

// GetPagingLogger возвращает логгер загрузчика
func GetPagingLogger() *Logger {
	return GetComponentLogger("paging")
}
