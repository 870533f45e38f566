package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrDatabaseTypeUnknown      = errors.New("database type unknown")
	ErrDatabaseIsDisabled       = errors.New("database is disabled")
	ErrDatabaseCollectionExists = errors.New("collection already exists")
	ErrDatabaseNameInvalid      = errors.New("database or collection name invalid")
	ErrPipelineStageUnknown     = errors.New("pipeline stage unknown")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidID        = errors.New("invalid document id")
	ErrEmptyBody        = errors.New("empty body")
	ErrNotFound         = errors.New("document not found")
	ErrConflict         = errors.New("duplicate key conflict")
	ErrUnavailable      = errors.New("datastore unavailable")
	ErrInternalError    = errors.New("internal error")
)

var (
	ErrOrderStatusInvalid = errors.New("order status invalid")
	ErrStockAdjustFailed  = errors.New("stock adjustment failed")
)

var (
	ErrEventHubClosed     = errors.New("event hub closed")
	ErrEventPublishFailed = errors.New("event publish failed")
)

var (
	ErrCronJobExists      = errors.New("cron job exists")
	ErrCronJobNameIsEmpty = errors.New("cron job name is empty")
	ErrCronJobIsNil       = errors.New("cron job is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewError(message string) error {
	return errors.New(message)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
